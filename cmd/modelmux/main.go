// Command modelmux is a small CLI for one-shot completions against any
// configured provider.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/modelmux/modelmux"
	"github.com/modelmux/modelmux/utils"
)

type cmdFlags struct {
	provider     string
	model        string
	apiKey       string
	systemPrompt string
	logLevel     string
	temperature  float64
	maxTokens    int
	maxRetries   int
	timeout      time.Duration
	retryDelay   time.Duration
	stream       bool
}

func parseFlags() *cmdFlags {
	flags := &cmdFlags{}
	flag.StringVar(&flags.provider, "provider", "", "LLM provider (openai, deepseek, gemini, ollama)")
	flag.StringVar(&flags.model, "model", "", "LLM model")
	flag.StringVar(&flags.apiKey, "api-key", "", "API key for the specified provider")
	flag.StringVar(&flags.systemPrompt, "system", "", "System prompt")
	flag.StringVar(&flags.logLevel, "log-level", "warn", "Log level (off, error, warn, info, debug)")
	flag.Float64Var(&flags.temperature, "temperature", -1, "Sampling temperature")
	flag.IntVar(&flags.maxTokens, "max-tokens", 0, "Maximum output tokens")
	flag.IntVar(&flags.maxRetries, "max-retries", 3, "Maximum number of retries for API calls")
	flag.DurationVar(&flags.timeout, "timeout", 0, "Request timeout")
	flag.DurationVar(&flags.retryDelay, "retry-delay", 2*time.Second, "Delay between retries")
	flag.BoolVar(&flags.stream, "stream", false, "Stream the response token by token")
	flag.Parse()
	return flags
}

func buildOptions(flags *cmdFlags) ([]modelmux.ConfigOption, error) {
	opts := []modelmux.ConfigOption{
		modelmux.SetMaxRetries(flags.maxRetries),
		modelmux.SetRetryDelay(flags.retryDelay),
	}
	if flags.provider != "" {
		opts = append(opts, modelmux.SetProvider(flags.provider))
	}
	if flags.model != "" {
		opts = append(opts, modelmux.SetModel(flags.model))
	}
	if flags.apiKey != "" {
		opts = append(opts, modelmux.SetAPIKey(flags.apiKey))
	}
	if flags.systemPrompt != "" {
		opts = append(opts, modelmux.SetSystemPrompt(flags.systemPrompt))
	}
	if flags.temperature >= 0 {
		opts = append(opts, modelmux.SetTemperature(flags.temperature))
	}
	if flags.maxTokens > 0 {
		opts = append(opts, modelmux.SetMaxTokens(flags.maxTokens))
	}
	if flags.timeout > 0 {
		opts = append(opts, modelmux.SetTimeout(flags.timeout))
	}

	var level utils.LogLevel
	if err := level.UnmarshalText([]byte(flags.logLevel)); err != nil {
		return nil, err
	}
	opts = append(opts, modelmux.SetLogLevel(level))
	return opts, nil
}

func main() {
	flags := parseFlags()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: modelmux [flags] <prompt>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	promptText := strings.Join(flag.Args(), " ")

	opts, err := buildOptions(flags)
	if err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	client, err := modelmux.New(opts...)
	if err != nil {
		log.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	prompt := modelmux.NewPrompt(promptText)

	if flags.stream {
		stream, err := client.Stream(ctx, prompt)
		if err != nil {
			log.Fatalf("stream failed: %v", err)
		}
		defer stream.Close()
		for {
			token, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				log.Fatalf("stream read failed: %v", err)
			}
			if token.Type == "text" {
				fmt.Print(token.Text)
			}
		}
		fmt.Println()
		return
	}

	response, err := client.Generate(ctx, prompt)
	if err != nil {
		log.Fatalf("generation failed: %v", err)
	}
	fmt.Println(response)
}
