package llm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelmux/modelmux/providers"
)

// StreamToken is a single increment from a streaming response.
type StreamToken struct {
	// Text is the token text, empty for usage tokens.
	Text string

	// Type is "text" or "usage".
	Type string

	// Index is the position of this token in the overall stream, across
	// tool-loop continuations.
	Index int

	// Usage is set on usage tokens only.
	Usage *providers.Usage
}

// TokenStream is a pull-based stream of tokens. Next returns io.EOF once
// the model has produced its final answer, including any tool-loop
// continuation turns in between.
type TokenStream interface {
	Next(ctx context.Context) (*StreamToken, error)
	io.Closer
}

// Stream starts a streaming generation. Chunks are forwarded as they
// arrive; when a turn ends in tool calls, the tools run and the follow-up
// turn streams through the same TokenStream.
func (c *Client) Stream(ctx context.Context, req *providers.Request) (TokenStream, error) {
	if !c.Provider.SupportsStreaming() {
		return nil, NewLLMError(ErrorTypeProvider,
			fmt.Sprintf("provider %s does not support streaming", c.Provider.Name()), nil)
	}

	s := &tokenStream{
		client: c,
		req:    c.withTools(req),
		retry: &DefaultRetryStrategy{
			MaxRetries:  c.MaxRetries,
			InitialWait: c.RetryDelay,
			MaxWait:     30 * time.Second,
		},
	}
	if err := s.open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// chunkDecoder frames a response body into provider-parseable chunks.
type chunkDecoder interface {
	Next() ([]byte, error)
}

type tokenStream struct {
	client  *Client
	req     *providers.Request
	retry   RetryStrategy
	body    io.ReadCloser
	decoder chunkDecoder

	acc       *providers.ToolCallAccumulator
	turnText  strings.Builder
	iteration int
	index     int
	pending   *StreamToken
	closed    bool
}

// open establishes the connection for the current turn, retrying transient
// failures with exponential backoff.
func (s *tokenStream) open(ctx context.Context) error {
	s.retry.Reset()
	for {
		err := s.openOnce(ctx)
		if err == nil {
			return nil
		}
		if !s.retry.ShouldRetry(err) {
			return err
		}
		s.client.logger.Warn("Stream open failed, retrying",
			"provider", s.client.Provider.Name(), "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retry.NextDelay()):
		}
	}
}

// openOnce issues the HTTP request for the current turn and prepares
// decoding state. The chunk framing is chosen from the response content
// type: SSE for event streams, newline-delimited JSON otherwise.
func (s *tokenStream) openOnce(ctx context.Context) error {
	c := s.client

	if err := c.waitForRateLimit(ctx); err != nil {
		return err
	}

	reqBody, err := c.Provider.PrepareStreamRequest(s.req, c.Options)
	if err != nil {
		return NewLLMError(ErrorTypeRequest, "failed to prepare stream request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Provider.StreamEndpoint(), bytes.NewReader(reqBody))
	if err != nil {
		return NewLLMError(ErrorTypeRequest, "failed to create stream request", err)
	}
	for k, v := range c.Provider.Headers() {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return NewLLMError(ErrorTypeRequest, "failed to send stream request", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		c.logger.Error("API error on stream",
			"provider", c.Provider.Name(), "status", resp.StatusCode, "body", string(body))
		return errorFromStatus(resp.StatusCode, body)
	}

	s.body = resp.Body
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		s.decoder = newSSEChunkDecoder(resp.Body)
	} else {
		s.decoder = newLineChunkDecoder(resp.Body)
	}
	s.acc = providers.NewToolCallAccumulator()
	s.turnText.Reset()
	return nil
}

func (s *tokenStream) Next(ctx context.Context) (*StreamToken, error) {
	if s.closed {
		return nil, io.EOF
	}
	if s.pending != nil {
		token := s.pending
		s.pending = nil
		return token, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunk, err := s.decoder.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return s.finishTurn(ctx)
			}
			return nil, NewLLMError(ErrorTypeResponse, "stream read failed", err)
		}

		resp, perr := s.client.Provider.ParseStreamResponse(chunk)
		if perr != nil {
			if errors.Is(perr, providers.ErrSkipChunk) {
				continue
			}
			if errors.Is(perr, io.EOF) {
				return s.finishTurn(ctx)
			}
			return nil, NewLLMError(ErrorTypeResponse, "failed to parse stream chunk", perr)
		}

		s.acc.AddResponse(resp)

		if resp.Usage != nil {
			token := &StreamToken{Type: "usage", Index: s.index, Usage: resp.Usage}
			s.index++
			return token, nil
		}
		if resp.Content != "" {
			s.turnText.WriteString(resp.Content)
			token := &StreamToken{Text: resp.Content, Type: "text", Index: s.index}
			s.index++
			return token, nil
		}
		// Chunk carried only tool-call deltas or a finish marker.
	}
}

// finishTurn closes out the current model turn. When the turn requested
// tool execution the tools run here and the stream silently continues with
// the follow-up turn; otherwise the stream ends.
func (s *tokenStream) finishTurn(ctx context.Context) (*StreamToken, error) {
	calls := s.acc.Calls()
	if len(calls) == 0 || s.client.tools.Len() == 0 {
		s.Close()
		return nil, io.EOF
	}

	if s.iteration >= s.client.MaxToolIterations {
		s.Close()
		return nil, NewLLMError(ErrorTypeToolLoop,
			fmt.Sprintf("tool loop did not converge after %d iterations", s.client.MaxToolIterations), nil)
	}
	s.iteration++

	s.client.logger.Debug("Stream turn requested tool execution",
		"provider", s.client.Provider.Name(), "calls", len(calls), "iteration", s.iteration)

	results := s.client.tools.Execute(ctx, calls)

	if s.client.tools.IsReturnDirect(calls) {
		s.pending = &StreamToken{Text: joinResults(results), Type: "text", Index: s.index}
		s.index++
		s.closeBody()
		s.closed = true
		token := s.pending
		s.pending = nil
		return token, nil
	}

	turn := &providers.Response{Content: s.turnText.String(), ToolCalls: calls}
	s.req = appendToolExchange(s.req, turn, results)

	s.closeBody()
	if err := s.open(ctx); err != nil {
		s.closed = true
		return nil, err
	}
	return s.Next(ctx)
}

func (s *tokenStream) closeBody() {
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
}

func (s *tokenStream) Close() error {
	s.closeBody()
	s.closed = true
	return nil
}

// sseChunkDecoder frames Server-Sent Events and yields each event's data
// payload.
type sseChunkDecoder struct {
	decoder *SSEDecoder
}

func newSSEChunkDecoder(r io.Reader) *sseChunkDecoder {
	return &sseChunkDecoder{decoder: NewSSEDecoder(r)}
}

func (d *sseChunkDecoder) Next() ([]byte, error) {
	for d.decoder.Next() {
		data := bytes.TrimSpace(d.decoder.Event().Data)
		if len(data) == 0 {
			continue
		}
		return data, nil
	}
	if err := d.decoder.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// lineChunkDecoder frames newline-delimited JSON (Ollama's stream format).
type lineChunkDecoder struct {
	scanner *bufio.Scanner
}

func newLineChunkDecoder(r io.Reader) *lineChunkDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &lineChunkDecoder{scanner: scanner}
}

func (d *lineChunkDecoder) Next() ([]byte, error) {
	for d.scanner.Scan() {
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// SSEDecoder handles Server-Sent Events framing.
type SSEDecoder struct {
	reader  *bufio.Scanner
	current Event
	err     error
}

type Event struct {
	Type string
	Data []byte
}

func NewSSEDecoder(reader io.Reader) *SSEDecoder {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &SSEDecoder{
		reader: scanner,
	}
}

func (d *SSEDecoder) Next() bool {
	if d.err != nil {
		return false
	}

	event := ""
	data := bytes.NewBuffer(nil)

	for d.reader.Scan() {
		line := d.reader.Bytes()

		// Dispatch event on empty line
		if len(line) == 0 {
			if data.Len() == 0 && event == "" {
				continue
			}
			d.current = Event{
				Type: event,
				Data: data.Bytes(),
			}
			return true
		}

		// Split "field: value" into parts
		name, value, _ := bytes.Cut(line, []byte(":"))

		// Remove optional space after colon
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}

		switch string(name) {
		case "":
			continue // Skip comments
		case "event":
			event = string(value)
		case "data":
			data.Write(value)
		}
	}
	d.err = d.reader.Err()

	// Dispatch a final event that was not newline-terminated.
	if data.Len() > 0 || event != "" {
		d.current = Event{Type: event, Data: data.Bytes()}
		return true
	}
	return false
}

func (d *SSEDecoder) Event() Event {
	return d.current
}

func (d *SSEDecoder) Err() error {
	return d.err
}
