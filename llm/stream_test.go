package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelmux/modelmux/config"
	"github.com/modelmux/modelmux/providers"
	"github.com/modelmux/modelmux/types"
	"github.com/modelmux/modelmux/utils"
)

func collectText(t *testing.T, stream TokenStream) string {
	t.Helper()
	var sb strings.Builder
	for {
		token, err := stream.Next(context.Background())
		if err == io.EOF {
			return sb.String()
		}
		require.NoError(t, err)
		if token.Type == "text" {
			sb.WriteString(token.Text)
		}
	}
}

func TestStreamNDJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprint(w, "hel\nlo\n[DONE]\n")
	}))
	t.Cleanup(server.Close)

	client, _ := newTestClient(t, server.URL)

	stream, err := client.Stream(context.Background(), providers.NewRequestBuilder().WithPrompt("hi").Build())
	require.NoError(t, err)
	defer stream.Close()

	token, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hel", token.Text)
	assert.Equal(t, "text", token.Type)
	assert.Equal(t, 0, token.Index)

	token, err = stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "lo", token.Text)
	assert.Equal(t, 1, token.Index)

	_, err = stream.Next(context.Background())
	assert.Equal(t, io.EOF, err)

	// A closed stream keeps returning EOF.
	_, err = stream.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestStreamSSE(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: foo\n\ndata: bar\n\ndata: [DONE]\n\n")
	}))
	t.Cleanup(server.Close)

	client, _ := newTestClient(t, server.URL)

	stream, err := client.Stream(context.Background(), providers.NewRequestBuilder().WithPrompt("hi").Build())
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, "foobar", collectText(t, stream))
}

func TestStreamOpenRetries(t *testing.T) {
	var calls int
	var mutex sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mutex.Lock()
		calls++
		first := calls == 1
		mutex.Unlock()
		if first {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: ok\n\ndata: [DONE]\n\n")
	}))
	t.Cleanup(server.Close)

	client, _ := newTestClient(t, server.URL)
	client.MaxRetries = 1

	stream, err := client.Stream(context.Background(), providers.NewRequestBuilder().WithPrompt("hi").Build())
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, "ok", collectText(t, stream))

	mutex.Lock()
	defer mutex.Unlock()
	assert.Equal(t, 2, calls)
}

func TestStreamHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client, _ := newTestClient(t, server.URL)

	_, err := client.Stream(context.Background(), providers.NewRequestBuilder().WithPrompt("hi").Build())
	require.Error(t, err)

	var llmErr *LLMError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrorTypeAPI, llmErr.Type)
}

// scriptedStreamProvider speaks a tiny JSON chunk format so stream tests can
// script tool-call turns: {"text": ...} or {"call": {"id", "name", "args"}}.
type scriptedStreamProvider struct {
	endpoint  string
	canStream bool
}

func (p *scriptedStreamProvider) Name() string           { return "scripted" }
func (p *scriptedStreamProvider) Endpoint() string       { return p.endpoint }
func (p *scriptedStreamProvider) StreamEndpoint() string { return p.endpoint }
func (p *scriptedStreamProvider) Headers() map[string]string {
	return map[string]string{"Content-Type": "application/json"}
}
func (p *scriptedStreamProvider) SetExtraHeaders(map[string]string) {}
func (p *scriptedStreamProvider) SetDefaultOptions(*config.Config)  {}
func (p *scriptedStreamProvider) SetOption(string, any)             {}
func (p *scriptedStreamProvider) SetLogger(utils.Logger)            {}
func (p *scriptedStreamProvider) SupportsStreaming() bool           { return p.canStream }
func (p *scriptedStreamProvider) SupportsToolCalling() bool         { return true }
func (p *scriptedStreamProvider) SupportsJSONSchema() bool          { return false }

func (p *scriptedStreamProvider) PrepareRequest(req *providers.Request, _ map[string]any) ([]byte, error) {
	return json.Marshal(req)
}

func (p *scriptedStreamProvider) PrepareStreamRequest(req *providers.Request, options map[string]any) ([]byte, error) {
	return p.PrepareRequest(req, options)
}

func (p *scriptedStreamProvider) ParseResponse(body []byte) (*providers.Response, error) {
	return p.ParseStreamResponse(body)
}

func (p *scriptedStreamProvider) ParseStreamResponse(chunk []byte) (*providers.Response, error) {
	if string(chunk) == "[DONE]" {
		return nil, io.EOF
	}
	var payload struct {
		Text string `json:"text"`
		Call *struct {
			ID   string          `json:"id"`
			Name string          `json:"name"`
			Args json.RawMessage `json:"args"`
		} `json:"call"`
	}
	if err := json.Unmarshal(chunk, &payload); err != nil {
		return nil, err
	}
	resp := &providers.Response{Content: payload.Text}
	if payload.Call != nil {
		resp.ToolCalls = append(resp.ToolCalls,
			types.NewToolCall(payload.Call.ID, payload.Call.Name, payload.Call.Args))
	}
	return resp, nil
}

func newScriptedClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	tools, err := NewToolRegistry(2, utils.NewLogger(utils.LogLevelOff))
	require.NoError(t, err)

	c := &Client{
		Provider:          &scriptedStreamProvider{endpoint: endpoint, canStream: true},
		Options:           make(map[string]any),
		client:            &http.Client{},
		streamClient:      &http.Client{},
		logger:            utils.NewLogger(utils.LogLevelOff),
		config:            config.NewConfig(),
		tools:             tools,
		RetryDelay:        time.Millisecond,
		MaxToolIterations: 5,
	}
	t.Cleanup(c.Close)
	return c
}

func TestStreamToolRecursion(t *testing.T) {
	var mutex sync.Mutex
	var bodies []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mutex.Lock()
		bodies = append(bodies, string(body))
		turn := len(bodies)
		mutex.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		if turn == 1 {
			fmt.Fprint(w, "data: {\"call\":{\"id\":\"c1\",\"name\":\"lookup\",\"args\":{\"q\":\"x\"}}}\n\ndata: [DONE]\n\n")
			return
		}
		fmt.Fprint(w, "data: {\"text\":\"answer \"}\n\ndata: {\"text\":\"42\"}\n\ndata: [DONE]\n\n")
	}))
	t.Cleanup(server.Close)

	client := newScriptedClient(t, server.URL)
	client.tools.Register("lookup", "", nil, func(ctx context.Context, args json.RawMessage) (string, error) {
		return "42", nil
	})

	stream, err := client.Stream(context.Background(), providers.NewRequestBuilder().WithPrompt("question").Build())
	require.NoError(t, err)
	defer stream.Close()

	// The tool turn streams no text; the follow-up turn's tokens flow
	// through the same stream.
	assert.Equal(t, "answer 42", collectText(t, stream))

	mutex.Lock()
	defer mutex.Unlock()
	require.Len(t, bodies, 2)
	assert.Contains(t, bodies[1], `"role":"assistant"`)
	assert.Contains(t, bodies[1], `"role":"tool"`)
	assert.Contains(t, bodies[1], `"tool_call_id":"c1"`)
}

func TestStreamReturnDirect(t *testing.T) {
	var calls int
	var mutex sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mutex.Lock()
		calls++
		mutex.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"call\":{\"id\":\"c1\",\"name\":\"handoff\",\"args\":{}}}\n\ndata: [DONE]\n\n")
	}))
	t.Cleanup(server.Close)

	client := newScriptedClient(t, server.URL)
	client.tools.Register("handoff", "", nil, func(ctx context.Context, args json.RawMessage) (string, error) {
		return "direct output", nil
	}, WithReturnDirect())

	stream, err := client.Stream(context.Background(), providers.NewRequestBuilder().WithPrompt("go").Build())
	require.NoError(t, err)
	defer stream.Close()

	token, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "direct output", token.Text)

	_, err = stream.Next(context.Background())
	assert.Equal(t, io.EOF, err)

	mutex.Lock()
	defer mutex.Unlock()
	assert.Equal(t, 1, calls)
}

func TestStreamToolLoopBound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"call\":{\"id\":\"c1\",\"name\":\"spin\",\"args\":{}}}\n\ndata: [DONE]\n\n")
	}))
	t.Cleanup(server.Close)

	client := newScriptedClient(t, server.URL)
	client.MaxToolIterations = 1
	client.tools.Register("spin", "", nil, func(ctx context.Context, args json.RawMessage) (string, error) {
		return "again", nil
	})

	stream, err := client.Stream(context.Background(), providers.NewRequestBuilder().WithPrompt("go").Build())
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Next(context.Background())
	require.Error(t, err)

	var llmErr *LLMError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrorTypeToolLoop, llmErr.Type)
}

func TestStreamUnsupportedProvider(t *testing.T) {
	tools, err := NewToolRegistry(1, utils.NewLogger(utils.LogLevelOff))
	require.NoError(t, err)
	t.Cleanup(tools.Close)

	client := &Client{
		Provider: &scriptedStreamProvider{canStream: false},
		Options:  make(map[string]any),
		logger:   utils.NewLogger(utils.LogLevelOff),
		config:   config.NewConfig(),
		tools:    tools,
	}

	_, err = client.Stream(context.Background(), providers.NewRequestBuilder().WithPrompt("hi").Build())
	require.Error(t, err)

	var llmErr *LLMError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrorTypeProvider, llmErr.Type)
}

func TestSSEDecoder(t *testing.T) {
	input := "event: message\ndata: first\n\n: a comment\ndata: second\n\ndata: trailing"
	decoder := NewSSEDecoder(strings.NewReader(input))

	require.True(t, decoder.Next())
	assert.Equal(t, "message", decoder.Event().Type)
	assert.Equal(t, "first", string(decoder.Event().Data))

	require.True(t, decoder.Next())
	assert.Equal(t, "second", string(decoder.Event().Data))

	// A final event without a terminating blank line is still dispatched.
	require.True(t, decoder.Next())
	assert.Equal(t, "trailing", string(decoder.Event().Data))

	assert.False(t, decoder.Next())
	assert.NoError(t, decoder.Err())
}

func TestSSEDecoderMultiLineData(t *testing.T) {
	input := "data: {\"a\":\ndata: 1}\n\n"
	decoder := NewSSEDecoder(strings.NewReader(input))

	require.True(t, decoder.Next())
	assert.Equal(t, `{"a":1}`, string(decoder.Event().Data))
}

func TestLineChunkDecoder(t *testing.T) {
	decoder := newLineChunkDecoder(strings.NewReader("one\n\n  \ntwo\n"))

	chunk, err := decoder.Next()
	require.NoError(t, err)
	assert.Equal(t, "one", string(chunk))

	chunk, err = decoder.Next()
	require.NoError(t, err)
	assert.Equal(t, "two", string(chunk))

	_, err = decoder.Next()
	assert.Equal(t, io.EOF, err)
}
