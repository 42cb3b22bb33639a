package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelmux/modelmux/config"
	"github.com/modelmux/modelmux/providers"
	"github.com/modelmux/modelmux/types"
	"github.com/modelmux/modelmux/utils"
)

// recordingServer captures every request body it receives and replies 200.
type recordingServer struct {
	server *httptest.Server
	mutex  sync.Mutex
	bodies []string
}

func newRecordingServer(t *testing.T) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rs.mutex.Lock()
		rs.bodies = append(rs.bodies, string(body))
		rs.mutex.Unlock()
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(rs.server.Close)
	return rs
}

func (rs *recordingServer) body(i int) string {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()
	return rs.bodies[i]
}

func (rs *recordingServer) count() int {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()
	return len(rs.bodies)
}

func newTestClient(t *testing.T, endpoint string) (*Client, *providers.MockProvider) {
	t.Helper()

	mock := providers.NewMockProvider(endpoint, "mock-model", nil)
	tools, err := NewToolRegistry(2, utils.NewLogger(utils.LogLevelOff))
	require.NoError(t, err)

	c := &Client{
		Provider:          mock,
		Options:           make(map[string]any),
		client:            &http.Client{},
		streamClient:      &http.Client{},
		logger:            utils.NewLogger(utils.LogLevelOff),
		config:            config.NewConfig(),
		tools:             tools,
		MaxRetries:        0,
		RetryDelay:        time.Millisecond,
		MaxToolIterations: 5,
	}
	t.Cleanup(c.Close)
	return c, mock
}

func TestNewClient(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Provider = "mock"
	cfg.EnableCaching = true
	cfg.RateLimit = 100

	client, err := NewClient(cfg, utils.NewLogger(utils.LogLevelOff), providers.NewRegistry())
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, "mock", client.Provider.Name())
	assert.NotNil(t, client.cache)
	assert.NotNil(t, client.limiter)
	assert.Equal(t, cfg.MaxRetries, client.MaxRetries)
}

func TestNewClientUnknownProvider(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Provider = "nope"

	_, err := NewClient(cfg, utils.NewLogger(utils.LogLevelOff), providers.NewRegistry())
	require.Error(t, err)

	var llmErr *LLMError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrorTypeProvider, llmErr.Type)
}

func TestGenerate(t *testing.T) {
	rs := newRecordingServer(t)
	client, mock := newTestClient(t, rs.server.URL)
	mock.SetResponses(&providers.Response{Content: "hello", Done: true})

	resp, err := client.Generate(context.Background(), providers.NewRequestBuilder().WithPrompt("hi").Build())
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 1, rs.count())
}

func TestGeneratePrompt(t *testing.T) {
	rs := newRecordingServer(t)
	client, mock := newTestClient(t, rs.server.URL)
	client.config.SystemPrompt = "Be brief."
	mock.SetResponses(&providers.Response{Content: "hello", Done: true})

	out, err := client.GeneratePrompt(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Contains(t, rs.body(0), "Be brief.")
}

func TestGenerateToolLoop(t *testing.T) {
	rs := newRecordingServer(t)
	client, mock := newTestClient(t, rs.server.URL)

	client.tools.Register("add", "Add two numbers", map[string]any{"type": "object"},
		func(ctx context.Context, args json.RawMessage) (string, error) {
			var parsed struct{ A, B int }
			if err := json.Unmarshal(args, &parsed); err != nil {
				return "", err
			}
			return fmt.Sprintf("%d", parsed.A+parsed.B), nil
		})

	mock.SetResponses(
		&providers.Response{
			ToolCalls: []types.ToolCall{providers.MockToolCall("call_1", "add", map[string]any{"A": 2, "B": 3})},
			Usage:     providers.NewUsage(10, 0, 5, 0),
		},
		&providers.Response{
			Content: "The sum is 5.",
			Done:    true,
			Usage:   providers.NewUsage(20, 0, 7, 0),
		},
	)

	resp, err := client.Generate(context.Background(), providers.NewRequestBuilder().WithPrompt("2+3?").Build())
	require.NoError(t, err)
	assert.Equal(t, "The sum is 5.", resp.Content)

	// Usage accumulates across both turns.
	require.NotNil(t, resp.Usage)
	assert.Equal(t, int64(30), resp.Usage.InputTokens)
	assert.Equal(t, int64(12), resp.Usage.OutputTokens)

	// The follow-up request carries the assistant's tool call and the tool
	// result message.
	require.Equal(t, 2, rs.count())
	followUp := rs.body(1)
	assert.Contains(t, followUp, `"role":"assistant"`)
	assert.Contains(t, followUp, `"role":"tool"`)
	assert.Contains(t, followUp, `"tool_call_id":"call_1"`)
	assert.Contains(t, followUp, `"name":"add"`)
}

func TestGenerateToolLoopCallerRequestUntouched(t *testing.T) {
	rs := newRecordingServer(t)
	client, mock := newTestClient(t, rs.server.URL)

	client.tools.Register("noop", "", nil, func(ctx context.Context, args json.RawMessage) (string, error) {
		return "ok", nil
	})
	mock.SetResponses(
		&providers.Response{ToolCalls: []types.ToolCall{providers.MockToolCall("c1", "noop", nil)}},
		&providers.Response{Content: "done", Done: true},
	)

	req := providers.NewRequestBuilder().WithPrompt("hi").Build()
	_, err := client.Generate(context.Background(), req)
	require.NoError(t, err)

	// The tool loop appends to a clone; the caller's request stays at one
	// message.
	assert.Len(t, req.Messages, 1)
}

func TestGenerateReturnDirect(t *testing.T) {
	rs := newRecordingServer(t)
	client, mock := newTestClient(t, rs.server.URL)

	client.tools.Register("handoff", "", nil, func(ctx context.Context, args json.RawMessage) (string, error) {
		return "raw tool output", nil
	}, WithReturnDirect())

	mock.SetResponses(&providers.Response{
		ToolCalls: []types.ToolCall{providers.MockToolCall("c1", "handoff", nil)},
	})

	resp, err := client.Generate(context.Background(), providers.NewRequestBuilder().WithPrompt("go").Build())
	require.NoError(t, err)
	assert.Equal(t, "raw tool output", resp.Content)
	assert.Equal(t, "tool_return_direct", resp.FinishReason)
	// No follow-up model turn happens.
	assert.Equal(t, 1, rs.count())
}

func TestGenerateToolLoopBound(t *testing.T) {
	rs := newRecordingServer(t)
	client, mock := newTestClient(t, rs.server.URL)
	client.MaxToolIterations = 1

	client.tools.Register("spin", "", nil, func(ctx context.Context, args json.RawMessage) (string, error) {
		return "again", nil
	})

	// The model keeps asking for the tool on every turn.
	mock.SetResponses(
		&providers.Response{ToolCalls: []types.ToolCall{providers.MockToolCall("c1", "spin", nil)}},
		&providers.Response{ToolCalls: []types.ToolCall{providers.MockToolCall("c2", "spin", nil)}},
	)

	_, err := client.Generate(context.Background(), providers.NewRequestBuilder().WithPrompt("go").Build())
	require.Error(t, err)

	var llmErr *LLMError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrorTypeToolLoop, llmErr.Type)
	assert.Equal(t, 2, rs.count())
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	client, mock := newTestClient(t, server.URL)
	client.MaxRetries = 2
	mock.SetResponses(&providers.Response{Content: "recovered", Done: true})

	resp, err := client.Generate(context.Background(), providers.NewRequestBuilder().WithPrompt("hi").Build())
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client, _ := newTestClient(t, server.URL)
	client.MaxRetries = 2

	_, err := client.Generate(context.Background(), providers.NewRequestBuilder().WithPrompt("hi").Build())
	require.Error(t, err)

	var llmErr *LLMError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrorTypeAPI, llmErr.Type)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerateAuthenticationIsTerminal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	client, _ := newTestClient(t, server.URL)
	client.MaxRetries = 3

	_, err := client.Generate(context.Background(), providers.NewRequestBuilder().WithPrompt("hi").Build())
	require.Error(t, err)

	var llmErr *LLMError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrorTypeAuthentication, llmErr.Type)
	// No retries on auth failures.
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateRateLimitIsRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	client, mock := newTestClient(t, server.URL)
	client.MaxRetries = 1
	mock.SetResponses(&providers.Response{Content: "ok", Done: true})

	resp, err := client.Generate(context.Background(), providers.NewRequestBuilder().WithPrompt("hi").Build())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateCaching(t *testing.T) {
	rs := newRecordingServer(t)
	client, mock := newTestClient(t, rs.server.URL)

	cache, err := NewResponseCache(8)
	require.NoError(t, err)
	client.cache = cache

	// Only one response is scripted; the second call must come from cache
	// or the mock queue would be exhausted.
	mock.SetResponses(&providers.Response{Content: "cached answer", Done: true})

	req := providers.NewRequestBuilder().WithPrompt("same question").Build()

	first, err := client.Generate(context.Background(), req)
	require.NoError(t, err)
	second, err := client.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "cached answer", first.Content)
	assert.Equal(t, "cached answer", second.Content)
	assert.Equal(t, 1, rs.count())
}

func TestGenerateWithSchema(t *testing.T) {
	type person struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}

	rs := newRecordingServer(t)
	client, mock := newTestClient(t, rs.server.URL)
	mock.SetResponses(&providers.Response{Content: `{"name":"Ada","age":36}`, Done: true})

	req := providers.NewRequestBuilder().WithPrompt("Describe Ada.").Build()
	resp, err := client.GenerateWithSchema(context.Background(), req, person{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ada","age":36}`, resp.Content)

	// The mock supports native schemas, so the schema travels in the
	// request rather than the prompt.
	assert.Contains(t, rs.body(0), `"response_schema"`)
}

func TestGenerateWithSchemaInvalidOutput(t *testing.T) {
	type person struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}

	rs := newRecordingServer(t)
	client, mock := newTestClient(t, rs.server.URL)
	mock.SetResponses(&providers.Response{Content: `{"name":"Ada"}`, Done: true})

	req := providers.NewRequestBuilder().WithPrompt("Describe Ada.").Build()
	_, err := client.GenerateWithSchema(context.Background(), req, person{})
	require.Error(t, err)

	var llmErr *LLMError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrorTypeResponse, llmErr.Type)
	assert.Equal(t, 1, rs.count())
}

func TestSetOption(t *testing.T) {
	rs := newRecordingServer(t)
	client, mock := newTestClient(t, rs.server.URL)
	client.SetOption("temperature", 0.1)
	mock.SetResponses(&providers.Response{Content: "ok", Done: true})

	_, err := client.Generate(context.Background(), providers.NewRequestBuilder().WithPrompt("hi").Build())
	require.NoError(t, err)
	assert.Contains(t, rs.body(0), `"temperature":0.1`)
}
