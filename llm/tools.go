package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/modelmux/modelmux/schema"
	"github.com/modelmux/modelmux/types"
	"github.com/modelmux/modelmux/utils"
)

// ToolHandler executes one tool call. The raw JSON arguments come straight
// from the model; the handler owns decoding and validation.
type ToolHandler func(ctx context.Context, arguments json.RawMessage) (string, error)

// registeredTool pairs a tool definition with its handler.
type registeredTool struct {
	definition   types.Tool
	handler      ToolHandler
	returnDirect bool
}

// ToolRegistry holds the tools offered to the model and executes batches of
// tool calls on a shared worker pool. It is safe for concurrent use.
type ToolRegistry struct {
	tools  map[string]registeredTool
	pool   *ants.Pool
	logger utils.Logger
	mutex  sync.RWMutex
}

// NewToolRegistry creates a registry with a worker pool of the given size.
func NewToolRegistry(workers int, logger utils.Logger) (*ToolRegistry, error) {
	if workers < 1 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool worker pool: %w", err)
	}
	return &ToolRegistry{
		tools:  make(map[string]registeredTool),
		pool:   pool,
		logger: logger,
	}, nil
}

// Close releases the worker pool.
func (r *ToolRegistry) Close() {
	r.pool.Release()
}

// ToolOption configures a tool registration.
type ToolOption func(*registeredTool)

// WithReturnDirect makes the tool's output the final response instead of
// feeding it back to the model for another turn.
func WithReturnDirect() ToolOption {
	return func(t *registeredTool) {
		t.returnDirect = true
	}
}

// Register adds a tool with an explicit parameters schema.
func (r *ToolRegistry) Register(name, description string, parameters map[string]any, handler ToolHandler, opts ...ToolOption) {
	tool := registeredTool{
		definition: types.Tool{
			Type: "function",
			Function: types.Function{
				Name:        name,
				Description: description,
				Parameters:  parameters,
			},
		},
		handler: handler,
	}
	for _, opt := range opts {
		opt(&tool)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.tools[name] = tool
}

// RegisterWithStruct reflects the parameters schema from an argument struct.
func (r *ToolRegistry) RegisterWithStruct(name, description string, argsExample any, handler ToolHandler, opts ...ToolOption) error {
	parameters, err := schema.Generate(argsExample)
	if err != nil {
		return fmt.Errorf("failed to generate schema for tool %q: %w", name, err)
	}
	r.Register(name, description, parameters, handler, opts...)
	return nil
}

// Definitions returns the tool definitions to advertise in requests.
func (r *ToolRegistry) Definitions() []types.Tool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	defs := make([]types.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.definition)
	}
	return defs
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.tools)
}

// IsReturnDirect reports whether any of the given calls targets a tool
// registered with WithReturnDirect.
func (r *ToolRegistry) IsReturnDirect(calls []types.ToolCall) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, call := range calls {
		if t, ok := r.tools[call.GetName()]; ok && t.returnDirect {
			return true
		}
	}
	return false
}

// Execute runs a batch of tool calls on the worker pool and returns their
// results in call order, regardless of completion order. A failing handler
// produces an error result rather than failing the batch; the model sees
// the error text and can recover.
func (r *ToolRegistry) Execute(ctx context.Context, calls []types.ToolCall) []types.ToolResult {
	results := make([]types.ToolResult, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		i, call := i, call
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i] = r.executeOne(ctx, call)
		}
		if err := r.pool.Submit(task); err != nil {
			// Pool rejected the task (released or overloaded); run inline.
			task()
		}
	}

	wg.Wait()
	return results
}

func (r *ToolRegistry) executeOne(ctx context.Context, call types.ToolCall) types.ToolResult {
	r.mutex.RLock()
	tool, ok := r.tools[call.GetName()]
	r.mutex.RUnlock()

	if !ok {
		r.logger.Warn("Model requested unknown tool", "tool", call.GetName())
		return types.NewToolError(call.ID, fmt.Sprintf("unknown tool: %s", call.GetName()))
	}
	if err := ctx.Err(); err != nil {
		return types.NewToolError(call.ID, err.Error())
	}

	r.logger.Debug("Executing tool", "tool", call.GetName(), "call_id", call.ID)
	content, err := tool.handler(ctx, call.Function.Arguments)
	if err != nil {
		r.logger.Warn("Tool execution failed", "tool", call.GetName(), "error", err)
		return types.NewToolError(call.ID, err.Error())
	}
	return types.NewToolResult(call.ID, content)
}
