package providers

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/modelmux/modelmux/types"
)

// ErrSkipChunk tells the stream layer that a chunk carried nothing worth
// forwarding (keep-alives, empty deltas).
var ErrSkipChunk = errors.New("skip chunk")

// Response is the normalized result of one provider call or one stream
// chunk. For stream chunks Content carries the incremental text and Done
// marks the final chunk of the turn.
type Response struct {
	Content        string
	ToolCalls      []types.ToolCall
	ToolCallDeltas []ToolCallDelta
	FinishReason   string
	Usage          *Usage
	Done           bool
}

func (r *Response) String() string {
	return r.Content
}

// HasToolCalls reports whether the model asked for tool execution.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Usage holds the token accounting for a response. It includes input,
// cached input, and output token counts.
type Usage struct {
	InputTokens        int64
	CachedInputTokens  int64
	OutputTokens       int64
	CachedOutputTokens int64
	TotalTokens        int64
}

// NewUsage builds a Usage record. Total excludes cached tokens.
func NewUsage(inputTokens, cachedInputTokens, outputTokens, cachedOutputTokens int64) *Usage {
	return &Usage{
		InputTokens:        inputTokens,
		CachedInputTokens:  cachedInputTokens,
		OutputTokens:       outputTokens,
		CachedOutputTokens: cachedOutputTokens,
		TotalTokens:        (inputTokens - cachedInputTokens) + (outputTokens - cachedOutputTokens),
	}
}

// Add accumulates another usage record, as streamed turns report usage
// per recursion step.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.CachedInputTokens += other.CachedInputTokens
	u.OutputTokens += other.OutputTokens
	u.CachedOutputTokens += other.CachedOutputTokens
	u.TotalTokens += other.TotalTokens
}

// ToolCallDelta is one fragment of a tool call spread across stream chunks
// (the OpenAI streaming format keys fragments by index and sends arguments
// piecewise).
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// ToolCallAccumulator merges whole tool calls and streamed fragments into
// the final ordered call list for a turn.
type ToolCallAccumulator struct {
	calls   []types.ToolCall
	partial map[int]*ToolCallDelta
}

func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{
		partial: make(map[int]*ToolCallDelta),
	}
}

// AddResponse folds one stream chunk into the accumulator.
func (a *ToolCallAccumulator) AddResponse(resp *Response) {
	a.calls = append(a.calls, resp.ToolCalls...)
	for _, delta := range resp.ToolCallDeltas {
		existing, ok := a.partial[delta.Index]
		if !ok {
			d := delta
			a.partial[delta.Index] = &d
			continue
		}
		if delta.ID != "" {
			existing.ID = delta.ID
		}
		if delta.Name != "" {
			existing.Name = delta.Name
		}
		existing.Arguments += delta.Arguments
	}
}

// Calls returns the accumulated tool calls: whole calls first, then merged
// fragments in index order.
func (a *ToolCallAccumulator) Calls() []types.ToolCall {
	if len(a.partial) == 0 {
		return a.calls
	}
	indexes := make([]int, 0, len(a.partial))
	for i := range a.partial {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]types.ToolCall, 0, len(a.calls)+len(indexes))
	out = append(out, a.calls...)
	for _, i := range indexes {
		d := a.partial[i]
		out = append(out, types.NewToolCall(d.ID, d.Name, json.RawMessage(d.Arguments)))
	}
	return out
}

// Empty reports whether no tool calls were seen this turn.
func (a *ToolCallAccumulator) Empty() bool {
	return len(a.calls) == 0 && len(a.partial) == 0
}
