package types

import "encoding/json"

// Function describes a callable function exposed to the model.
type Function struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Tool is a capability offered to the model. Type is "function" for every
// provider currently supported.
type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// ToolCall represents a request from the model to invoke a specific tool.
// The structure matches the OpenAI wire format, which the other providers
// are normalized into.
type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// NewToolCall builds a tool call for the named function with raw JSON args.
func NewToolCall(id, name string, arguments json.RawMessage) ToolCall {
	tc := ToolCall{ID: id, Type: "function"}
	tc.Function.Name = name
	tc.Function.Arguments = arguments
	return tc
}

// GetArguments parses the tool call arguments into a map.
func (tc *ToolCall) GetArguments() (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal(tc.Function.Arguments, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// GetArgumentString returns a specific string argument, or "" when the
// argument is missing or not a string.
func (tc *ToolCall) GetArgumentString(key string) string {
	args, err := tc.GetArguments()
	if err != nil {
		return ""
	}
	if val, ok := args[key].(string); ok {
		return val
	}
	return ""
}

// GetName returns the function name for this tool call.
func (tc *ToolCall) GetName() string {
	return tc.Function.Name
}

// ToolResult is the outcome of executing a tool, fed back to the model on
// the follow-up request.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// NewToolResult creates a successful tool result.
func NewToolResult(toolCallID, content string) ToolResult {
	return ToolResult{ToolCallID: toolCallID, Content: content}
}

// NewToolError creates an error tool result. The model sees the error text
// and can recover or apologize instead of the whole request failing.
func NewToolError(toolCallID, errorMessage string) ToolResult {
	return ToolResult{ToolCallID: toolCallID, Content: errorMessage, IsError: true}
}
