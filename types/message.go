// Package types contains shared type definitions used across the modelmux library.
// It helps avoid import cycles while providing common data structures.
package types

// Message roles shared by all providers. Adapters translate these into
// whatever the vendor wire format calls them (e.g. Gemini uses "model"
// instead of "assistant").
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single turn in a conversation.
//
// For tool calling support:
//   - Assistant messages may include ToolCalls (requests to use tools)
//   - Tool messages carry ToolCallID linking the result to the original call
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// NewUserMessage creates a user message with the given content.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message, optionally carrying
// the tool calls the model requested on that turn.
func NewAssistantMessage(content string, toolCalls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// NewToolMessage creates a tool result message answering the given call.
func NewToolMessage(result ToolResult, name string) Message {
	return Message{
		Role:       RoleTool,
		Content:    result.Content,
		Name:       name,
		ToolCallID: result.ToolCallID,
	}
}

// MemoryMessage is a conversation message annotated with its token count
// for token-bounded history management.
type MemoryMessage struct {
	Role      string
	Content   string
	Tokens    int
	ToolCalls []ToolCall
}
