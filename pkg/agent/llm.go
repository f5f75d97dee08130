package agent

import "context"

// ToolSpec describes one callable tool exposed to the model.
type ToolSpec struct {
	Name        string
	Description string
	Properties  map[string]Property
	Required    []string
}

// Property is one JSON-schema property of a tool's input.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input []byte // raw JSON arguments
}

// ToolResult is the outcome of executing one requested tool call.
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// RoundResult is one model turn: either tool calls to satisfy, or the final
// text.
type RoundResult struct {
	ToolCalls []ToolCall
	Text      string
	Done      bool
}

// Conversation is one in-flight exchange with the model. Implementations own
// the transcript.
type Conversation interface {
	// NextRound sends the pending transcript and returns the model's turn.
	NextRound(ctx context.Context, tools []ToolSpec) (*RoundResult, error)
	// AddToolResults appends tool outcomes for the next round.
	AddToolResults(results ...ToolResult)
}

// LLM creates conversations. The concrete model SDK stays behind this
// interface so the investigation loop is testable without network calls.
type LLM interface {
	NewConversation(systemPrompt, userPrompt string) Conversation
}
