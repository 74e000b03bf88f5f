package llm

// Response is one streamed delta from a chat completion. Its shape mirrors
// the teacher's external Cognitive Orchestrator client response exactly —
// only the transport producing it changed — so callers still range over a
// channel and switch on whichever field is set.
type Response struct {
	TextChunk      string
	ConversationID string
	IsDone         bool
	TotalTokens    int32
	ToolCall       *ToolCall
	ToolResult     *ToolResult
	Error          *Error
}

// ToolCall is a structured function invocation the model asked for.
type ToolCall struct {
	ToolName       string
	ParametersJSON string
	CallID         string
}

// ToolResult is what a tool handler produced, to be sent back to the model
// (or just logged, for tools with no further turn).
type ToolResult struct {
	CallID       string
	ResultJSON   string
	Success      bool
	ErrorMessage string
}

// Error is a classified failure surfaced inline on the response channel
// instead of as a Go error, so a partial stream's earlier chunks are not
// lost.
type Error struct {
	Code        string
	Message     string
	DetailsJSON string
}

// Tool is a function the model may call, bound for one completion request.
type Tool struct {
	Name        string
	Description string
	ParametersSchema map[string]any
}
