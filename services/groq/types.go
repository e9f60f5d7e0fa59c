package groq

// ChatMessage represents a message in a chat conversation.
// Content is a plain string; tool-call fields are only set on the
// assistant/tool messages of a tool round-trip.
type ChatMessage struct {
	Role       string     `json:"role"` // "user", "assistant", "system", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool response messages
}

// Tool represents a tool/function the model can call
type Tool struct {
	Type     string       `json:"type"` // "function"
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a function the model can call
type ToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema for parameters
}

// ToolCallFunction is the function payload of a complete tool call
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string of arguments
}

// ToolCall represents a complete tool call made by the model
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // "function"
	Function ToolCallFunction `json:"function"`
}

// StreamOptions controls extra streaming payloads
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// ChatCompletionRequest represents a request for chat completion
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	// Tool calling support
	Tools      []Tool `json:"tools,omitempty"`
	ToolChoice string `json:"tool_choice,omitempty"` // "auto" or "none"

	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

// Usage represents token usage reported by the provider
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse represents a non-streaming chat completion response
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role      string     `json:"role"`
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"` // "stop", "tool_calls", etc.
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// ExtractContent extracts the content from a chat completion response
func (r *ChatCompletionResponse) ExtractContent() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// HasToolCalls checks if the response contains tool calls
func (r *ChatCompletionResponse) HasToolCalls() bool {
	if len(r.Choices) == 0 {
		return false
	}
	return len(r.Choices[0].Message.ToolCalls) > 0
}

// ToolCallDelta is an incremental tool-call fragment inside a streaming delta.
// Index identifies which call the fragment belongs to; ID/Name arrive on the
// first fragment, Arguments arrive split across fragments.
type ToolCallDelta struct {
	Index    int                   `json:"index"`
	ID       string                `json:"id,omitempty"`
	Type     string                `json:"type,omitempty"`
	Function ToolCallDeltaFunction `json:"function"`
}

// ToolCallDeltaFunction is the function fragment inside a tool-call delta
type ToolCallDeltaFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamChunkDelta represents the delta content in a streaming chunk
type StreamChunkDelta struct {
	Role      string          `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
}

// StreamChunkChoice represents a choice in a streaming chunk
type StreamChunkChoice struct {
	Index        int              `json:"index"`
	Delta        StreamChunkDelta `json:"delta"`
	FinishReason string           `json:"finish_reason,omitempty"` // "stop", "tool_calls", etc.
}

// XGroq carries Groq-specific trailer data (usage arrives here on the final chunk)
type XGroq struct {
	ID    string `json:"id,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
}

// StreamChunk represents one decoded record of a streaming response
type StreamChunk struct {
	ID      string              `json:"id"`
	Object  string              `json:"object,omitempty"`
	Created int                 `json:"created"`
	Model   string              `json:"model"`
	Choices []StreamChunkChoice `json:"choices"`
	Usage   *Usage              `json:"usage,omitempty"`
	XGroq   *XGroq              `json:"x_groq,omitempty"`
}

// GetContent returns the content delta from the first choice
func (c *StreamChunk) GetContent() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}

// GetToolCallDeltas returns the tool-call fragments from the first choice
func (c *StreamChunk) GetToolCallDeltas() []ToolCallDelta {
	if len(c.Choices) == 0 {
		return nil
	}
	return c.Choices[0].Delta.ToolCalls
}

// GetFinishReason returns the finish reason from the first choice
func (c *StreamChunk) GetFinishReason() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].FinishReason
}

// GetUsage returns usage data regardless of where the provider put it
func (c *StreamChunk) GetUsage() *Usage {
	if c.Usage != nil {
		return c.Usage
	}
	if c.XGroq != nil {
		return c.XGroq.Usage
	}
	return nil
}
