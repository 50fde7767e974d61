package api

// Role identifies the author of a conversation turn on the wire.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn in the outbound request body.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request body for POST /chat/completions.
type ChatRequest struct {
	Model               string        `json:"model"`
	Messages            []ChatMessage `json:"messages"`
	Stream              bool          `json:"stream"`
	Temperature         *float64      `json:"temperature,omitempty"`
	TopP                *float64      `json:"top_p,omitempty"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
	ReasoningEffort     string        `json:"reasoning_effort,omitempty"`
}

// Usage reports token counts for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TimeInfo reports the server-side timing breakdown, in seconds.
// Cerebras-specific; absent on most OpenAI-compatible endpoints.
type TimeInfo struct {
	QueueTime      float64 `json:"queue_time"`
	PromptTime     float64 `json:"prompt_time"`
	CompletionTime float64 `json:"completion_time"`
	TotalTime      float64 `json:"total_time"`
}

// ChoiceMessage is a full assistant message in a non-streaming response.
type ChoiceMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChoiceDelta is an incremental fragment in a streaming response.
type ChoiceDelta struct {
	Role    Role   `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// Choice holds one candidate completion. Streaming chunks carry Delta,
// buffered responses carry Message.
type Choice struct {
	Index        int            `json:"index"`
	FinishReason string         `json:"finish_reason"`
	Message      *ChoiceMessage `json:"message,omitempty"`
	Delta        *ChoiceDelta   `json:"delta,omitempty"`
}

// ChatResponse is the completion response body. The same shape is used for
// the buffered response and for each streamed chunk.
type ChatResponse struct {
	ID       string    `json:"id"`
	Object   string    `json:"object"`
	Model    string    `json:"model"`
	Created  int64     `json:"created"`
	Choices  []Choice  `json:"choices"`
	Usage    *Usage    `json:"usage,omitempty"`
	TimeInfo *TimeInfo `json:"time_info,omitempty"`
}

// Content returns the text of the first choice, preferring the incremental
// delta over the full message.
func (r *ChatResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	choice := r.Choices[0]
	if choice.Delta != nil && choice.Delta.Content != "" {
		return choice.Delta.Content
	}
	if choice.Message != nil {
		return choice.Message.Content
	}
	return ""
}

// EventType tags the normalized stream event variants.
type EventType int

const (
	EventDelta EventType = iota // incremental assistant text
	EventMeta                   // usage / timing info, later events replace earlier fields
	EventDone                   // terminal marker, exactly once
	EventError                  // failure carrier, produced instead of Done
)

// Meta carries model identity, token usage and timing from a single response
// object. Nil sub-fields mean the object did not report them.
type Meta struct {
	Model    string
	Usage    *Usage
	TimeInfo *TimeInfo
}

// Event is one normalized unit produced by a completion stream.
type Event struct {
	Type  EventType
	Delta string
	Meta  *Meta
	Err   error
}
