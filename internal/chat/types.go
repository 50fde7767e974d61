package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status is the lifecycle state of a message.
type Status string

const (
	// StatusSent marks a finalized message.
	StatusSent Status = "sent"
	// StatusStreaming marks an assistant message still receiving content.
	// At most one message across all chats is streaming at any time.
	StatusStreaming Status = "streaming"
	// StatusError marks a message whose generation failed or was cancelled.
	StatusError Status = "error"
)

// TimeInfo is the server-side timing breakdown for a completion, in seconds.
type TimeInfo struct {
	QueueTime      float64 `json:"queueTime,omitempty"`
	PromptTime     float64 `json:"promptTime,omitempty"`
	CompletionTime float64 `json:"completionTime,omitempty"`
	TotalTime      float64 `json:"totalTime,omitempty"`
}

// MessageMeta carries model identity, token usage and timing reported by the
// completion endpoint.
type MessageMeta struct {
	Model            string    `json:"model,omitempty"`
	PromptTokens     int       `json:"promptTokens,omitempty"`
	CompletionTokens int       `json:"completionTokens,omitempty"`
	TotalTokens      int       `json:"totalTokens,omitempty"`
	TimeInfo         *TimeInfo `json:"timeInfo,omitempty"`
}

// Message is one turn in a chat. User messages are immutable once created;
// assistant messages mutate while streaming and are finalized exactly once.
type Message struct {
	ID        string       `json:"id"`
	Role      Role         `json:"role"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"createdAt"`
	Status    Status       `json:"status,omitempty"`
	Error     string       `json:"error,omitempty"`
	Meta      *MessageMeta `json:"meta,omitempty"`
}

// Chat is a titled, ordered collection of messages. UpdatedAt is refreshed on
// every mutation to the chat or any of its messages.
type Chat struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Messages  []*Message `json:"messages"`
}

func newID() string {
	return uuid.NewString()
}

func (c *Chat) findMessage(messageID string) (int, *Message) {
	for i, m := range c.Messages {
		if m.ID == messageID {
			return i, m
		}
	}
	return -1, nil
}

func (m *Message) clone() *Message {
	dup := *m
	if m.Meta != nil {
		meta := *m.Meta
		if m.Meta.TimeInfo != nil {
			ti := *m.Meta.TimeInfo
			meta.TimeInfo = &ti
		}
		dup.Meta = &meta
	}
	return &dup
}

func (c *Chat) clone() *Chat {
	dup := *c
	dup.Messages = make([]*Message, len(c.Messages))
	for i, m := range c.Messages {
		dup.Messages[i] = m.clone()
	}
	return &dup
}
