package chat

import (
	"encoding/json"
	"fmt"
)

// ChatExportPayload is the versioned envelope for a single exported chat.
type ChatExportPayload struct {
	SchemaVersion int   `json:"schemaVersion"`
	Chat          *Chat `json:"chat"`
}

// ExportState serializes the full chat collection under the current schema
// version.
func (s *Store) ExportState() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, err := json.Marshal(persistedState{
		SchemaVersion: schemaVersion,
		Chats:         s.chats,
		ActiveChatID:  s.activeID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return payload, nil
}

// Import replaces the full chat collection from an exported payload. A
// payload whose schema version does not match is rejected wholesale and
// existing state is left completely unchanged. Any in-flight generation is
// cancelled before the state is replaced.
func (s *Store) Import(data []byte) error {
	var saved persistedState
	if err := json.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("malformed import payload: %w", err)
	}
	if saved.SchemaVersion != schemaVersion {
		return fmt.Errorf("unsupported schema version %d (want %d)", saved.SchemaVersion, schemaVersion)
	}
	if saved.Chats == nil {
		return fmt.Errorf("malformed import payload: missing chats")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitCancelLocked()
	s.chats = saved.Chats
	s.activeID = saved.ActiveChatID
	s.sanitizeLocked()
	s.ensureAnyChatLocked()
	s.persister.Schedule()
	return nil
}

// ExportChat serializes a single chat under a versioned envelope.
func (s *Store) ExportChat(chatID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("chat not found: %s", chatID)
	}
	payload, err := json.Marshal(ChatExportPayload{SchemaVersion: schemaVersion, Chat: chat})
	if err != nil {
		return nil, fmt.Errorf("marshal chat: %w", err)
	}
	return payload, nil
}

// ImportChat adds a single exported chat to the collection and makes it
// active. Version mismatches are rejected without touching existing state.
func (s *Store) ImportChat(data []byte) (string, error) {
	var payload ChatExportPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("malformed chat payload: %w", err)
	}
	if payload.SchemaVersion != schemaVersion {
		return "", fmt.Errorf("unsupported schema version %d (want %d)", payload.SchemaVersion, schemaVersion)
	}
	if payload.Chat == nil || payload.Chat.ID == "" {
		return "", fmt.Errorf("malformed chat payload: missing chat")
	}

	chat := payload.Chat
	for _, msg := range chat.Messages {
		if msg.Status == StatusStreaming {
			msg.Status = StatusError
			msg.Error = cancelNote
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.chats[chat.ID]; exists {
		// Imported copy must not clobber an existing chat.
		chat.ID = newID()
	}
	s.chats[chat.ID] = chat
	s.activeID = chat.ID
	s.persister.Schedule()
	return chat.ID, nil
}
