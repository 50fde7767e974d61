package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"cerechat/internal/api"
	"cerechat/internal/notify"
	"cerechat/internal/storage"
)

const (
	missingKeyMessage    = "API key is missing. Set api_key in the config file or CEREBRAS_API_KEY."
	requestFailedMessage = "Request failed. See message for details."
)

// Settings is the read-only snapshot consumed at the start of each
// generation. The store never mutates it.
type Settings struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Stream       bool
	ContextLimit int
}

// Completer is the transport client consumed by the store.
type Completer interface {
	Complete(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error)
	Stream(ctx context.Context, req api.ChatRequest) (api.Stream, error)
}

// generation is the process-wide single-flight slot: at most one exists, and
// while it does, exactly one message in its chat has status "streaming".
// done is closed after the unconditional finalization completes.
type generation struct {
	chatID string
	cancel context.CancelFunc
	done   chan struct{}
}

// Options configures a Store.
type Options struct {
	Settings func() Settings
	Client   Completer
	Notifier notify.Notifier // defaults to notify.Nop
	Storage  storage.KV      // defaults to an in-memory store

	// PersistDelay overrides the debounce quiet period. Zero means default.
	PersistDelay time.Duration

	// OnDelta, if set, observes each streamed text increment.
	OnDelta func(chatID, delta string)
}

// Store owns the chat collection and the generation single-flight slot.
// All exported methods are safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	chats      map[string]*Chat
	activeID   string
	generating *generation

	settings  func() Settings
	client    Completer
	notifier  notify.Notifier
	kv        storage.KV
	persister *persister
	onDelta   func(chatID, delta string)
}

// NewStore creates a store. Call Hydrate to load persisted state.
func NewStore(opts Options) *Store {
	s := &Store{
		chats:    make(map[string]*Chat),
		settings: opts.Settings,
		client:   opts.Client,
		notifier: opts.Notifier,
		kv:       opts.Storage,
		onDelta:  opts.OnDelta,
	}
	if s.settings == nil {
		s.settings = func() Settings { return Settings{} }
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.kv == nil {
		s.kv = storage.NewMemoryKV()
	}
	s.persister = newPersister(opts.PersistDelay, s.persistNow)
	return s
}

// Hydrate loads persisted chats, discarding payloads whose schema version
// does not match, and returns the active chat id (creating a chat if none
// exist).
func (s *Store) Hydrate() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if raw, ok := s.kv.Get(storageKey); ok {
		var saved persistedState
		if err := json.Unmarshal([]byte(raw), &saved); err == nil &&
			saved.SchemaVersion == schemaVersion && saved.Chats != nil {
			s.chats = saved.Chats
			s.activeID = saved.ActiveChatID
			s.sanitizeLocked()
		}
	}
	return s.ensureAnyChatLocked()
}

// sanitizeLocked finalizes messages left in streaming status by a previous
// session: no generation slot exists for them anymore.
func (s *Store) sanitizeLocked() {
	for _, chat := range s.chats {
		for _, msg := range chat.Messages {
			if msg.Status == StatusStreaming {
				msg.Status = StatusError
				msg.Error = cancelNote
			}
		}
	}
}

// Close cancels any in-flight generation and flushes pending persistence.
func (s *Store) Close() {
	s.mu.Lock()
	s.waitCancelLocked()
	s.mu.Unlock()
	s.persister.Flush()
}

// persistNow writes the current state through the key-value store.
// Best-effort: the KV layer swallows failures.
func (s *Store) persistNow() {
	s.mu.Lock()
	payload, err := json.Marshal(persistedState{
		SchemaVersion: schemaVersion,
		Chats:         s.chats,
		ActiveChatID:  s.activeID,
	})
	s.mu.Unlock()
	if err != nil {
		return
	}
	s.kv.Set(storageKey, string(payload))
}

// waitCancelLocked tears down the current generation, if any, and blocks
// until its finalization has run. The new request always wins; the old one is
// never silently ignored. Callers must hold s.mu; it is held again on return.
func (s *Store) waitCancelLocked() {
	for s.generating != nil {
		g := s.generating
		g.cancel()
		s.mu.Unlock()
		<-g.done
		s.mu.Lock()
	}
}

func (s *Store) orderedChatsLocked() []*Chat {
	chats := make([]*Chat, 0, len(s.chats))
	for _, c := range s.chats {
		chats = append(chats, c)
	}
	sort.Slice(chats, func(i, j int) bool {
		if !chats[i].UpdatedAt.Equal(chats[j].UpdatedAt) {
			return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
		}
		return chats[i].ID < chats[j].ID
	})
	return chats
}

// Chats returns copies of all chats, most recently updated first.
func (s *Store) Chats() []*Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	ordered := s.orderedChatsLocked()
	out := make([]*Chat, len(ordered))
	for i, c := range ordered {
		out[i] = c.clone()
	}
	return out
}

// Chat returns a copy of one chat.
func (s *Store) Chat(chatID string) (*Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, false
	}
	return c.clone(), true
}

// ActiveChatID returns the current active chat reference, possibly empty.
func (s *Store) ActiveChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// SetActiveChat switches the active chat. Unknown ids are ignored.
func (s *Store) SetActiveChat(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return
	}
	s.activeID = chatID
	s.persister.Schedule()
}

// IsGenerating reports whether a generation is in flight for the given chat.
func (s *Store) IsGenerating(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generating != nil && s.generating.chatID == chatID
}

// Generating returns the chat id bound to the generation slot, if occupied.
func (s *Store) Generating() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generating == nil {
		return "", false
	}
	return s.generating.chatID, true
}

// CancelGeneration aborts the in-flight generation, if any, and waits for
// its finalization. Safe to call when nothing is generating.
func (s *Store) CancelGeneration() {
	s.mu.Lock()
	s.waitCancelLocked()
	s.mu.Unlock()
}

func (s *Store) createChatLocked(title string) string {
	now := time.Now()
	id := newID()
	s.chats[id] = &Chat{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}
	s.activeID = id
	s.persister.Schedule()
	return id
}

// CreateChat creates a chat and makes it active.
func (s *Store) CreateChat(title string) string {
	if title == "" {
		title = DefaultTitle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createChatLocked(title)
}

// CreateChatSmart reuses the active chat when it is still empty, then the
// most recently updated empty chat, and only then creates a new one. This
// keeps repeated "new chat" actions from accumulating empty chats.
func (s *Store) CreateChatSmart(title string) string {
	if title == "" {
		title = DefaultTitle
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if active, ok := s.chats[s.activeID]; ok && len(active.Messages) == 0 {
		return active.ID
	}
	for _, c := range s.orderedChatsLocked() {
		if len(c.Messages) == 0 {
			s.activeID = c.ID
			s.persister.Schedule()
			return c.ID
		}
	}
	return s.createChatLocked(title)
}

// EnsureAnyChat guarantees a valid active chat: creates one if none exist,
// or re-points a dangling active reference at the most recently updated
// chat. Always returns a valid chat id.
func (s *Store) EnsureAnyChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureAnyChatLocked()
}

func (s *Store) ensureAnyChatLocked() string {
	if len(s.chats) == 0 {
		return s.createChatLocked(DefaultTitle)
	}
	if _, ok := s.chats[s.activeID]; ok {
		return s.activeID
	}
	next := s.orderedChatsLocked()[0].ID
	s.activeID = next
	s.persister.Schedule()
	return next
}

// RenameChat sets a chat title. Unknown ids are ignored.
func (s *Store) RenameChat(chatID, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return
	}
	chat.Title = title
	chat.UpdatedAt = time.Now()
	s.persister.Schedule()
}

// DeleteChat removes a chat, cancelling any generation targeting it first.
// If it was the active chat the active reference is cleared; callers should
// re-resolve via EnsureAnyChat.
func (s *Store) DeleteChat(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return
	}
	if s.generating != nil && s.generating.chatID == chatID {
		s.waitCancelLocked()
	}
	delete(s.chats, chatID)
	if s.activeID == chatID {
		s.activeID = ""
	}
	s.persister.Schedule()
}

// DeleteMessage removes a message, cancelling any generation targeting the
// chat first. Unknown chats or messages are ignored.
func (s *Store) DeleteMessage(chatID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return
	}
	idx, _ := chat.findMessage(messageID)
	if idx < 0 {
		return
	}
	if s.generating != nil && s.generating.chatID == chatID {
		s.waitCancelLocked()
		// The chat may have changed while unlocked; re-resolve.
		chat, ok = s.chats[chatID]
		if !ok {
			return
		}
		idx, _ = chat.findMessage(messageID)
		if idx < 0 {
			return
		}
	}
	chat.Messages = append(chat.Messages[:idx], chat.Messages[idx+1:]...)
	chat.UpdatedAt = time.Now()
	s.persister.Schedule()
}

// ResetAll cancels any generation, wipes persisted and in-memory state, and
// recreates a single empty chat.
func (s *Store) ResetAll() string {
	s.mu.Lock()
	s.waitCancelLocked()
	s.mu.Unlock()

	s.persister.Stop()
	s.kv.Remove(storageKey)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = make(map[string]*Chat)
	s.activeID = ""
	return s.ensureAnyChatLocked()
}

// SendMessage appends a user message, derives a title for still-untitled
// chats, and runs a generation. It blocks until the generation finishes and
// returns a copy of the resulting assistant message, or nil when no
// generation was started (missing credential or unknown chat).
//
// A generation already running for this chat is cancelled first; the global
// single-flight rule in generate handles generations in other chats.
func (s *Store) SendMessage(ctx context.Context, chatID, text string) *Message {
	settings := s.settings()
	if strings.TrimSpace(settings.APIKey) == "" {
		s.notifier.Notify(missingKeyMessage, notify.SeverityWarning)
		return nil
	}

	s.mu.Lock()
	chat, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if s.generating != nil && s.generating.chatID == chatID {
		s.waitCancelLocked()
		chat, ok = s.chats[chatID]
		if !ok {
			s.mu.Unlock()
			return nil
		}
	}

	now := time.Now()
	chat.Messages = append(chat.Messages, &Message{
		ID:        newID(),
		Role:      RoleUser,
		Content:   text,
		CreatedAt: now,
		Status:    StatusSent,
	})
	chat.UpdatedAt = now
	if chat.Title == DefaultTitle {
		chat.Title = SuggestTitle(text)
	}
	s.persister.Schedule()
	s.mu.Unlock()

	return s.generate(ctx, chatID)
}

// RetryFromMessage truncates the chat at the given assistant message (the
// target and everything after it are dropped) and regenerates. A no-op when
// the target is absent or not an assistant message, which guards against
// retrying from a user turn and duplicating input.
func (s *Store) RetryFromMessage(ctx context.Context, chatID, messageID string) *Message {
	s.mu.Lock()
	chat, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	idx, target := chat.findMessage(messageID)
	if target == nil || target.Role != RoleAssistant {
		s.mu.Unlock()
		return nil
	}
	if s.generating != nil && s.generating.chatID == chatID {
		s.waitCancelLocked()
		chat, ok = s.chats[chatID]
		if !ok {
			s.mu.Unlock()
			return nil
		}
		idx, target = chat.findMessage(messageID)
		if target == nil || target.Role != RoleAssistant {
			s.mu.Unlock()
			return nil
		}
	}
	chat.Messages = chat.Messages[:idx]
	chat.UpdatedAt = time.Now()
	s.persister.Schedule()
	s.mu.Unlock()

	return s.generate(ctx, chatID)
}

// generate runs one completion against the transport client, applying every
// stream event to a fresh assistant message. Global single-flight: any
// generation already active, in any chat, is cancelled and awaited before
// this one occupies the slot.
func (s *Store) generate(ctx context.Context, chatID string) *Message {
	settings := s.settings()
	if strings.TrimSpace(settings.APIKey) == "" {
		s.notifier.Notify(missingKeyMessage, notify.SeverityWarning)
		return nil
	}

	s.mu.Lock()
	s.waitCancelLocked()
	chat, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return nil
	}

	genCtx, cancel := context.WithCancel(ctx)
	g := &generation{chatID: chatID, cancel: cancel, done: make(chan struct{})}
	s.generating = g

	now := time.Now()
	msg := &Message{
		ID:        newID(),
		Role:      RoleAssistant,
		CreatedAt: now,
		Status:    StatusStreaming,
	}
	chat.Messages = append(chat.Messages, msg)
	chat.UpdatedAt = now
	s.persister.Schedule()

	req := api.ChatRequest{
		Model:    settings.Model,
		Messages: buildAPIMessages(settings, chat.Messages),
		Stream:   settings.Stream,
	}
	s.mu.Unlock()

	err := s.runGeneration(genCtx, chat, msg, settings, req)

	// Unconditional finalization: exactly once per generation, regardless of
	// which branch ended it. Terminal status, slot release, touch, persist.
	cancelled := IsCancellation(err)
	s.mu.Lock()
	switch {
	case err == nil:
		msg.Status = StatusSent
	case cancelled:
		msg.Status = StatusError
		msg.Error = cancelNote
	default:
		msg.Status = StatusError
		msg.Error = ErrorText(err)
	}
	if s.generating == g {
		s.generating = nil
	}
	chat.UpdatedAt = time.Now()
	s.persister.Schedule()
	result := msg.clone()
	s.mu.Unlock()

	cancel()
	close(g.done)

	if err != nil && !cancelled {
		s.notifier.Notify(requestFailedMessage, notify.SeverityError)
	}
	return result
}

func (s *Store) runGeneration(ctx context.Context, chat *Chat, msg *Message, settings Settings, req api.ChatRequest) error {
	if !settings.Stream {
		resp, err := s.client.Complete(ctx, req)
		if err != nil {
			return err
		}
		// One terminal update, no incremental application.
		s.mu.Lock()
		if len(resp.Choices) > 0 && resp.Choices[0].Message != nil {
			msg.Content = resp.Choices[0].Message.Content
		}
		mergeMeta(msg, &api.Meta{Model: resp.Model, Usage: resp.Usage, TimeInfo: resp.TimeInfo})
		chat.UpdatedAt = time.Now()
		s.persister.Schedule()
		s.mu.Unlock()
		return nil
	}

	stream, err := s.client.Stream(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		event, recvErr := stream.Recv()
		if recvErr == io.EOF {
			return nil
		}
		if recvErr != nil {
			return recvErr
		}

		switch event.Type {
		case api.EventDelta:
			if event.Delta == "" {
				continue
			}
			s.mu.Lock()
			msg.Content += event.Delta
			msg.Status = StatusStreaming
			chat.UpdatedAt = time.Now()
			s.persister.Schedule()
			s.mu.Unlock()
			if s.onDelta != nil {
				s.onDelta(chat.ID, event.Delta)
			}
		case api.EventMeta:
			s.mu.Lock()
			mergeMeta(msg, event.Meta)
			chat.UpdatedAt = time.Now()
			s.persister.Schedule()
			s.mu.Unlock()
		case api.EventDone:
			return nil
		case api.EventError:
			if event.Err != nil {
				return event.Err
			}
			return fmt.Errorf("stream failed")
		}
	}
}

// mergeMeta applies a Meta event field-by-field: present fields replace,
// absent fields leave prior values intact. Timing is treated as an atomic
// unit replaced wholesale by the latest event that carries it.
func mergeMeta(msg *Message, meta *api.Meta) {
	if meta == nil || (meta.Model == "" && meta.Usage == nil && meta.TimeInfo == nil) {
		return
	}
	if msg.Meta == nil {
		msg.Meta = &MessageMeta{}
	}
	if meta.Model != "" {
		msg.Meta.Model = meta.Model
	}
	if meta.Usage != nil {
		msg.Meta.PromptTokens = meta.Usage.PromptTokens
		msg.Meta.CompletionTokens = meta.Usage.CompletionTokens
		msg.Meta.TotalTokens = meta.Usage.TotalTokens
	}
	if meta.TimeInfo != nil {
		msg.Meta.TimeInfo = &TimeInfo{
			QueueTime:      meta.TimeInfo.QueueTime,
			PromptTime:     meta.TimeInfo.PromptTime,
			CompletionTime: meta.TimeInfo.CompletionTime,
			TotalTime:      meta.TimeInfo.TotalTime,
		}
	}
}

// buildAPIMessages assembles the outbound turn list: optional system prompt,
// user/assistant turns only, assistant turns with no content dropped (an
// in-flight placeholder never leaks into its own request), bounded to the
// most recent ContextLimit turns when positive.
func buildAPIMessages(settings Settings, messages []*Message) []api.ChatMessage {
	var list []api.ChatMessage
	if prompt := strings.TrimSpace(settings.SystemPrompt); prompt != "" {
		list = append(list, api.ChatMessage{Role: api.RoleSystem, Content: prompt})
	}

	var turns []*Message
	for _, m := range messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		if m.Role == RoleAssistant && strings.TrimSpace(m.Content) == "" {
			continue
		}
		turns = append(turns, m)
	}
	if settings.ContextLimit > 0 && len(turns) > settings.ContextLimit {
		turns = turns[len(turns)-settings.ContextLimit:]
	}

	for _, m := range turns {
		list = append(list, api.ChatMessage{Role: api.Role(m.Role), Content: m.Content})
	}
	return list
}
