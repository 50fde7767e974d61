package chat

import (
	"sync"
	"time"
)

const (
	// storageKey is where the chat collection lives in the key-value store.
	storageKey = "cerechat/chats/v1"

	// schemaVersion tags persisted payloads. Payloads with any other version
	// are discarded wholesale: no migration, no partial adoption.
	schemaVersion = 1

	// defaultPersistDelay is the quiet period before a coalesced write.
	defaultPersistDelay = 250 * time.Millisecond
)

// persistedState is the versioned on-disk shape of the chat collection.
type persistedState struct {
	SchemaVersion int              `json:"schemaVersion"`
	Chats         map[string]*Chat `json:"chats"`
	ActiveChatID  string           `json:"activeChatId,omitempty"`
}

// persister coalesces bursts of mutations into a single write after a quiet
// period. The write callback must not be invoked while holding locks the
// callback itself acquires.
type persister struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	write func()
}

func newPersister(delay time.Duration, write func()) *persister {
	if delay <= 0 {
		delay = defaultPersistDelay
	}
	return &persister{delay: delay, write: write}
}

// Schedule arms (or re-arms) the write timer. Safe to call from any
// goroutine, including while holding the store lock.
func (p *persister) Schedule() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.delay, p.write)
}

// Flush cancels any pending timer and writes immediately.
func (p *persister) Flush() {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
	p.write()
}

// Stop cancels any pending write without flushing.
func (p *persister) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
