// Package storage provides the key-value persistence layer. Writes are
// best-effort: the in-memory chat state stays authoritative for the running
// session, so persistence failures are swallowed rather than surfaced.
package storage

// KV is an opaque key-value store. Get reports whether the key was present.
// Set and Remove never fail from the caller's point of view.
type KV interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
	Close() error
}
