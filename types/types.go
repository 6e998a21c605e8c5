package types

// Action identifies what a synchronization event asks peers to do.
type Action string

const (
	// Invalidate drops a single key from peer near-caches.
	Invalidate Action = "invalidate"
	// Clear drops every entry from peer near-caches.
	Clear Action = "clear"
)

// InvalidationEvent represents a cache synchronization event exchanged
// between controller instances sharing one path store.
type InvalidationEvent struct {
	Key    string `json:"key"`
	Sender string `json:"sender"`
	Action Action `json:"action"`
}
