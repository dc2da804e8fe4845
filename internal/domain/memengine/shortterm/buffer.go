// Package shortterm implements the Short-Term Buffer: a bounded ordered
// sequence of recent non-system messages. Eviction is never automatic —
// the Manager decides when to act on IsFull.
package shortterm

import "github.com/nine5427/memengine/internal/domain/memengine"

// Buffer is the Short-Term Buffer. It is not safe for concurrent use by
// design — the Manager is the single-threaded owner that serializes access
// (see the engine's concurrency model).
type Buffer struct {
	capacity int
	messages []memengine.Message
}

// New creates a Buffer with the given capacity (N_short).
func New(capacity int) *Buffer {
	return &Buffer{capacity: capacity}
}

// Add appends msg. The buffer tolerates growing past capacity — it only
// reports IsFull; the Manager is responsible for acting on it.
func (b *Buffer) Add(msg memengine.Message) {
	b.messages = append(b.messages, msg)
}

// GetMessages returns a defensive copy of the buffered messages, detached
// from internal state.
func (b *Buffer) GetMessages() []memengine.Message {
	out := make([]memengine.Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// Count returns the number of buffered messages.
func (b *Buffer) Count() int {
	return len(b.messages)
}

// IsFull reports whether the buffer holds at least capacity messages.
func (b *Buffer) IsFull() bool {
	return len(b.messages) >= b.capacity
}

// PeekOldest returns the first buffered message, if any.
func (b *Buffer) PeekOldest() (memengine.Message, bool) {
	if len(b.messages) == 0 {
		return memengine.Message{}, false
	}
	return b.messages[0], true
}

// PeekNewest returns the last buffered message, if any.
func (b *Buffer) PeekNewest() (memengine.Message, bool) {
	if len(b.messages) == 0 {
		return memengine.Message{}, false
	}
	return b.messages[len(b.messages)-1], true
}

// Clear empties the buffer and returns all messages, in original order, to
// the caller.
func (b *Buffer) Clear() []memengine.Message {
	out := b.messages
	b.messages = nil
	return out
}

// RemoveLast drops the newest message, used by rollback_incomplete_exchange.
// Reports false if the buffer was already empty.
func (b *Buffer) RemoveLast() (memengine.Message, bool) {
	if len(b.messages) == 0 {
		return memengine.Message{}, false
	}
	last := b.messages[len(b.messages)-1]
	b.messages = b.messages[:len(b.messages)-1]
	return last, true
}
