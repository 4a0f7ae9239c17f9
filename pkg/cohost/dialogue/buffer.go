package dialogue

import "time"

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in the conversation window. Turns are never mutated
// after they are appended.
type Turn struct {
	Role      Role      `json:"role"`
	Author    string    `json:"author,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Emotes    []string  `json:"emotes"`
}

// Buffer is a fixed-capacity ring of turns. Appending to a full buffer
// evicts the oldest turn. It is not safe for concurrent use.
type Buffer struct {
	turns []Turn
	start int
	size  int
}

// NewBuffer creates a buffer holding at most capacity turns (minimum 1).
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{turns: make([]Turn, capacity)}
}

// Append adds a turn, evicting the oldest one when full.
func (b *Buffer) Append(t Turn) {
	if b.size < len(b.turns) {
		b.turns[(b.start+b.size)%len(b.turns)] = t
		b.size++
		return
	}
	b.turns[b.start] = t
	b.start = (b.start + 1) % len(b.turns)
}

// Turns returns a copy of the buffered turns, oldest first.
func (b *Buffer) Turns() []Turn {
	out := make([]Turn, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.turns[(b.start+i)%len(b.turns)]
	}
	return out
}

// Len returns the number of buffered turns.
func (b *Buffer) Len() int { return b.size }

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return len(b.turns) }

// Reset empties the buffer.
func (b *Buffer) Reset() {
	clear(b.turns)
	b.start, b.size = 0, 0
}
