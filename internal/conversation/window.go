// Package conversation keeps the ordered, bounded utterance log of a session.
package conversation

import (
	"strings"
	"sync"
	"time"
)

// Role tags the speaker of an utterance.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Utterance is one role-tagged contribution to a conversation.
type Utterance struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Window is an append-only utterance log trimmed from the head once it exceeds its
// retention. It is safe for concurrent use.
type Window struct {
	mu        sync.Mutex
	retention int
	entries   []Utterance
	now       func() time.Time
}

// NewWindow returns a window retaining at most retention utterances (minimum 1).
func NewWindow(retention int) *Window {
	if retention < 1 {
		retention = 1
	}
	return &Window{
		retention: retention,
		entries:   make([]Utterance, 0, retention),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Append records an utterance and returns it with its timestamp set.
func (w *Window) Append(role Role, text string) Utterance {
	u := Utterance{Role: role, Text: strings.TrimSpace(text), At: w.now()}

	w.mu.Lock()
	defer w.mu.Unlock()
	if n := len(w.entries); n > 0 && u.At.Before(w.entries[n-1].At) {
		u.At = w.entries[n-1].At
	}
	w.entries = append(w.entries, u)
	if over := len(w.entries) - w.retention; over > 0 {
		copy(w.entries, w.entries[over:])
		clear(w.entries[len(w.entries)-over:])
		w.entries = w.entries[:len(w.entries)-over]
	}
	return u
}

// Recent returns a copy of at most n of the newest utterances, oldest first.
func (w *Window) Recent(n int) []Utterance {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n <= 0 || len(w.entries) == 0 {
		return nil
	}
	if n > len(w.entries) {
		n = len(w.entries)
	}
	out := make([]Utterance, n)
	copy(out, w.entries[len(w.entries)-n:])
	return out
}

// Len reports the number of retained utterances.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}
