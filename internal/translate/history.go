package translate

import "sync"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History is a sliding window of user/assistant exchanges. Only the relay
// goroutine mutates it; the lock lets Stats read the length concurrently.
type History struct {
	mu       sync.RWMutex
	messages []Message
	limit    int // in messages
}

// NewHistory keeps up to exchanges user/assistant pairs. Zero or negative
// disables history.
func NewHistory(exchanges int) *History {
	if exchanges < 0 {
		exchanges = 0
	}
	return &History{limit: exchanges * 2}
}

// Append records one exchange and evicts the oldest messages past the limit.
func (h *History) Append(user, assistant string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.limit == 0 {
		return
	}
	h.messages = append(h.messages,
		Message{Role: RoleUser, Content: user},
		Message{Role: RoleAssistant, Content: assistant},
	)
	if len(h.messages) > h.limit {
		h.messages = append([]Message(nil), h.messages[len(h.messages)-h.limit:]...)
	}
}

// Messages returns a copy of the history, oldest first.
func (h *History) Messages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}
