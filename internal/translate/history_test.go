package translate

import (
	"fmt"
	"testing"
)

func TestHistory(t *testing.T) {
	t.Run("never_exceeds_twice_the_cap", func(t *testing.T) {
		h := NewHistory(3)
		for i := 0; i < 10; i++ {
			h.Append(fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i))
			if h.Len() > 6 {
				t.Fatalf("after %d exchanges Len = %d, want <= 6", i+1, h.Len())
			}
		}
		msgs := h.Messages()
		if msgs[0].Content != "u7" || msgs[0].Role != RoleUser {
			t.Errorf("oldest = %+v, want user u7", msgs[0])
		}
		if last := msgs[len(msgs)-1]; last.Content != "a9" || last.Role != RoleAssistant {
			t.Errorf("newest = %+v, want assistant a9", last)
		}
	})

	t.Run("zero_disables", func(t *testing.T) {
		h := NewHistory(0)
		h.Append("u", "a")
		if h.Len() != 0 {
			t.Errorf("Len = %d, want 0", h.Len())
		}
	})

	t.Run("reset_clears", func(t *testing.T) {
		h := NewHistory(5)
		h.Append("u", "a")
		h.Reset()
		if h.Len() != 0 {
			t.Errorf("Len = %d after Reset, want 0", h.Len())
		}
	})

	t.Run("messages_is_a_copy", func(t *testing.T) {
		h := NewHistory(5)
		h.Append("u", "a")
		msgs := h.Messages()
		msgs[0].Content = "changed"
		if h.Messages()[0].Content != "u" {
			t.Error("mutating Messages() result changed the history")
		}
	})
}
