package domain

import (
	"strings"
	"sync"
)

// Turn is a single conversation entry. Turns are never mutated after they are appended.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// History is the interleaved transcript of one photo session: the initial
// description followed by alternating user questions and assistant answers.
// The image itself is not stored; it is attached to the opening request turn.
type History struct {
	mu     sync.Mutex
	turns  []Turn
	closed bool
}

// NewHistory restores a history from persisted turns, validating their order.
func NewHistory(turns []Turn) (*History, error) {
	h := &History{}
	if len(turns) == 0 {
		return h, nil
	}
	if err := h.Append(turns...); err != nil {
		return nil, err
	}
	return h, nil
}

// Append adds turns atomically: either every turn is appended or none is.
func (h *History) Append(turns ...Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHistoryClosed
	}
	next := expectedRole(len(h.turns))
	for _, t := range turns {
		if strings.TrimSpace(t.Text) == "" {
			return ErrEmptyTurn
		}
		if t.Role != next {
			return ErrTurnOrder
		}
		next = flip(next)
	}
	h.turns = append(h.turns, turns...)
	return nil
}

// Turns returns a copy of the turns in chronological order.
func (h *History) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Exchanges counts assistant turns: the initial description plus one per follow-up round.
func (h *History) Exchanges() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, t := range h.turns {
		if t.Role == RoleAssistant {
			n++
		}
	}
	return n
}

// Close ends the history. Later appends fail with ErrHistoryClosed.
func (h *History) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

func (h *History) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func expectedRole(n int) Role {
	if n%2 == 0 {
		return RoleAssistant
	}
	return RoleUser
}

func flip(r Role) Role {
	if r == RoleAssistant {
		return RoleUser
	}
	return RoleAssistant
}
