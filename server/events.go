package server

import (
	"sync"

	"captiongen/session"
)

// Event statuses pushed over the progress socket.
const (
	StatusStarted = "started"
	StatusDone    = "done"
	StatusError   = "error"
)

// Event is a stage-progress notification for one session.
type Event struct {
	SessionID string        `json:"session_id"`
	Stage     session.Stage `json:"stage"`
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
}

// Hub fans stage-progress events out to the websocket subscribers of a
// session. Slow subscribers drop events rather than block the pipeline.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers for events of one session. The returned cancel func
// must be called to release the subscription.
func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, 8)

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan Event]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[sessionID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, sessionID)
			}
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber of its session.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
