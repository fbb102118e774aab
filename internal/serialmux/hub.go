package serialmux

import (
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer is how many replies a subscriber may fall behind by
// before further replies to it are dropped.
const subscriberBuffer = 16

// hub fans board reply lines out to subscribers.
type hub struct {
	mu     sync.Mutex
	subs   map[string]chan string
	closed bool
}

// subscribe registers a buffered channel. After close it hands back a
// channel that is already closed.
func (h *hub) subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	if h.subs == nil {
		h.subs = make(map[string]chan string)
	}
	h.subs[id] = ch
	return id, ch
}

func (h *hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// publish delivers line to every subscriber with room for it and returns
// how many were skipped.
func (h *hub) publish(line string) (skipped int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- line:
		default:
			skipped++
		}
	}
	return skipped
}

// close ends every subscription. It reports false if the hub was already
// closed.
func (h *hub) close() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
	return true
}

func (h *hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
