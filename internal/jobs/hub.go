package jobs

import (
	"sync"

	"github.com/spherical/pdf-enricher/internal/domain"
)

// Hub fans progress snapshots out to subscribers. Each subscriber has a
// one-slot buffer holding the newest snapshot it has not read yet, so a slow
// reader skips intermediate snapshots but never blocks the publisher and
// always sees the latest one.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	last   *domain.JobProgress
	subs   map[int]chan domain.JobProgress
	nextID int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]*topic)}
}

// Open registers a job. Publishing to or subscribing on an unknown job is a
// no-op.
func (h *Hub) Open(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.topics[id]; !ok {
		h.topics[id] = &topic{subs: make(map[int]chan domain.JobProgress)}
	}
}

// Publish records p as the job's latest snapshot and offers it to every
// subscriber.
func (h *Hub) Publish(id string, p domain.JobProgress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[id]
	if !ok {
		return
	}
	t.last = &p
	for _, ch := range t.subs {
		offer(ch, p)
	}
}

// Latest returns the retained snapshot of a job.
func (h *Hub) Latest(id string) (domain.JobProgress, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[id]
	if !ok || t.last == nil {
		return domain.JobProgress{}, false
	}
	return *t.last, true
}

// Subscribe returns a channel that first yields the retained snapshot, if
// any, then every later one the reader keeps up with. The channel is closed
// by Close. The returned func unsubscribes. ok is false for unknown jobs.
func (h *Hub) Subscribe(id string) (<-chan domain.JobProgress, func(), bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[id]
	if !ok {
		return nil, func() {}, false
	}

	ch := make(chan domain.JobProgress, 1)
	if t.last != nil {
		ch <- *t.last
	}
	sid := t.nextID
	t.nextID++
	t.subs[sid] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if cur, ok := h.topics[id]; ok && cur == t {
				if c, ok := t.subs[sid]; ok {
					delete(t.subs, sid)
					close(c)
				}
			}
		})
	}
	return ch, cancel, true
}

// Close ends the job's stream: every subscriber channel is closed after its
// pending snapshot, and the job is forgotten.
func (h *Hub) Close(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[id]
	if !ok {
		return
	}
	for sid, ch := range t.subs {
		close(ch)
		delete(t.subs, sid)
	}
	delete(h.topics, id)
}

// offer replaces whatever ch holds with p. Only the hub sends on ch, under
// its lock, so the send after a drain cannot block.
func offer(ch chan domain.JobProgress, p domain.JobProgress) {
	select {
	case ch <- p:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- p
}
