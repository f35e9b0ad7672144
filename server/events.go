package server

import (
	"sync"
	"time"

	"property-scraper/scrape"
)

const streamBuffer = 64

// Event is one entry on a session's log stream.
type Event struct {
	Kind    string         `json:"type"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	Time    time.Time      `json:"timestamp"`
}

// Stream is the buffered event channel for one scrape session. It
// implements scrape.EventSink; sends never block, a slow or absent
// subscriber just loses intermediate events.
type Stream struct {
	id string
	ch chan Event

	mu     sync.Mutex
	closed bool
}

// Emit implements scrape.EventSink.
func (s *Stream) Emit(kind, message string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	ev := Event{Kind: kind, Message: message, Data: data, Time: time.Now()}
	select {
	case s.ch <- ev:
	default:
	}

	if kind == scrape.EventCompleted {
		s.closed = true
		close(s.ch)
	}
}

// Events exposes the receive side for the SSE handler.
func (s *Stream) Events() <-chan Event { return s.ch }

// Hub tracks the live stream per session ID.
type Hub struct {
	mu      sync.Mutex
	streams map[string]*Stream
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{streams: make(map[string]*Stream)}
}

// Open registers a fresh stream for sessionID.
func (h *Hub) Open(sessionID string) *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &Stream{id: sessionID, ch: make(chan Event, streamBuffer)}
	h.streams[sessionID] = s
	return s
}

// Get looks a stream up by session ID.
func (h *Hub) Get(sessionID string) (*Stream, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[sessionID]
	return s, ok
}

// Remove drops a stream once its session is over and the subscriber has
// drained it.
func (h *Hub) Remove(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.streams, sessionID)
}

// compile-time interface check
var _ scrape.EventSink = (*Stream)(nil)
