package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/depgraph/internal/model"
)

const (
	// sseRingBufferSize bounds how many recent events a reconnecting client
	// can replay with Last-Event-ID.
	sseRingBufferSize = 1000

	sseKeepaliveInterval = 15 * time.Second
	sseClientBuffer      = 64
)

// sseEvent is one graph event as delivered on the stream. Data is the
// JSON-encoded model.Event envelope.
type sseEvent struct {
	ID        uint64
	Topic     string
	ProjectID string
	Data      []byte
}

func (e *sseEvent) writeTo(w io.Writer) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", e.ID, e.Topic, e.Data)
}

// streamCursor writes events to one stream in id order. A client subscribes
// before its replay is read, so the same event can arrive from both; the
// cursor writes it once.
type streamCursor struct {
	w    io.Writer
	last uint64
}

func (c *streamCursor) write(evt *sseEvent) bool {
	if evt.ID <= c.last {
		return false
	}
	evt.writeTo(c.w)
	c.last = evt.ID
	return true
}

// streamFilter selects events by topic pattern and project. Zero values
// match everything.
type streamFilter struct {
	topics  []string
	project string
}

func (f streamFilter) matches(evt *sseEvent) bool {
	if f.project != "" && f.project != evt.ProjectID {
		return false
	}
	if len(f.topics) == 0 {
		return true
	}
	for _, p := range f.topics {
		if matchTopicPattern(p, evt.Topic) {
			return true
		}
	}
	return false
}

// sseClient is one connected stream consumer.
type sseClient struct {
	filter streamFilter
	ch     chan *sseEvent
}

// sseHub fans out published graph events to stream consumers and keeps
// the most recent ones for replay. Slow consumers lose events rather than
// stall mutations.
type sseHub struct {
	mu      sync.Mutex
	lastID  uint64
	recent  []*sseEvent // oldest first, at most sseRingBufferSize
	clients map[*sseClient]struct{}
}

func newSSEHub() *sseHub {
	return &sseHub{
		recent:  make([]*sseEvent, 0, sseRingBufferSize),
		clients: make(map[*sseClient]struct{}),
	}
}

func (h *sseHub) broadcast(topic, projectID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	evt := &sseEvent{ID: h.lastID, Topic: topic, ProjectID: projectID, Data: data}

	if len(h.recent) == sseRingBufferSize {
		copy(h.recent, h.recent[1:])
		h.recent = h.recent[:sseRingBufferSize-1]
	}
	h.recent = append(h.recent, evt)

	for c := range h.clients {
		if !c.filter.matches(evt) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
		}
	}
}

func (h *sseHub) subscribe(topics []string, project string) *sseClient {
	c := &sseClient{
		filter: streamFilter{topics: topics, project: project},
		ch:     make(chan *sseEvent, sseClientBuffer),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *sseHub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// eventsSince returns the retained events newer than lastID, oldest first,
// and the id the replay starts after. An id the hub never issued comes from
// before a restart and replays everything retained.
func (h *sseHub) eventsSince(lastID uint64) ([]*sseEvent, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if lastID > h.lastID {
		lastID = 0
	}
	for i, evt := range h.recent {
		if evt.ID > lastID {
			return append([]*sseEvent(nil), h.recent[i:]...), lastID
		}
	}
	return nil, lastID
}

// matchTopicPattern matches a dot-separated topic NATS-style: "*" matches
// one segment, a trailing ">" matches one or more.
func matchTopicPattern(pattern, topic string) bool {
	pat := strings.Split(pattern, ".")
	segs := strings.Split(topic, ".")
	for i, p := range pat {
		if p == ">" && i == len(pat)-1 {
			return len(segs) > i
		}
		if i >= len(segs) || (p != "*" && p != segs[i]) {
			return false
		}
	}
	return len(pat) == len(segs)
}

func parseStreamFilter(r *http.Request) streamFilter {
	q := r.URL.Query()
	f := streamFilter{project: q.Get("project")}
	for _, t := range strings.Split(q.Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			f.topics = append(f.topics, t)
		}
	}
	return f
}

// handleEventStream handles GET /v1/events/stream?topics=&project=.
// A Last-Event-ID header replays retained events newer than that id.
func (s *GraphServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	f := parseStreamFilter(r)
	client := s.sseHub.subscribe(f.topics, f.project)
	defer s.sseHub.unsubscribe(client)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	cur := &streamCursor{w: w}
	if lastID, err := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64); err == nil {
		var replay []*sseEvent
		replay, cur.last = s.sseHub.eventsSince(lastID)
		for _, evt := range replay {
			if f.matches(evt) {
				cur.write(evt)
			}
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-client.ch:
			if !cur.write(evt) {
				continue
			}
		case <-keepalive.C:
			io.WriteString(w, ":keepalive\n\n")
		}
		flusher.Flush()
	}
}

// broadcastEvent hands a published event to stream consumers.
func (s *GraphServer) broadcastEvent(topic string, evt *model.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("sse: dropping unencodable event", "topic", topic, "error", err)
		return
	}
	s.sseHub.broadcast(topic, evt.ProjectID, data)
}
