// Package sse streams bus events to connected clients as Server-Sent Events.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencommander/commander/internal/events"
	"github.com/opencommander/commander/internal/logging"
)

// DefaultHeartbeat is the interval between keep-alive comments.
const DefaultHeartbeat = 30 * time.Second

// Authorizer decides whether the request may watch projectID. A non-nil
// error is written with the ErrorWriter and ends the request.
type Authorizer func(r *http.Request, projectID string) error

// ErrorWriter renders an authorization failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Handler streams events of one project per connection.
type Handler struct {
	bus           *events.EventBus
	authorize     Authorizer
	writeError    ErrorWriter
	logger        *logging.Logger
	heartbeatFreq time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	id      string
	project string
	done    chan struct{}
	closed  bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithHeartbeat sets the keep-alive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) { h.heartbeatFreq = d }
}

// WithLogger sets the handler logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates an SSE handler over bus. authorize is called with the
// ?project= value before streaming starts.
func NewHandler(bus *events.EventBus, authorize Authorizer, writeError ErrorWriter, opts ...Option) *Handler {
	h := &Handler{
		bus:           bus,
		authorize:     authorize,
		writeError:    writeError,
		logger:        logging.NewNop(),
		heartbeatFreq: DefaultHeartbeat,
		clients:       make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project")
	if err := h.authorize(r, projectID); err != nil {
		h.writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	c := &client{id: uuid.NewString(), project: projectID, done: make(chan struct{})}
	h.addClient(c)
	defer h.removeClient(c)

	eventCh := h.bus.Subscribe()
	defer h.bus.Unsubscribe(eventCh)

	h.logger.Debug("sse client connected", "client_id", c.id, "project_id", projectID)
	h.sendEvent(w, flusher, "connected", map[string]string{
		"clientId":  c.id,
		"projectId": projectID,
	})

	heartbeat := time.NewTicker(h.heartbeatFreq)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("sse client disconnected", "client_id", c.id)
			return
		case <-c.done:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if event.ProjectID() != c.project {
				continue
			}
			h.sendEvent(w, flusher, event.EventType(), event)
		}
	}
}

func (h *Handler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn("encoding sse event", "type", eventType, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload)
	flusher.Flush()
}

func (h *Handler) addClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Handler) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// ClientCount returns the number of connected clients.
func (h *Handler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown ends every open stream.
func (h *Handler) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.closed {
			c.closed = true
			close(c.done)
		}
	}
	h.clients = make(map[*client]struct{})
	return nil
}
