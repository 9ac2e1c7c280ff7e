// Package notify pushes conflict events to WebSocket clients so a UI can show
// pending conflicts as they are queued and drop them once resolved.
package notify

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/logging"
	"github.com/c0deZ3R0/docsync/resolve"
)

// Event types.
const (
	EventConflictDetected = "conflict_detected"
	EventConflictResolved = "conflict_resolved"
)

// Event is the JSON message sent to clients.
type Event struct {
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	DocumentID        string    `json:"document_id"`
	Timestamp         time.Time `json:"timestamp"`
	ConflictType      string    `json:"conflict_type,omitempty"`
	Severity          string    `json:"severity,omitempty"`
	ConflictingFields []string  `json:"conflicting_fields,omitempty"`
	Suggested         string    `json:"suggested_resolution,omitempty"`
	Strategy          string    `json:"strategy,omitempty"`
	FieldsResolved    []string  `json:"fields_resolved,omitempty"`
}

// Config configures a Hub.
type Config struct {
	// BufferSize is the per-client event buffer. Events for a client whose
	// buffer is full are dropped.
	BufferSize int
	// PingInterval is how often idle clients are pinged.
	PingInterval time.Duration
	// WriteTimeout bounds each WebSocket write.
	WriteTimeout time.Duration
	// Logger defaults to a no-op logger.
	Logger *logging.Logger
}

// DefaultConfig returns the default hub configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:   64,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

type client struct {
	id       string
	document string
	ch       chan Event
	done     chan struct{}
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub fans conflict events out to connected WebSocket clients.
type Hub struct {
	config   Config
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
	dropped int
	now     func() time.Time
}

// NewHub creates a hub. Zero config fields take their defaults.
func NewHub(cfg Config) *Hub {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Hub{
		config: cfg,
		logger: cfg.Logger.WithComponent(logging.ComponentNotify),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// Source is implemented by engine.Session.
type Source interface {
	OnConflictDetected(fn func(conflict.ConflictInfo))
	OnResolved(fn func(resolve.ResolutionResult))
}

// Attach forwards src's conflict events to the hub's clients.
func (h *Hub) Attach(src Source) {
	src.OnConflictDetected(h.ConflictDetected)
	src.OnResolved(h.ConflictResolved)
}

// ConflictDetected publishes a conflict_detected event.
func (h *Hub) ConflictDetected(c conflict.ConflictInfo) {
	h.Publish(Event{
		Type:              EventConflictDetected,
		DocumentID:        c.DocumentID,
		Timestamp:         c.DetectedAt,
		ConflictType:      c.Type.String(),
		Severity:          c.Severity.String(),
		ConflictingFields: append([]string(nil), c.ConflictingFields...),
		Suggested:         c.SuggestedResolution.String(),
	})
}

// ConflictResolved publishes a conflict_resolved event.
func (h *Hub) ConflictResolved(r resolve.ResolutionResult) {
	h.Publish(Event{
		Type:           EventConflictResolved,
		DocumentID:     r.ResolvedDocument.ID,
		Timestamp:      r.Timestamp,
		Strategy:       r.ResolutionType.String(),
		FieldsResolved: append([]string(nil), r.FieldsResolved...),
	})
}

// Publish sends e to every client subscribed to its document. It never
// blocks.
func (h *Hub) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = h.now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		if c.document != "" && c.document != e.DocumentID {
			continue
		}
		select {
		case c.ch <- e:
		default:
			h.dropped++
			h.logger.Warn("client buffer full, dropping event",
				slog.String("client", c.id), slog.String("type", e.Type))
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were dropped for slow clients.
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.close()
		delete(h.clients, id)
	}
}

func (h *Hub) register(document string) *client {
	c := &client{
		id:       uuid.NewString(),
		document: document,
		ch:       make(chan Event, h.config.BufferSize),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
}

// Handler upgrades requests to WebSocket connections that receive events.
// The optional "document" query parameter limits a connection to one
// document. Messages from clients are ignored.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Debug("websocket upgrade failed", slog.Any("error", err))
			return
		}
		defer func() { _ = conn.Close() }()

		c := h.register(r.URL.Query().Get("document"))
		defer h.unregister(c)
		h.logger.Debug("client connected", slog.String("client", c.id))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		pongWait := 2 * h.config.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		h.writeLoop(ctx, conn, c)
	}
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub closed"),
				time.Now().Add(h.config.WriteTimeout))
			return
		case e := <-c.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("write failed, dropping client", slog.String("client", c.id), slog.Any("error", err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteTimeout)); err != nil {
				return
			}
		}
	}
}
