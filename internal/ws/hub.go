// internal/ws/hub.go
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"todocore/internal/bus"
	"todocore/internal/clock"
	"todocore/internal/metrics"
)

// ConsumerSync is the stable consumer name of the sync fan-out in the
// idempotency ledger.
const ConsumerSync = "sync-fanout"

// Hub fans task-update events out to the WebSocket sessions of the tenant
// they belong to. Delivery is best effort: a session that cannot be written
// to within the send timeout is evicted, never retried.
type Hub struct {
	pingInterval time.Duration
	idleTimeout  time.Duration
	sendTimeout  time.Duration
	clock        clock.Clock
	logger       *zap.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]map[*Session]struct{}
}

func NewHub(pingInterval, idleTimeout, sendTimeout time.Duration, clk clock.Clock, logger *zap.Logger) *Hub {
	return &Hub{
		pingInterval: pingInterval,
		idleTimeout:  idleTimeout,
		sendTimeout:  sendTimeout,
		clock:        clk,
		logger:       logger,
		sessions:     make(map[uuid.UUID]map[*Session]struct{}),
	}
}

// Register subscribes the hub to the update stream.
func (h *Hub) Register(d *bus.Dispatcher) {
	d.Subscribe(bus.TaskUpdatesPrefix, ConsumerSync, h.Handle)
}

// Handle forwards one event to every session of its tenant.
func (h *Hub) Handle(ctx context.Context, env bus.Envelope) error {
	h.Broadcast(env)
	return nil
}

// Broadcast writes the envelope to each live session of env.TenantID.
// Failed sessions are evicted; healthy sessions are unaffected.
func (h *Hub) Broadcast(env bus.Envelope) {
	start := h.clock.Now()

	h.mu.RLock()
	set := h.sessions[env.TenantID]
	snapshot := make([]*Session, 0, len(set))
	for s := range set {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	for _, s := range snapshot {
		if err := s.send(env, h.sendTimeout); err != nil {
			h.logger.Warn("evicting unresponsive sync session",
				zap.String("tenant_id", env.TenantID.String()),
				zap.Error(err))
			h.detach(s)
			s.close()
		}
	}
	metrics.SyncLatency.Observe(h.clock.Now().Sub(start).Seconds())
}

// Attach takes ownership of an upgraded connection and runs its read and
// ping loops until the peer disconnects or the context is cancelled.
func (h *Hub) Attach(ctx context.Context, tenantID uuid.UUID, conn *websocket.Conn) {
	s := &Session{tenantID: tenantID, conn: conn}

	h.mu.Lock()
	set := h.sessions[tenantID]
	if set == nil {
		set = make(map[*Session]struct{})
		h.sessions[tenantID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	metrics.ActiveSessions.Inc()

	h.logger.Info("sync session opened", zap.String("tenant_id", tenantID.String()))
	defer func() {
		h.detach(s)
		s.close()
		h.logger.Info("sync session closed", zap.String("tenant_id", tenantID.String()))
	}()

	go h.pingLoop(ctx, s)
	h.readLoop(s)
}

// Shutdown closes every live session.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	var all []*Session
	for _, set := range h.sessions {
		for s := range set {
			all = append(all, s)
		}
	}
	h.sessions = make(map[uuid.UUID]map[*Session]struct{})
	h.mu.Unlock()

	for _, s := range all {
		s.close()
		metrics.ActiveSessions.Dec()
	}
}

func (h *Hub) detach(s *Session) {
	h.mu.Lock()
	set := h.sessions[s.tenantID]
	if _, ok := set[s]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.sessions, s.tenantID)
		}
		metrics.ActiveSessions.Dec()
	}
	h.mu.Unlock()
}

// readLoop drains inbound frames to service pong handlers and notice the
// peer going away. Client frames carry no commands and are discarded.
func (h *Hub) readLoop(s *Session) {
	s.conn.SetReadLimit(4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(h.idleTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(h.idleTimeout))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(h.idleTimeout))
	}
}

func (h *Hub) pingLoop(ctx context.Context, s *Session) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.close()
			return
		case <-ticker.C:
			if err := s.ping(h.sendTimeout); err != nil {
				s.close()
				return
			}
		}
	}
}

// Session is a single tenant-scoped WebSocket connection. Writes are
// serialized by writeMu since gorilla connections allow one writer at a
// time.
type Session struct {
	tenantID uuid.UUID
	conn     *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *Session) send(env bus.Envelope, timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	return s.conn.WriteJSON(env)
}

func (s *Session) ping(timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}
