// internal/ws/hub_test.go
package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"todocore/internal/bus"
	"todocore/internal/clock"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func newTestHub() *Hub {
	clk := clock.NewFake(time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC))
	return NewHub(50*time.Millisecond, time.Second, 500*time.Millisecond, clk, zap.NewNop())
}

// dialSession connects a client to the hub through a real HTTP upgrade.
func dialSession(t *testing.T, hub *Hub, tenantID uuid.UUID) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		go hub.Attach(context.Background(), tenantID, conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Wait for the hub to register the session.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.sessions[tenantID]) > 0
	}, 2*time.Second, 10*time.Millisecond)

	return conn
}

func testEnvelope(t *testing.T, tenantID uuid.UUID) bus.Envelope {
	t.Helper()
	env, err := bus.NewEnvelope(tenantID, bus.EventTaskUpdated, time.Now().UTC(), bus.TaskPayload{})
	require.NoError(t, err)
	return env
}

func TestHub_BroadcastReachesTenantSessions(t *testing.T) {
	hub := newTestHub()
	defer hub.Shutdown()

	tenantID := uuid.New()
	conn := dialSession(t, hub, tenantID)

	env := testEnvelope(t, tenantID)
	hub.Broadcast(env)

	var got bus.Envelope
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, env.EventID, got.EventID)
	assert.Equal(t, bus.EventTaskUpdated, got.Type)
}

func TestHub_BroadcastIsTenantScoped(t *testing.T) {
	hub := newTestHub()
	defer hub.Shutdown()

	tenantA := uuid.New()
	tenantB := uuid.New()
	connA := dialSession(t, hub, tenantA)
	connB := dialSession(t, hub, tenantB)

	hub.Broadcast(testEnvelope(t, tenantA))

	var got bus.Envelope
	require.NoError(t, connA.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, connA.ReadJSON(&got))
	assert.Equal(t, tenantA, got.TenantID)

	// Tenant B must see nothing.
	require.NoError(t, connB.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var stray bus.Envelope
	err := connB.ReadJSON(&stray)
	assert.Error(t, err, "tenant B received another tenant's event")
}

func TestHub_MultipleSessionsPerTenant(t *testing.T) {
	hub := newTestHub()
	defer hub.Shutdown()

	tenantID := uuid.New()
	conn1 := dialSession(t, hub, tenantID)
	conn2 := dialSession(t, hub, tenantID)

	env := testEnvelope(t, tenantID)
	hub.Broadcast(env)

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		var got bus.Envelope
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, env.EventID, got.EventID)
	}
}

func TestHub_FailedSessionIsEvictedOthersSurvive(t *testing.T) {
	hub := newTestHub()
	defer hub.Shutdown()

	tenantID := uuid.New()
	dead := dialSession(t, hub, tenantID)
	alive := dialSession(t, hub, tenantID)

	// Kill one client's TCP side, then broadcast until the hub notices.
	require.NoError(t, dead.Close())
	require.Eventually(t, func() bool {
		hub.Broadcast(testEnvelope(t, tenantID))
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.sessions[tenantID]) == 1
	}, 5*time.Second, 50*time.Millisecond)

	// The surviving session still receives events.
	env := testEnvelope(t, tenantID)
	hub.Broadcast(env)

	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, alive.SetReadDeadline(time.Now().Add(2*time.Second)))
		var got bus.Envelope
		require.NoError(t, alive.ReadJSON(&got))
		if got.EventID == env.EventID {
			break
		}
		require.True(t, time.Now().Before(deadline), "did not receive the final event")
	}
}

func TestHub_HandleForwardsUpdates(t *testing.T) {
	hub := newTestHub()
	defer hub.Shutdown()

	tenantID := uuid.New()
	conn := dialSession(t, hub, tenantID)

	env := testEnvelope(t, tenantID)
	require.NoError(t, hub.Handle(context.Background(), env))

	var got bus.Envelope
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, env.EventID, got.EventID)
}
