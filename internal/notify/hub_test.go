package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.Serve))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestServeSendsWelcome(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	conn := dialHub(t, hub)

	env := readEnvelope(t, conn)
	assert.Equal(t, EventSystemMessage, env.Event)
	assert.False(t, env.Timestamp.IsZero())
}

func TestEmitBroadcasts(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	first := dialHub(t, hub)
	second := dialHub(t, hub)
	readEnvelope(t, first)
	readEnvelope(t, second)

	// Serve registers the client in a separate goroutine path; wait for
	// both to be tracked before broadcasting.
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	hub.Emit(EventTaskUpdate, map[string]string{"task_id": "t1", "status": "processing"})

	for _, conn := range []*websocket.Conn{first, second} {
		env := readEnvelope(t, conn)
		assert.Equal(t, EventTaskUpdate, env.Event)
		payload := env.Payload.(map[string]any)
		assert.Equal(t, "t1", payload["task_id"])
	}
}

// The worker, the HTTP handlers and the upload watcher all emit from
// their own goroutines; the hub must funnel them through one writer per
// connection.
func TestEmitFromManyGoroutines(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	conn := dialHub(t, hub)
	readEnvelope(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				hub.Emit(EventTaskUpdate, map[string]int{"emitter": i, "seq": j})
			}
		}(i)
	}
	wg.Wait()

	// The hub must survive the burst; the observer may have been dropped
	// as too slow, but nothing may panic or wedge.
	hub.Emit(EventSystemMessage, map[string]string{"message": "done"})
	require.NoError(t, conn.Close())
	<-done
}

func TestDeadClientIsDropped(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	conn := dialHub(t, hub)
	readEnvelope(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	// The read loop notices the close and unregisters the client.
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	// Emitting afterwards must not panic or block.
	hub.Emit(EventLogMessage, map[string]string{"level": "info", "message": "noop"})
}

func TestCloseRejectsNewConnections(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.Serve))
	defer srv.Close()

	hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		// The upgrade may succeed before the hub closes the socket;
		// the connection must then be unusable.
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		_, _, readErr := conn.ReadMessage()
		assert.Error(t, readErr)
		_ = conn.Close()
	}
	assert.Zero(t, hub.ClientCount())
}
