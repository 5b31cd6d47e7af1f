package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"codraft/internal/config"
	"codraft/internal/document/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type feedTestServer struct {
	t        *testing.T
	server   *httptest.Server
	mu       sync.Mutex
	conns    []*websocket.Conn
	upgrader websocket.Upgrader
	dials    int
}

func newFeedTestServer(t *testing.T) *feedTestServer {
	fs := &feedTestServer{t: t}
	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := fs.upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		fs.mu.Lock()
		fs.conns = append(fs.conns, conn)
		fs.dials++
		fs.mu.Unlock()
		// Keep the connection open; reads detect the client going away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(fs.server.Close)
	return fs
}

func (fs *feedTestServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.server.URL, "http") + "/ws?docId=doc-1"
}

func (fs *feedTestServer) dialCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.dials
}

func (fs *feedTestServer) latestConn() *websocket.Conn {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.conns) == 0 {
		return nil
	}
	return fs.conns[len(fs.conns)-1]
}

func (fs *feedTestServer) send(ev model.ChangeEvent) error {
	conn := fs.latestConn()
	if conn == nil {
		return fmt.Errorf("no connection")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func docEvent(i int) model.ChangeEvent {
	return model.ChangeEvent{
		Entity:     model.EntityDocument,
		EventType:  model.EventUpdate,
		DocumentID: "doc-1",
		Payload:    json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)),
	}
}

func TestFeedDeliversEventsInOrder(t *testing.T) {
	fs := newFeedTestServer(t)
	client := Subscribe(fs.wsURL(), nil, 10*time.Millisecond, 100*time.Millisecond)
	defer client.Unsubscribe()

	require.Eventually(t, func() bool { return fs.dialCount() == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < 10; i++ {
		require.NoError(t, fs.send(docEvent(i)))
	}

	// FIFO per subscription.
	for i := 0; i < 10; i++ {
		select {
		case ev := <-client.Events():
			assert.Equal(t, model.EntityDocument, ev.Entity)
			assert.JSONEq(t, fmt.Sprintf(`{"seq":%d}`, i), string(ev.Payload))
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestFeedReconnectsAfterDrop(t *testing.T) {
	fs := newFeedTestServer(t)
	client := Subscribe(fs.wsURL(), nil, 10*time.Millisecond, 100*time.Millisecond)
	defer client.Unsubscribe()

	require.Eventually(t, func() bool { return fs.dialCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, fs.send(docEvent(1)))

	select {
	case <-client.Events():
	case <-time.After(time.Second):
		t.Fatal("no event before drop")
	}

	// Kill the connection server-side. The client must reconnect on
	// its own without surfacing anything.
	fs.latestConn().Close()
	require.Eventually(t, func() bool { return fs.dialCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, fs.send(docEvent(2)))
	select {
	case ev := <-client.Events():
		assert.JSONEq(t, `{"seq":2}`, string(ev.Payload))
	case <-time.After(time.Second):
		t.Fatal("no event after reconnect")
	}
}

func TestFeedUnsubscribeIsIdempotent(t *testing.T) {
	fs := newFeedTestServer(t)
	client := Subscribe(fs.wsURL(), nil, 10*time.Millisecond, 100*time.Millisecond)

	require.Eventually(t, func() bool { return fs.dialCount() == 1 }, time.Second, 5*time.Millisecond)

	client.Unsubscribe()
	client.Unsubscribe()
	client.Unsubscribe()

	// The events channel closes so consumers can drain and stop.
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-client.Events():
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestFeedRetriesInitialDial(t *testing.T) {
	// Nothing listening yet: the subscriber must keep trying instead
	// of giving up.
	client := Subscribe("ws://127.0.0.1:1/ws", nil, 5*time.Millisecond, 20*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	client.Unsubscribe()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-client.Events():
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestDialUsesAppReconnectBounds(t *testing.T) {
	fs := newFeedTestServer(t)
	client := Dial(fs.wsURL(), nil, config.SyncConfig{
		ReconnectBase: 10 * time.Millisecond,
		ReconnectMax:  100 * time.Millisecond,
	})
	defer client.Unsubscribe()

	require.Eventually(t, func() bool { return fs.dialCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, fs.send(docEvent(1)))

	select {
	case ev := <-client.Events():
		assert.JSONEq(t, `{"seq":1}`, string(ev.Payload))
	case <-time.After(time.Second):
		t.Fatal("no event through config-driven subscription")
	}
}
