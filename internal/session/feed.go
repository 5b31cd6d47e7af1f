package session

import (
	"net/http"
	"sync"
	"time"

	"codraft/internal/config"
	"codraft/internal/document/model"
	"codraft/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
)

// FeedClient subscribes to the server-pushed change feed for one
// document over a websocket. Events are delivered FIFO on a single
// channel. A dropped connection never surfaces an error: the client
// reconnects with fibonacci backoff and jitter, and the session simply
// stops receiving updates until it is back.
type FeedClient struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	events chan model.ChangeEvent
	done   chan struct{}
	once   sync.Once

	reconnectBase time.Duration
	reconnectMax  time.Duration
}

// Subscribe opens one logical feed connection and starts pumping
// events. wsURL must already carry the docId (and auth token) query
// parameters.
func Subscribe(wsURL string, header http.Header, reconnectBase, reconnectMax time.Duration) *FeedClient {
	if reconnectBase <= 0 {
		reconnectBase = time.Second
	}
	if reconnectMax < reconnectBase {
		reconnectMax = 30 * time.Second
	}
	c := &FeedClient{
		url:           wsURL,
		header:        header,
		dialer:        websocket.DefaultDialer,
		events:        make(chan model.ChangeEvent, 64),
		done:          make(chan struct{}),
		reconnectBase: reconnectBase,
		reconnectMax:  reconnectMax,
	}
	go c.run()
	return c
}

// Dial is Subscribe with the reconnect bounds taken from the
// application's sync settings.
func Dial(wsURL string, header http.Header, sc config.SyncConfig) *FeedClient {
	return Subscribe(wsURL, header, sc.ReconnectBase, sc.ReconnectMax)
}

// Events is the FIFO notification stream. The channel is closed after
// Unsubscribe.
func (c *FeedClient) Events() <-chan model.ChangeEvent {
	return c.events
}

// Unsubscribe releases the connection. Idempotent.
func (c *FeedClient) Unsubscribe() {
	c.once.Do(func() { close(c.done) })
}

func (c *FeedClient) run() {
	defer close(c.events)

	backoff := c.newBackoff()
	for {
		select {
		case <-c.done:
			return
		default:
		}

		conn, resp, err := c.dialer.Dial(c.url, c.header)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			wait, _ := backoff.Next()
			logger.Sugar.Debugf("Feed dial failed, retrying in %s: %v", wait, err)
			select {
			case <-c.done:
				return
			case <-time.After(wait):
			}
			continue
		}
		if resp != nil {
			resp.Body.Close()
		}

		// Fresh connection: reset the backoff ladder.
		backoff = c.newBackoff()
		c.pump(conn)
	}
}

// pump reads events until the connection drops or Unsubscribe is called.
func (c *FeedClient) pump(conn *websocket.Conn) {
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-c.done:
			conn.Close() // unblock ReadJSON
		case <-stop:
		}
	}()

	for {
		var ev model.ChangeEvent
		if err := conn.ReadJSON(&ev); err != nil {
			select {
			case <-c.done:
			default:
				logger.Sugar.Debugf("Feed connection dropped: %v", err)
			}
			return
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *FeedClient) newBackoff() retry.Backoff {
	b := retry.NewFibonacci(c.reconnectBase)
	b = retry.WithCappedDuration(c.reconnectMax, b)
	b = retry.WithJitterPercent(20, b)
	return b
}
