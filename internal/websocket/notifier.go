package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ChangeHandler is invoked for every replica change announcement from another
// device. Called from the notifier's read loop; implementations should hand
// off long work to their own goroutine.
type ChangeHandler interface {
	HandleReplicaChange(ctx context.Context, payload *ReplicaChangedPayload)
}

// Notifier maintains the subscription to the replica store's change feed and
// dispatches incoming announcements. It reconnects with a fixed backoff until
// its context is cancelled.
type Notifier struct {
	url           string
	deviceID      string
	bearerFunc    func() (string, error)
	handler       ChangeHandler
	writeWait     time.Duration
	pongWait      time.Duration
	pingPeriod    time.Duration
	reconnectWait time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewNotifier(
	url, deviceID string,
	bearerFunc func() (string, error),
	handler ChangeHandler,
	writeWait, pongWait, pingPeriod, reconnectWait time.Duration,
) *Notifier {
	return &Notifier{
		url:           url,
		deviceID:      deviceID,
		bearerFunc:    bearerFunc,
		handler:       handler,
		writeWait:     writeWait,
		pongWait:      pongWait,
		pingPeriod:    pingPeriod,
		reconnectWait: reconnectWait,
	}
}

// Run blocks until ctx is cancelled, holding the subscription open and
// re-dialing after any disconnect.
func (n *Notifier) Run(ctx context.Context) {
	for {
		if err := n.connect(ctx); err != nil {
			log.Printf("change feed connect failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(n.reconnectWait):
		}
	}
}

func (n *Notifier) connect(ctx context.Context) error {
	bearer, err := n.bearerFunc()
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+bearer)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, n.url, header)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.conn = conn
	n.mu.Unlock()

	defer func() {
		conn.Close()
		n.mu.Lock()
		n.conn = nil
		n.mu.Unlock()
	}()

	done := make(chan struct{})
	go n.pingLoop(ctx, conn, done)
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(n.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(n.pongWait))
		return nil
	})

	log.Printf("subscribed to replica change feed at %s", n.url)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("change feed read error: %v", err)
			}
			return nil
		}

		n.dispatch(ctx, data)
	}
}

func (n *Notifier) dispatch(ctx context.Context, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("ignoring malformed change feed message: %v", err)
		return
	}

	switch msg.Type {
	case TypeReplicaChanged:
		var payload ReplicaChangedPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			log.Printf("ignoring malformed change payload: %v", err)
			return
		}
		if payload.DeviceID == n.deviceID {
			return // our own write echoed back
		}
		n.handler.HandleReplicaChange(ctx, &payload)

	case TypePing:
		// Server-level keepalive on top of protocol pings; nothing to do.
	}
}

func (n *Notifier) pingLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(n.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(n.writeWait))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			conn.Close()
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(n.writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
