package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"squadstream/events"
	"squadstream/log"
	"squadstream/output"
	"squadstream/subscription"
	"squadstream/supervisor"
	"squadstream/web/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// EventsOptions configures EventsHandler.
type EventsOptions struct {
	// BatchDelay coalesces events written to one client.
	BatchDelay time.Duration
	// HighWaterMark disconnects clients that fall this many events behind.
	HighWaterMark int
}

// ParseFilter builds a subscription filter from the query parameters channel, key and
// session. channel and session may repeat or hold comma separated lists.
func ParseFilter(r *http.Request) (subscription.Filter, error) {
	q := r.URL.Query()
	filter := subscription.Filter{
		Key:        q.Get("key"),
		SessionIDs: splitValues(q["session"]),
	}
	for _, name := range splitValues(q["channel"]) {
		ch := events.Channel(name)
		if !ch.Valid() {
			return subscription.Filter{}, errors.New("unknown channel " + name)
		}
		filter.Channels = append(filter.Channels, ch)
	}
	return filter, nil
}

func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// EventsHandler streams hub events to a websocket client through a batched subscription.
//
// With a key filter the client first receives a snapshot of that key's buffer. The
// subscription is registered before the snapshot is taken, so events may overlap the
// snapshot but none are missed. Clients connecting with privileges=read-write may send
// input and resize messages to the terminal of the key.
func EventsHandler(bridge *subscription.Bridge, buffers *output.Registry, procs ProcessController, opts EventsOptions) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// Origins are policed by the CORS and auth middleware.
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := ParseFilter(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		privileges := r.URL.Query().Get("privileges")
		if privileges == "" {
			privileges = "read-only"
		}
		if privileges != "read-only" && privileges != "read-write" {
			http.Error(w, "Invalid privileges parameter", http.StatusBadRequest)
			return
		}
		if privileges == "read-write" && filter.Key == "" {
			http.Error(w, "read-write requires a key", http.StatusBadRequest)
			return
		}

		// Subscribe before completing the handshake, so everything published after the
		// client connected is delivered.
		sub := bridge.Subscribe(filter, subscription.Policy{
			Delivery:      subscription.Batched,
			Delay:         opts.BatchDelay,
			HighWaterMark: opts.HighWaterMark,
		})
		defer sub.Cancel()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.ErrorLog.Printf("WebSocket upgrade failed from %s: %v", r.RemoteAddr, err)
			return
		}
		defer conn.Close()
		log.InfoLog.Printf("WebSocket: subscription %s opened for %s (key=%q)", sub.ID, r.RemoteAddr, filter.Key)

		c := &client{conn: conn, procs: procs, key: filter.Key}

		if filter.Key != "" {
			if buf, ok := buffers.Lookup(filter.Key); ok {
				err := c.write(types.ServerMessage{
					Type: types.MessageSnapshot,
					Snapshot: &types.BufferDetail{
						Key:       filter.Key,
						Truncated: buf.Truncated(),
						Entries:   types.NewBufferEntries(buf.ToArray()),
					},
				})
				if err != nil {
					log.WarningLog.Printf("WebSocket: error sending snapshot to %s: %v", r.RemoteAddr, err)
					return
				}
			}
		}

		// The request context is not cancelled when a hijacked connection goes away; the
		// read loop notices instead.
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			defer cancel()
			c.readLoop(privileges == "read-write")
		}()
		go c.pingLoop(ctx)

		for {
			batch, err := sub.Next(ctx)
			if err != nil {
				if errors.Is(err, subscription.ErrOverflow) {
					log.WarningLog.Printf("WebSocket: %s fell behind, disconnecting", r.RemoteAddr)
					_ = c.write(types.ServerMessage{Type: types.MessageError, Error: err.Error()})
					_ = c.close(websocket.ClosePolicyViolation, "subscriber fell behind")
				}
				break
			}
			if err := c.write(types.ServerMessage{Type: types.MessageEvents, Events: batch}); err != nil {
				log.InfoLog.Printf("WebSocket: write to %s failed: %v", r.RemoteAddr, err)
				break
			}
		}
		log.InfoLog.Printf("WebSocket: subscription %s closed", sub.ID)
	}
}

// client serializes writes to one websocket connection.
type client struct {
	conn  *websocket.Conn
	procs ProcessController
	key   string

	writeMu sync.Mutex
}

func (c *client) write(msg types.ServerMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *client) close(code int, text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

func (c *client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readLoop consumes client messages until the connection closes.
func (c *client) readLoop(writable bool) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.InfoLog.Printf("WebSocket: read error for %s: %v", c.key, err)
			}
			return
		}
		if !writable {
			continue
		}

		var msg types.ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			_ = c.write(types.ServerMessage{Type: types.MessageError, Error: "invalid message format"})
			continue
		}
		switch msg.Type {
		case types.InputData:
			err = c.procs.Write(c.key, []byte(msg.Data))
		case types.InputResize:
			if err = supervisor.ValidateSize(msg.Cols, msg.Rows); err == nil {
				err = c.procs.Resize(c.key, msg.Cols, msg.Rows)
			}
		default:
			err = errors.New("unknown message type " + msg.Type)
		}
		if err != nil {
			_ = c.write(types.ServerMessage{Type: types.MessageError, Error: err.Error()})
		}
	}
}
