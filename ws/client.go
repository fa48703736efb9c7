package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jkettu/huddle/globals"
	"github.com/jkettu/huddle/types"
)

const (
	maxMessageSize  = 4096
	pongWait        = 2 * time.Minute
	pingPeriod      = time.Minute
	writeWait       = 10 * time.Second
	sendChannelSize = 256
)

// Client is a middleman between one websocket connection and the gateway.
// It owns no shared state; the identity bound by user_online is the only
// per-connection state beyond the transport itself.
type Client struct {
	gw   *Gateway
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	Send chan []byte

	connId string

	// identity verified out-of-band (OIDC); empty for guest connections
	identity string

	mu     sync.Mutex
	user   *types.User // nil while the connection is unidentified
	closed bool
	done   chan struct{}
}

func NewClient(gw *Gateway, conn *websocket.Conn, identity string) *Client {
	return &Client{
		gw:       gw,
		conn:     conn,
		Send:     make(chan []byte, sendChannelSize),
		connId:   uuid.New().String(),
		identity: identity,
		done:     make(chan struct{}),
	}
}

func (c *Client) bindUser(user *types.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = user
}

// boundUser returns a copy of the bound user, or false while unidentified.
func (c *Client) boundUser() (types.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return types.User{}, false
	}
	return *c.user, true
}

func (c *Client) userId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return ""
	}
	return c.user.Id
}

func (c *Client) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// Enqueue hands a serialized frame to the connection's write pump. It never
// blocks: frames for a closed or saturated connection are dropped, which
// the routing layer tolerates.
func (c *Client) Enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}

// sendEvent marshals payload into a frame and enqueues it for this
// connection only.
func (c *Client) sendEvent(event string, payload interface{}) {
	frame, err := types.NewFrame(event, payload)
	if err != nil {
		globals.AppLogger.Error("could not marshal frame", "event", event, "error", err)
		return
	}
	c.Enqueue(frame)
}

func (c *Client) sendError(reason string) {
	c.sendEvent(types.EventError, types.ErrorMessage{Reason: reason})
}

// ReadLoop pumps frames from the websocket connection into the gateway.
//
// There is one ReadLoop goroutine per connection and all handler calls for
// the connection happen on it, so per-connection state changes stay
// sequential while connections run concurrently with each other.
func (c *Client) ReadLoop() {
	defer func() {
		c.conn.Close()
		c.gw.Disconnect(c)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				globals.AppLogger.Debug("ws closed unexpectedly", "error", err)
			}
			return
		}
		frame := &types.Frame{}
		if err := json.Unmarshal(raw, frame); err != nil {
			globals.AppLogger.Debug("could not unmarshal ws frame", "error", err)
			continue
		}
		c.gw.Dispatch(c, frame)
	}
}

// WriteLoop pumps frames from the Send channel to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection; all writes
// to the connection happen from it.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
