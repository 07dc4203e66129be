package notifications

import (
	"log"
	"sync/atomic"
	"time"

	"spacechat/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16384
)

// WSHub is an interface for hubs that manage generic clients
type WSHub interface {
	UnregisterClient(c *Client)
	Name() string
}

// Client is a generic middleman between the websocket connection and a hub.
type Client struct {
	Hub WSHub

	// The websocket connection.
	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	// UserID is the email of the connected user.
	UserID string

	// Callback for handling incoming messages
	IncomingHandler func(*Client, []byte)

	// window is the newest full feed window not yet written. Feed windows
	// replace each other, so only the latest one is kept.
	window      atomic.Pointer[[]byte]
	lastWindow  atomic.Pointer[[]byte]
	windowReady chan struct{}
}

// NewClient creates a new Client instance
func NewClient(hub WSHub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		Hub:         hub,
		Conn:        conn,
		UserID:      userID,
		Send:        make(chan []byte, 256),
		windowReady: make(chan struct{}, 1),
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { return c.Conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ReadPump Error (User %s): %v", c.UserID, err)
			}
			return
		}

		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump writes queued frames and pending feed windows to the connection
// and keeps it alive with pings. It returns once Send is closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(message); err != nil {
				return
			}

		case <-c.windowReady:
			frame := c.window.Swap(nil)
			if frame == nil {
				continue
			}
			if err := c.write(*frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(message []byte) error {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(websocket.TextMessage, message)
}

// SendWindow queues a full feed window. It never blocks and never waits
// behind the Send buffer: a window still pending is replaced by the newer one.
func (c *Client) SendWindow(frame []byte) {
	c.lastWindow.Store(&frame)
	c.window.Store(&frame)
	c.signalWindow()
}

func (c *Client) signalWindow() {
	select {
	case c.windowReady <- struct{}{}:
	default:
	}
}

// TrySend queues message without blocking. When the buffer is full the message
// is dropped; a feed client then gets its current window again so its view
// converges once the backlog clears.
func (c *Client) TrySend(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "closed").Inc()
		}
	}()

	select {
	case c.Send <- message:
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "full").Inc()
		log.Printf("Client %s (%s): buffer full, dropped frame", c.UserID, c.Hub.Name())

		if last := c.lastWindow.Load(); last != nil {
			c.window.CompareAndSwap(nil, last)
			c.signalWindow()
		}
	}
}
