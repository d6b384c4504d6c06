package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-live-attendance/pkg/config"
)

// Frame is one inbound websocket message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// FrameHandler dispatches inbound frames and observes disconnects.
type FrameHandler interface {
	HandleFrame(ctx context.Context, client *Client, frame Frame)
	HandleDisconnect(client *Client)
}

// Client wraps one websocket connection with buffered writes and keepalive.
// It carries the authenticated identity established at the handshake; frames
// never override it.
type Client struct {
	id     string
	userID string
	role   string

	ws   *websocket.Conn
	send chan outbound
	cfg  config.RealtimeConfig

	logger    *zap.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps an upgraded websocket connection.
func NewClient(ws *websocket.Conn, userID, role string, cfg config.RealtimeConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	bufferSize := cfg.SendBufferSize
	if bufferSize <= 0 {
		bufferSize = 32
	}
	return &Client{
		id:     uuid.NewString(),
		userID: userID,
		role:   role,
		ws:     ws,
		send:   make(chan outbound, bufferSize),
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated participant identity.
func (c *Client) UserID() string { return c.userID }

// Role returns the authenticated caller role.
func (c *Client) Role() string { return c.role }

// Send enqueues an event for delivery. A slow consumer whose buffer is full
// loses the message rather than blocking the broadcaster.
func (c *Client) Send(event string, payload map[string]interface{}) error {
	select {
	case <-c.done:
		return fmt.Errorf("connection %s closed", c.id)
	default:
	}
	select {
	case c.send <- outbound{Event: event, Data: payload}:
		return nil
	default:
		return fmt.Errorf("send buffer full for connection %s", c.id)
	}
}

// Run pumps the connection until it closes, then reports the disconnect.
// It blocks for the lifetime of the connection.
func (c *Client) Run(ctx context.Context, handler FrameHandler) {
	go c.writePump()
	c.readPump(ctx, handler)
	c.close()
	handler.HandleDisconnect(c)
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Client) readPump(ctx context.Context, handler FrameHandler) {
	if c.cfg.MaxMessageBytes > 0 {
		c.ws.SetReadLimit(c.cfg.MaxMessageBytes)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
			c.logger.Debug("malformed frame dropped", zap.String("conn_id", c.id))
			continue
		}
		handler.HandleFrame(ctx, c, frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
