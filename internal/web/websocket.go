package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/gimbal/internal/debug"
	"github.com/cjeanneret/gimbal/internal/logic/motion"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 65536
)

// wsClient is one WebSocket connection. readPump and writePump each own
// one direction of the connection.
type wsClient struct {
	conn *websocket.Conn
	h    *Handlers
	send chan []byte

	once sync.Once
	done chan struct{}
}

// HandleWebSocket handles GET /ws. Clients send "move", "clear", "status"
// and "ping" messages and receive "ack", "error", "status" and "pong".
// Every snapshot published by the controller is pushed as "status".
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Warn("web: websocket upgrade: %v", err)
		return
	}

	c := &wsClient{
		conn: conn,
		h:    h,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	debug.Verbose("web: websocket client %s connected", r.RemoteAddr)

	go c.writePump()
	go func() {
		select {
		case <-r.Context().Done():
			c.close()
		case <-c.done:
		}
	}()
	if h.Broadcaster != nil {
		go c.forwardStatus()
	}

	if resp, err := h.Status(); err == nil {
		c.sendMessage(TypeStatus, resp)
	}
	c.readPump(r.Context())
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *wsClient) sendMessage(msgType string, payload any) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		debug.Warn("web: build %s message: %v", msgType, err)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		debug.Warn("web: marshal %s message: %v", msgType, err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		debug.Verbose("web: websocket send buffer full, dropping %s", msgType)
	}
}

func (c *wsClient) sendError(code, text string) {
	c.sendMessage(TypeError, ErrorPayload{Code: code, Message: text})
}

// forwardStatus relays snapshot events from the broadcaster.
func (c *wsClient) forwardStatus() {
	ch, unsub := c.h.Broadcaster.Subscribe()
	defer unsub()
	for {
		select {
		case <-c.done:
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			var evt StatusEvent
			if err := json.Unmarshal([]byte(raw), &evt); err != nil || evt.Level != LevelStatus {
				continue
			}
			data, err := json.Marshal(Message{Type: TypeStatus, Payload: evt.Data})
			if err != nil {
				continue
			}
			select {
			case c.send <- data:
			case <-c.done:
				return
			default:
			}
		}
	}
}

func (c *wsClient) readPump(ctx context.Context) {
	defer c.close()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				debug.Warn("web: websocket read: %v", err)
			}
			return
		}
		c.handleMessage(ctx, data)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handleMessage(ctx context.Context, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(ErrCodeInvalidMessage, "failed to parse message")
		return
	}

	switch msg.Type {
	case TypePing:
		var payload PingPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(ErrCodeInvalidMessage, err.Error())
			return
		}
		c.sendMessage(TypePong, PongPayload{
			ClientTimestamp: payload.Timestamp,
			ServerTimestamp: time.Now().UnixMilli(),
		})

	case TypeMove:
		var req MoveRequest
		if err := msg.ParsePayload(&req); err != nil {
			c.sendError(ErrCodeInvalidMessage, err.Error())
			return
		}
		cmd, err := req.Cmd()
		if err != nil {
			c.sendError(ErrCodeInvalidMove, err.Error())
			return
		}
		c.submit(ctx, cmd)

	case TypeClear:
		c.submit(ctx, motion.ClearQueue())

	case TypeStatus:
		resp, err := c.h.Status()
		if err != nil {
			c.sendError(ErrCodeUnavailable, err.Error())
			return
		}
		c.sendMessage(TypeStatus, resp)

	default:
		c.sendError(ErrCodeInvalidMessage, "unknown message type "+msg.Type)
	}
}

func (c *wsClient) submit(ctx context.Context, cmd motion.Cmd) {
	if err := c.h.submit(ctx, cmd); err != nil {
		c.sendError(submitErrorCode(err), err.Error())
		return
	}
	ack := AckPayload{Status: "queued"}
	if c.h.Controller != nil {
		ack.Queued = c.h.Controller.Snapshot().Queued
	}
	c.sendMessage(TypeAck, ack)
}
