package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lmoretti/lingo-gateway/internal/domain"
	"golang.org/x/time/rate"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is a client frame on the control channel.
type wsMessage struct {
	Type      string                   `json:"type"` // translate | cancel | stats
	Request   *domain.TranslateRequest `json:"request,omitempty"`
	RequestID string                   `json:"request_id,omitempty"`
}

// wsReply is a server frame: a translation result, a stats snapshot, a
// cancellation ack, or an error.
type wsReply struct {
	Type      string                  `json:"type"` // result | stats | cancelled | error
	RequestID string                  `json:"request_id,omitempty"`
	Result    *domain.TranslateResult `json:"result,omitempty"`
	Stats     *domain.Stats           `json:"stats,omitempty"`
	Cancelled bool                    `json:"cancelled,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent
// writer only.
type wsConn struct {
	conn    *websocket.Conn
	ownerID string
	send    chan wsReply
}

func (c *wsConn) reply(r wsReply) {
	select {
	case c.send <- r:
	default:
		// Slow consumer; drop rather than stall the dispatcher.
		slog.Warn("websocket send buffer full, dropping frame",
			"owner_id", c.ownerID, "type", r.Type)
	}
}

// handleWebSocket runs the long-lived control channel: translations and
// cancels in, results and periodic stats out. Disconnecting cancels
// everything the connection still has in flight.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{
		conn:    conn,
		ownerID: uuid.New().String(),
		send:    make(chan wsReply, 64),
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	slog.Info("websocket connected", "owner_id", c.ownerID)

	unsubscribe := h.dispatcher.Subscribe(func(s domain.Stats) {
		c.reply(wsReply{Type: "stats", Stats: &s})
	})

	defer func() {
		unsubscribe()
		if n := h.dispatcher.CancelOwner(c.ownerID); n > 0 {
			slog.Info("cancelled in-flight requests on disconnect",
				"owner_id", c.ownerID, "count", n)
		}
		conn.Close()
		slog.Info("websocket disconnected", "owner_id", c.ownerID)
	}()

	go c.writeLoop(ctx)

	limiter := rate.NewLimiter(h.wsRate, h.wsBurst)
	h.readLoop(ctx, c, limiter)
}

func (c *wsConn) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case reply := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(reply); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, c *wsConn, limiter *rate.Limiter) {
	c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		var msg wsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("websocket read error", "owner_id", c.ownerID, "error", err)
			}
			return
		}

		switch msg.Type {
		case "translate":
			if msg.Request == nil {
				c.reply(wsReply{Type: "error", Error: "translate message missing request"})
				continue
			}
			if !limiter.Allow() {
				c.reply(wsReply{
					Type:      "error",
					RequestID: msg.Request.RequestID,
					Error:     "message rate exceeded",
				})
				continue
			}

			req := *msg.Request
			if req.RequestID == "" {
				req.RequestID = uuid.New().String()
			}
			req.OwnerID = c.ownerID

			go func() {
				result, err := h.dispatcher.Translate(ctx, req)
				if err != nil {
					c.reply(wsReply{Type: "error", RequestID: req.RequestID, Error: err.Error()})
					return
				}
				c.reply(wsReply{Type: "result", RequestID: result.RequestID, Result: result})
			}()

		case "cancel":
			ok := h.dispatcher.Cancel(msg.RequestID)
			c.reply(wsReply{Type: "cancelled", RequestID: msg.RequestID, Cancelled: ok})

		case "stats":
			stats := h.dispatcher.Stats()
			c.reply(wsReply{Type: "stats", Stats: &stats})

		default:
			c.reply(wsReply{Type: "error", Error: "unknown message type: " + msg.Type})
		}
	}
}
