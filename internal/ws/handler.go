package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/campustrack/busrelay/internal/logging"
	"github.com/campustrack/busrelay/internal/relay"
)

// Relay is the part of *relay.Hub the transport drives.
type Relay interface {
	Connect(sink relay.Sink) relay.ConnectionID
	Disconnect(id relay.ConnectionID)
	Subscribe(id relay.ConnectionID, routeID string) ([]relay.LocationUpdate, error)
	Unsubscribe(id relay.ConnectionID, routeID string) error
}

// Config tunes the transport. Zero values take defaults.
type Config struct {
	SendQueueSize  int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingInterval   time.Duration
	AllowedOrigins []string
}

const maxControlMessageSize = 4 << 10

// Handler upgrades viewers to websockets and binds them to the relay.
type Handler struct {
	relay    Relay
	cfg      Config
	upgrader websocket.Upgrader
	log      logging.Logger
}

// NewHandler returns a Handler binding upgraded viewers to r.
func NewHandler(r Relay, cfg Config, log logging.Logger) *Handler {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongTimeout {
		cfg.PingInterval = cfg.PongTimeout * 9 / 10
	}
	h := &Handler{relay: r, cfg: cfg, log: log}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// checkOrigin allows any origin when none are configured.
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "ws upgrade error", logging.Err(err))
		return
	}
	c := newClient(conn, h.cfg.SendQueueSize)
	id := h.relay.Connect(c)
	ctx := context.WithoutCancel(r.Context())
	log := h.log.With(logging.String("conn_id", string(id)))
	log.Debug(ctx, "viewer connected", logging.String("remote", r.RemoteAddr))

	go h.writePump(c)
	h.readPump(ctx, c, id, log)
}

// readPump handles control messages until the socket fails, then detaches
// the connection from the relay.
func (h *Handler) readPump(ctx context.Context, c *client, id relay.ConnectionID, log logging.Logger) {
	defer func() {
		h.relay.Disconnect(id)
		_ = c.Close()
		log.Debug(ctx, "viewer disconnected")
	}()

	c.conn.SetReadLimit(maxControlMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug(ctx, "ws read error", logging.Err(err))
			}
			return
		}
		if err := h.handleControl(ctx, c, id, data); err != nil {
			if errors.Is(err, relay.ErrUnknownConnection) || errors.Is(err, ErrClientClosed) {
				return
			}
			if errors.Is(err, ErrSendQueueFull) {
				log.Warn(ctx, "viewer not draining, closing")
				return
			}
		}
	}
}

func (h *Handler) handleControl(ctx context.Context, c *client, id relay.ConnectionID, data []byte) error {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return c.enqueue(encodeEvent(EventError, "", ErrorData{Message: "malformed control message"}))
	}
	msg.RouteID = strings.TrimSpace(msg.RouteID)
	if msg.RouteID == "" {
		return c.enqueue(encodeEvent(EventError, "", ErrorData{Message: "routeId is required"}))
	}

	switch msg.Type {
	case TypeSubscribe:
		snapshot, err := h.relay.Subscribe(id, msg.RouteID)
		if err != nil {
			return err
		}
		frame, err := encodeSnapshot(msg.RouteID, snapshot)
		if err != nil {
			h.log.Error(ctx, "encode snapshot failed", logging.Err(err))
			return nil
		}
		return c.enqueue(frame)
	case TypeUnsubscribe:
		if err := h.relay.Unsubscribe(id, msg.RouteID); err != nil {
			return err
		}
		return c.enqueue(encodeEvent(EventUnsubscribed, msg.RouteID, nil))
	default:
		return c.enqueue(encodeEvent(EventError, msg.RouteID, ErrorData{Message: "unknown message type " + msg.Type}))
	}
}

// writePump owns all writes to the socket.
func (h *Handler) writePump(c *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
