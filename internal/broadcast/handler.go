package broadcast

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
)

// Handler upgrades HTTP requests to websocket sessions bound to a Hub.
type Handler struct {
	hub        *Hub
	upgrader   websocket.Upgrader
	log        zerolog.Logger
	pingPeriod time.Duration
	pongWait   time.Duration
}

func NewHandler(hub *Hub, log zerolog.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Observers are dashboards served from other origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:        log,
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Debug().Err(err).Str("event", "ws.upgrade_failed").Msg("websocket upgrade failed")
		return
	}
	c, err := h.hub.Connect()
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	defer h.hub.Disconnect(c.ID)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(conn, c)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, conn, c)
	}()
	wg.Wait()
}

// readLoop applies inbound subscription frames until the connection fails.
func (h *Handler) readLoop(conn *websocket.Conn, c *Client) {
	log := h.log.With().Str("client_id", c.ID).Logger()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Str("event", "ws.read_failed").Msg("websocket read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
		h.hub.Touch(c.ID)

		msg, err := Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("event", "ws.bad_message").Int("bytes", len(data)).Msg("ignoring inbound message")
			continue
		}
		switch m := msg.(type) {
		case Subscribe:
			err = h.hub.Subscribe(c.ID, m.TrainIDs)
			log.Info().Str("event", "ws.subscribe").Strs("train_ids", m.TrainIDs).Msg("train subscription replaced")
		case SubscribeSection:
			err = h.hub.SubscribeSections(c.ID, m.SectionIDs)
			log.Info().Str("event", "ws.subscribe_section").Strs("section_ids", m.SectionIDs).Msg("section subscription replaced")
		default:
			log.Warn().Str("event", "ws.unexpected_message").Str("type", msg.Type()).Msg("ignoring server-only message from client")
		}
		if errors.Is(err, ErrClosed) {
			return
		}
	}
}

// writeLoop drains the client queue in order until the session ends or the
// hub closes the queue. It closes the connection on exit, which also
// unblocks readLoop.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, c *Client) {
	pingCtx, stopPing := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.pingLoop(pingCtx, conn)
	}()
	defer func() {
		stopPing()
		wg.Wait()
		_ = conn.Close()
	}()

	for {
		msg, ok := c.queue.Next(ctx)
		if !ok {
			break
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			h.log.Debug().Err(err).Str("event", "ws.write_failed").Str("client_id", c.ID).Msg("websocket write failed")
			return
		}
	}

	code, reason := websocket.CloseNormalClosure, ""
	if ctx.Err() == nil {
		code, reason = websocket.CloseGoingAway, "server shutting down"
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

// pingLoop keeps the peer alive. WriteControl may run alongside WriteJSON.
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				// the pong deadline in readLoop ends the session
				_ = conn.Close()
				return
			}
		}
	}
}
