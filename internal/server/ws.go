package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"HookLedger/internal/ingestion"
	"HookLedger/internal/observability"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsSendBuffer = 64
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// StreamHub fans logged operations out to WebSocket clients. A client may
// subscribe to a single pool with ?pool_id=. Slow clients are disconnected
// rather than allowed to stall the broadcast.
type StreamHub struct {
	clients    map[*wsClient]struct{}
	broadcast  chan ingestion.PublishableEvent
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	upgrader   websocket.Upgrader
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	poolID string // empty: every pool
}

func NewStreamHub(metrics *observability.Metrics, logger zerolog.Logger) *StreamHub {
	return &StreamHub{
		clients:    make(map[*wsClient]struct{}),
		broadcast:  make(chan ingestion.PublishableEvent, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		metrics: metrics,
		logger:  logger,
	}
}

// Run owns the client set until ctx is done.
func (h *StreamHub) Run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			h.drop(c)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setGauge()
			h.logger.Debug().Int("clients", len(h.clients)).Str("pool_id", c.poolID).Msg("ws client connected")

		case c := <-h.unregister:
			h.drop(c)

		case evt := <-h.broadcast:
			data, err := json.Marshal(evt)
			if err != nil {
				h.logger.Error().Err(err).Int64("seq", evt.Sequence).Msg("marshal ws event")
				continue
			}
			for c := range h.clients {
				if c.poolID != "" && c.poolID != evt.PoolID {
					continue
				}
				select {
				case c.send <- data:
				default:
					h.drop(c)
				}
			}
		}
	}
}

// Broadcast queues evt for every subscribed client. It never blocks.
func (h *StreamHub) Broadcast(evt ingestion.PublishableEvent) {
	select {
	case h.broadcast <- evt:
	default:
		if h.metrics != nil {
			h.metrics.PublishDrops.Inc()
		}
	}
}

func (h *StreamHub) drop(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.setGauge()
}

func (h *StreamHub) setGauge() {
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(len(h.clients)))
	}
}

// HandleWS upgrades the request and registers the client.
func (h *StreamHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	c := &wsClient{
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		poolID: r.URL.Query().Get("pool_id"),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump detects disconnects. Clients never send anything meaningful.
func (h *StreamHub) readPump(c *wsClient) {
	defer func() {
		// Run may already have dropped c; unregister is then a no-op.
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the connection's only writer.
func (h *StreamHub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
