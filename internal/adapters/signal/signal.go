package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wisplabs/wisp/internal/app"
	"github.com/wisplabs/wisp/internal/core"
)

// ChatWSController owns the websocket side of the chat: it upgrades
// connections, pumps frames, and translates inbound events into room
// mutations and fanout.
type ChatWSController struct {
	Rooms    *app.RoomManager
	Registry *app.Registry
	Notifier *app.Notifier
	Limiter  *MessageRateLimiter

	ReadLimit  int64
	SendBuffer int
	PingPeriod time.Duration
}

func NewChatWSController(rooms *app.RoomManager, registry *app.Registry, notifier *app.Notifier, limiter *MessageRateLimiter, readLimit int64, sendBuffer int, pingPeriod time.Duration) *ChatWSController {
	return &ChatWSController{
		Rooms:      rooms,
		Registry:   registry,
		Notifier:   notifier,
		Limiter:    limiter,
		ReadLimit:  readLimit,
		SendBuffer: sendBuffer,
		PingPeriod: pingPeriod,
	}
}

// WsChatConn wraps one gorilla connection with a buffered outbound queue.
// TrySend drops instead of blocking when the client cannot keep up.
type WsChatConn struct {
	conn *websocket.Conn
	send chan core.Event

	mu     sync.RWMutex
	closed bool
}

func (c *WsChatConn) TrySend(e core.Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- e:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsChatConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleChat upgrades the request and starts the read/write pumps. Each
// connection gets a fresh ConnID; a browser with two tabs is two members.
func (ctl *ChatWSController) HandleChat(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	connID := core.ConnID(uuid.NewString())
	log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("new WS connection")

	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &WsChatConn{
		conn: ws,
		send: make(chan core.Event, ctl.SendBuffer),
	}
	ctl.Registry.Bind(connID, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, connID, conn)
	}()
}
