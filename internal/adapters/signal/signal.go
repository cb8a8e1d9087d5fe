package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Tandem/internal/app"
	"github.com/dkeye/Tandem/internal/app/orch"
	"github.com/dkeye/Tandem/internal/config"
	"github.com/dkeye/Tandem/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultReadLimit  = 64 << 10
	defaultPingPeriod = 54 * time.Second
	defaultSendBuffer = 32
	writeWait         = 5 * time.Second
)

type SignalWSController struct {
	Orch *orch.Orchestrator

	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

func NewSignalWSController(o *orch.Orchestrator, cfg *config.Config) *SignalWSController {
	ctl := &SignalWSController{
		Orch:       o,
		ReadLimit:  defaultReadLimit,
		PingPeriod: defaultPingPeriod,
		SendBuffer: defaultSendBuffer,
	}
	if cfg != nil {
		if cfg.ReadLimit > 0 {
			ctl.ReadLimit = cfg.ReadLimit
		}
		if cfg.PingPeriod > 0 {
			ctl.PingPeriod = cfg.PingPeriod
		}
		if cfg.SendBuffer > 0 {
			ctl.SendBuffer = cfg.SendBuffer
		}
	}
	return ctl
}

// WsSignalConn is the core.SignalConnection of one websocket.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
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

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	cid := app.ChannelID(uuid.NewString())
	log.Info().Str("module", "signal").Str("cid", string(cid)).Str("client", token).Msg("new WS connection")

	conn := newWsSignalConn(ws, ctl.SendBuffer)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Connect(cid, conn, token, cancel)

	go ctl.writePump(ctx, cid, conn)
	go ctl.readPump(ctx, cancel, cid, conn)
}
