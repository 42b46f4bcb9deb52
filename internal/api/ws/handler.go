// Package ws streams signal state changes to WebSocket clients. Each watch
// request maps onto one kernel wait; results are pushed as they resolve.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftkernel/drift/internal/infrastructure/logging"
	"github.com/driftkernel/drift/internal/infrastructure/monitoring"
	"github.com/driftkernel/drift/internal/kernel/handle"
	"github.com/driftkernel/drift/internal/kernel/kerror"
	"github.com/driftkernel/drift/internal/kernel/signal"
	"github.com/driftkernel/drift/internal/kernel/syscall"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

// Message is the client-to-server frame.
type Message struct {
	Type      string  `json:"type"`
	PID       uint32  `json:"pid"`
	Handle    uint32  `json:"handle"`
	Mask      uint32  `json:"mask"`
	TimeoutMS *uint64 `json:"timeout_ms"`
}

// Handler manages WebSocket connections.
type Handler struct {
	dispatcher *syscall.Dispatcher
	logger     *logging.Logger
	metrics    *monitoring.Metrics
}

// NewHandler creates a new WebSocket handler.
func NewHandler(d *syscall.Dispatcher, logger *logging.Logger, m *monitoring.Metrics) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		dispatcher: d,
		logger:     logger.Subsystem("ws"),
		metrics:    m,
	}
}

// HandleConnection handles WebSocket upgrade and messages.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.WSWatchers.Inc()
		defer h.metrics.WSWatchers.Dec()
	}

	// Writes may come from concurrent watch goroutines.
	var writeMu sync.Mutex
	send := func(data interface{}) error {
		payload, err := sonic.Marshal(data)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, payload)
	}

	_ = send(map[string]interface{}{
		"type":    "system",
		"message": "connected to drift signal stream",
	})

	ctx := c.Request.Context()
	var watches sync.WaitGroup
	defer watches.Wait()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			_ = send(errorFrame("malformed message"))
			continue
		}

		switch msg.Type {
		case "watch":
			watches.Add(1)
			go func() {
				defer watches.Done()
				h.watch(ctx, send, msg)
			}()
		case "signals":
			h.poll(send, msg)
		case "ping":
			_ = send(map[string]interface{}{"type": "pong"})
		default:
			_ = send(errorFrame("unknown message type"))
		}
	}
}

// watch runs one kernel wait and pushes the outcome.
func (h *Handler) watch(ctx context.Context, send sendFunc, msg Message) {
	var deadline time.Time
	if msg.TimeoutMS != nil {
		deadline = time.Now().Add(time.Duration(*msg.TimeoutMS) * time.Millisecond)
	}

	observed, err := h.dispatcher.ObjectWait(ctx, msg.PID, handle.Handle(msg.Handle), signal.Set(msg.Mask), deadline)
	_ = send(waitFrame(msg, observed, err))
}

// poll reads the active set without blocking.
func (h *Handler) poll(send sendFunc, msg Message) {
	active, err := h.dispatcher.ObjectSignals(msg.PID, handle.Handle(msg.Handle))
	_ = send(waitFrame(msg, active, err))
}

type sendFunc func(data interface{}) error

func waitFrame(msg Message, observed signal.Set, err error) map[string]interface{} {
	frame := map[string]interface{}{
		"type":    "signals",
		"handle":  msg.Handle,
		"signals": uint32(observed),
		"names":   observed.String(),
		"code":    kerror.CodeOf(err).String(),
	}
	if err != nil {
		frame["error"] = err.Error()
	}
	return frame
}

func errorFrame(msg string) map[string]interface{} {
	return map[string]interface{}{
		"type":    "error",
		"message": msg,
	}
}
