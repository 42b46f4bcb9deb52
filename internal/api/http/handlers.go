// Package http exposes the syscall surface over a gin HTTP gateway, the
// host-side stand-in for a trap instruction: handles in, error codes out,
// nothing else crosses the boundary.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/driftkernel/drift/internal/infrastructure/logging"
	"github.com/driftkernel/drift/internal/kernel/handle"
	"github.com/driftkernel/drift/internal/kernel/kerror"
	"github.com/driftkernel/drift/internal/kernel/signal"
	"github.com/driftkernel/drift/internal/kernel/syscall"
)

// Handlers holds the gateway's handler set.
type Handlers struct {
	dispatcher *syscall.Dispatcher
	logger     *logging.Logger
}

// NewHandlers creates the gateway handler set.
func NewHandlers(d *syscall.Dispatcher, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{dispatcher: d, logger: logger.Subsystem("gateway")}
}

// Register mounts the gateway routes on the router.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.POST("/tasks", h.CreateTask)
	r.POST("/channels", h.CreateChannel)
	r.GET("/objects/:pid/:handle/signals", h.ObjectSignals)

	sys := r.Group("/syscall")
	sys.POST("/raise-peer-user-signal", h.RaisePeerUserSignal)
	sys.POST("/object-wait", h.ObjectWait)
	sys.POST("/channel-transact", h.ChannelTransact)
	sys.POST("/channel-read", h.ChannelRead)
	sys.POST("/channel-respond", h.ChannelRespond)
}

// Health reports gateway liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CreateTask allocates a task and returns its pid.
func (h *Handlers) CreateTask(c *gin.Context) {
	pid := h.dispatcher.CreateTask()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"pid":     pid,
	})
}

// CreateChannel allocates a channel pair between two tasks.
func (h *Handlers) CreateChannel(c *gin.Context) {
	var req struct {
		InitiatorPID uint32 `json:"initiator_pid" binding:"required"`
		HandlerPID   uint32 `json:"handler_pid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	initH, hndH, err := h.dispatcher.CreateChannel(req.InitiatorPID, req.HandlerPID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"initiator_handle": initH,
		"handler_handle":   hndH,
	})
}

// RaisePeerUserSignal is the peer-notify syscall endpoint.
func (h *Handlers) RaisePeerUserSignal(c *gin.Context) {
	var req struct {
		PID    uint32 `json:"pid" binding:"required"`
		Handle uint32 `json:"handle"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	err := h.dispatcher.RaisePeerUserSignal(c.Request.Context(), req.PID, handle.Handle(req.Handle))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ObjectWait blocks until the object's signals intersect the mask or the
// timeout elapses. A zero timeout is a non-blocking poll.
func (h *Handlers) ObjectWait(c *gin.Context) {
	var req struct {
		PID       uint32  `json:"pid" binding:"required"`
		Handle    uint32  `json:"handle"`
		Mask      uint32  `json:"mask" binding:"required"`
		TimeoutMS *uint64 `json:"timeout_ms"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	observed, err := h.dispatcher.ObjectWait(
		c.Request.Context(),
		req.PID,
		handle.Handle(req.Handle),
		signal.Set(req.Mask),
		deadlineFrom(req.TimeoutMS),
	)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"signals": uint32(observed),
		"names":   observed.String(),
	})
}

// ObjectSignals reads the active signal set without blocking.
func (h *Handlers) ObjectSignals(c *gin.Context) {
	var req struct {
		PID    uint32 `uri:"pid" binding:"required"`
		Handle uint32 `uri:"handle"`
	}
	if err := c.ShouldBindUri(&req); err != nil {
		badRequest(c, err)
		return
	}

	active, err := h.dispatcher.ObjectSignals(req.PID, handle.Handle(req.Handle))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"signals": uint32(active),
		"names":   active.String(),
	})
}

// ChannelTransact runs one request/response exchange. The request payload
// is base64 in JSON, matching encoding/json []byte handling.
func (h *Handlers) ChannelTransact(c *gin.Context) {
	var req struct {
		PID       uint32  `json:"pid" binding:"required"`
		Handle    uint32  `json:"handle"`
		Request   []byte  `json:"request"`
		TimeoutMS *uint64 `json:"timeout_ms"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	response, err := h.dispatcher.ChannelTransact(
		c.Request.Context(),
		req.PID,
		handle.Handle(req.Handle),
		req.Request,
		deadlineFrom(req.TimeoutMS),
	)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"response": response,
	})
}

// ChannelRead copies the pending request on a handler endpoint.
func (h *Handlers) ChannelRead(c *gin.Context) {
	var req struct {
		PID    uint32 `json:"pid" binding:"required"`
		Handle uint32 `json:"handle"`
		Offset int    `json:"offset"`
		Size   int    `json:"size" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	buf := make([]byte, req.Size)
	n, err := h.dispatcher.ChannelRead(req.PID, handle.Handle(req.Handle), req.Offset, buf)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    buf[:n],
	})
}

// ChannelRespond completes the pending transaction on a handler endpoint.
func (h *Handlers) ChannelRespond(c *gin.Context) {
	var req struct {
		PID      uint32 `json:"pid" binding:"required"`
		Handle   uint32 `json:"handle"`
		Response []byte `json:"response"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.dispatcher.ChannelRespond(req.PID, handle.Handle(req.Handle), req.Response); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// deadlineFrom converts an optional millisecond timeout into a deadline.
// Nil waits forever; zero polls.
func deadlineFrom(timeoutMS *uint64) time.Time {
	if timeoutMS == nil {
		return time.Time{}
	}
	if *timeoutMS == 0 {
		return time.Now()
	}
	return time.Now().Add(time.Duration(*timeoutMS) * time.Millisecond)
}

// badRequest reports a malformed payload.
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   "invalid request: " + err.Error(),
	})
}

// fail converts a kernel error into the gateway envelope, preserving the
// kernel code unchanged alongside the mapped HTTP status.
func fail(c *gin.Context, err error) {
	code := kerror.CodeOf(err)
	c.JSON(httpStatus(code), gin.H{
		"success": false,
		"code":    code.String(),
		"error":   err.Error(),
	})
}

// httpStatus maps kernel codes onto HTTP statuses.
func httpStatus(code kerror.Code) int {
	switch code {
	case kerror.CodeOutOfRange:
		return http.StatusNotFound
	case kerror.CodeInvalidArgument:
		return http.StatusBadRequest
	case kerror.CodeFailedPrecondition:
		return http.StatusConflict
	case kerror.CodeDeadlineExceeded:
		return http.StatusRequestTimeout
	case kerror.CodeCancelled:
		return http.StatusGone
	case kerror.CodeUnimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
