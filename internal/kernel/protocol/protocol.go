// Package protocol implements the request/response byte protocol used to
// validate the notification core end to end: a handler task serves typed
// operations over a channel while an initiator task drives them.
//
// Wire format: the first request byte is the operation code, the rest is
// the payload. Replies echo the op code where noted. Malformed requests get
// single-byte status replies instead of a typed response.
package protocol

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/driftkernel/drift/internal/infrastructure/logging"
	"github.com/driftkernel/drift/internal/kernel/handle"
	"github.com/driftkernel/drift/internal/kernel/kerror"
	"github.com/driftkernel/drift/internal/kernel/signal"
	"github.com/driftkernel/drift/internal/kernel/syscall"
)

// Operation codes.
const (
	OpEcho            = 1 // reply is the request, unchanged
	OpTransform       = 2 // payload bytes uppercased
	OpBatch           = 3 // [op, a, b] -> [op, a, b, a+b]
	OpNotifyTest      = 4 // handler raises User on the initiator, replies [0]
	OpCheckUserSignal = 5 // [op, 1] if User is set on the handler, else [op, 0]
)

// Status replies for malformed traffic.
const (
	StatusEmptyRequest = 0xFF
	StatusUnknownOp    = 0xFE
	StatusHandlerError = 0xFD
)

const maxMessageBytes = 64

// Server services protocol requests on a channel handler endpoint.
type Server struct {
	dispatcher *syscall.Dispatcher
	pid        uint32
	handle     handle.Handle
	logger     *logging.Logger
}

// NewServer creates a server bound to a handler endpoint handle.
func NewServer(d *syscall.Dispatcher, pid uint32, h handle.Handle, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{
		dispatcher: d,
		pid:        pid,
		handle:     h,
		logger:     logger.Subsystem("protocol"),
	}
}

// Serve loops: wait for a pending transaction, read the request, dispatch
// the operation, respond. Returns when ctx is cancelled or the channel is
// torn down.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("server starting", zap.Uint32("pid", s.pid))

	for {
		if _, err := s.dispatcher.ObjectWait(ctx, s.pid, s.handle, signal.Readable, time.Time{}); err != nil {
			if kerror.CodeOf(err) == kerror.CodeCancelled {
				s.logger.Info("server stopping", zap.Uint32("pid", s.pid))
				return nil
			}
			return fmt.Errorf("serve: %w", err)
		}

		request := make([]byte, maxMessageBytes)
		n, err := s.dispatcher.ChannelRead(s.pid, s.handle, 0, request)
		if err != nil {
			// The transaction may have been aborted between wake and read.
			if kerror.CodeOf(err) == kerror.CodeFailedPrecondition {
				continue
			}
			return fmt.Errorf("serve: %w", err)
		}

		if err := s.respond(s.handleRequest(request[:n])); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}
}

func (s *Server) respond(response []byte) error {
	err := s.dispatcher.ChannelRespond(s.pid, s.handle, response)
	if err != nil && kerror.CodeOf(err) != kerror.CodeFailedPrecondition {
		return err
	}
	return nil
}

// handleRequest dispatches one request to its operation.
func (s *Server) handleRequest(request []byte) []byte {
	if len(request) == 0 {
		s.logger.Warn("empty request")
		return []byte{StatusEmptyRequest}
	}

	switch request[0] {
	case OpEcho:
		return s.handleEcho(request)
	case OpTransform:
		return s.handleTransform(request)
	case OpBatch:
		return s.handleBatch(request)
	case OpNotifyTest:
		return s.handleNotifyTest()
	case OpCheckUserSignal:
		return s.handleCheckUserSignal()
	default:
		s.logger.Warn("unknown operation", zap.Uint8("op", request[0]))
		return []byte{StatusUnknownOp}
	}
}

func (s *Server) handleEcho(request []byte) []byte {
	return append([]byte(nil), request...)
}

func (s *Server) handleTransform(request []byte) []byte {
	response := append([]byte(nil), request...)
	for i := 1; i < len(response); i++ {
		if response[i] >= 'a' && response[i] <= 'z' {
			response[i] -= 'a' - 'A'
		}
	}
	return response
}

func (s *Server) handleBatch(request []byte) []byte {
	if len(request) < 3 {
		return []byte{StatusHandlerError}
	}
	return []byte{request[0], request[1], request[2], request[1] + request[2]}
}

// handleNotifyTest raises User on the initiator before responding,
// demonstrating the async notification pattern.
func (s *Server) handleNotifyTest() []byte {
	if err := s.dispatcher.RaisePeerUserSignal(context.Background(), s.pid, s.handle); err != nil {
		s.logger.Error("notify test failed", zap.Error(err))
		return []byte{StatusHandlerError}
	}
	return []byte{0}
}

// handleCheckUserSignal reports whether User is currently set on the
// handler's own endpoint. The second reply byte is 1 if set, else 0. The
// check is a non-blocking poll (deadline of now).
func (s *Server) handleCheckUserSignal() []byte {
	set := byte(0)
	observed, err := s.dispatcher.ObjectWait(context.Background(), s.pid, s.handle, signal.User, time.Now())
	if err == nil && observed.Has(signal.User) {
		set = 1
	}
	return []byte{OpCheckUserSignal, set}
}

// Client drives protocol operations from the initiator side.
type Client struct {
	dispatcher *syscall.Dispatcher
	pid        uint32
	handle     handle.Handle
}

// NewClient creates a client bound to an initiator endpoint handle.
func NewClient(d *syscall.Dispatcher, pid uint32, h handle.Handle) *Client {
	return &Client{dispatcher: d, pid: pid, handle: h}
}

// Echo round-trips payload through the handler.
func (c *Client) Echo(ctx context.Context, payload []byte, deadline time.Time) ([]byte, error) {
	resp, err := c.transact(ctx, OpEcho, payload, deadline)
	if err != nil {
		return nil, err
	}
	return resp[1:], nil
}

// Transform asks the handler to uppercase payload.
func (c *Client) Transform(ctx context.Context, payload []byte, deadline time.Time) ([]byte, error) {
	resp, err := c.transact(ctx, OpTransform, payload, deadline)
	if err != nil {
		return nil, err
	}
	return resp[1:], nil
}

// Batch sends [a, b] and returns the handler-computed a+b.
func (c *Client) Batch(ctx context.Context, a, b byte, deadline time.Time) (byte, error) {
	resp, err := c.transact(ctx, OpBatch, []byte{a, b}, deadline)
	if err != nil {
		return 0, err
	}
	if len(resp) != 4 {
		return 0, fmt.Errorf("batch: short reply (%d bytes): %w", len(resp), kerror.ErrInternal)
	}
	return resp[3], nil
}

// NotifyTest asks the handler to raise User on this client's endpoint
// before responding.
func (c *Client) NotifyTest(ctx context.Context, deadline time.Time) error {
	resp, err := c.dispatcher.ChannelTransact(ctx, c.pid, c.handle, []byte{OpNotifyTest}, deadline)
	if err != nil {
		return err
	}
	if len(resp) != 1 || resp[0] != 0 {
		return fmt.Errorf("notify test: unexpected reply: %w", kerror.ErrInternal)
	}
	return nil
}

// CheckUserSignal reports whether the handler currently sees its User bit.
func (c *Client) CheckUserSignal(ctx context.Context, deadline time.Time) (bool, error) {
	resp, err := c.dispatcher.ChannelTransact(ctx, c.pid, c.handle, []byte{OpCheckUserSignal}, deadline)
	if err != nil {
		return false, err
	}
	if len(resp) != 2 || resp[0] != OpCheckUserSignal {
		return false, fmt.Errorf("check user signal: malformed reply: %w", kerror.ErrInternal)
	}
	return resp[1] == 1, nil
}

// RaisePeerUserSignal raises User on the handler endpoint, outside any
// transaction.
func (c *Client) RaisePeerUserSignal(ctx context.Context) error {
	return c.dispatcher.RaisePeerUserSignal(ctx, c.pid, c.handle)
}

func (c *Client) transact(ctx context.Context, op byte, payload []byte, deadline time.Time) ([]byte, error) {
	request := append([]byte{op}, payload...)
	resp, err := c.dispatcher.ChannelTransact(ctx, c.pid, c.handle, request, deadline)
	if err != nil {
		return nil, err
	}
	if len(resp) == 1 && (resp[0] == StatusEmptyRequest || resp[0] == StatusUnknownOp || resp[0] == StatusHandlerError) {
		return nil, fmt.Errorf("op %d rejected with status 0x%02X: %w", op, resp[0], kerror.ErrInternal)
	}
	if len(resp) == 0 || resp[0] != op {
		return nil, fmt.Errorf("op %d: malformed reply: %w", op, kerror.ErrInternal)
	}
	return resp, nil
}
