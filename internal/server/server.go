package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	api "github.com/driftkernel/drift/internal/api/http"
	"github.com/driftkernel/drift/internal/api/middleware"
	"github.com/driftkernel/drift/internal/api/ws"
	"github.com/driftkernel/drift/internal/infrastructure/config"
	"github.com/driftkernel/drift/internal/infrastructure/logging"
	"github.com/driftkernel/drift/internal/infrastructure/monitoring"
	"github.com/driftkernel/drift/internal/kernel/protocol"
	"github.com/driftkernel/drift/internal/kernel/syscall"
)

// Server wraps the HTTP gateway and the kernel it fronts.
type Server struct {
	cfg        *config.Config
	logger     *logging.Logger
	metrics    *monitoring.Metrics
	dispatcher *syscall.Dispatcher
	router     *gin.Engine
	httpSrv    *http.Server

	// Set when the boot protocol server is enabled.
	protoServer *protocol.Server
	protoClient *protocol.Client
}

// New wires the kernel, gateway routes, and middleware from configuration.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	metrics := monitoring.NewMetrics()
	dispatcher := syscall.NewDispatcher(logger).WithMetrics(metrics)

	s := &Server{
		cfg:        cfg,
		logger:     logger.Subsystem("server"),
		metrics:    metrics,
		dispatcher: dispatcher,
	}

	if cfg.Kernel.BootProtocolServer {
		if err := s.bootProtocol(); err != nil {
			return nil, err
		}
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID(logger.Logger))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(monitoring.Middleware(metrics))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	api.NewHandlers(dispatcher, logger).Register(router)
	router.GET("/stream", ws.NewHandler(dispatcher, logger, metrics).HandleConnection)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.router = router
	s.httpSrv = &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Dispatcher exposes the syscall dispatcher, mainly for tests.
func (s *Server) Dispatcher() *syscall.Dispatcher {
	return s.dispatcher
}

// ProtocolClient returns the client end of the boot protocol channel, or nil
// when the boot server is disabled.
func (s *Server) ProtocolClient() *protocol.Client {
	return s.protoClient
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// bootProtocol creates two tasks joined by a channel and prepares the
// validation protocol server on the handler end.
func (s *Server) bootProtocol() error {
	clientPID := s.dispatcher.CreateTask()
	serverPID := s.dispatcher.CreateTask()

	initH, hndH, err := s.dispatcher.CreateChannel(clientPID, serverPID)
	if err != nil {
		return err
	}

	s.protoServer = protocol.NewServer(s.dispatcher, serverPID, hndH, s.logger)
	s.protoClient = protocol.NewClient(s.dispatcher, clientPID, initH)
	s.logger.Info("boot protocol channel ready",
		zap.Uint32("client_pid", clientPID),
		zap.Uint32("server_pid", serverPID))
	return nil
}

// Run serves HTTP and the boot protocol task until the context is cancelled,
// then drains both.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.protoServer != nil {
		g.Go(func() error {
			return s.protoServer.Serve(ctx)
		})
	}

	g.Go(func() error {
		s.logger.Info("gateway listening", zap.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}

// shutdown drains HTTP connections and cancels kernel waiters.
func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.httpSrv.Shutdown(shutdownCtx)
	s.dispatcher.Close()
	s.logger.Info("gateway stopped", zap.Duration("uptime", s.metrics.Uptime()))
	return err
}
