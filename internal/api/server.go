package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-teg/internal/audit"
	"github.com/nerrad567/gray-logic-teg/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-teg/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-teg/internal/legacy"
)

// gracefulShutdownTimeout bounds the wait for in-flight requests on Close.
const gracefulShutdownTimeout = 10 * time.Second

// Dispatcher answers legacy reads and writes. *legacy.Dispatcher satisfies it.
type Dispatcher interface {
	Poll(ctx context.Context, name string, opts legacy.Options) legacy.Result
	Post(ctx context.Context, name string, payload map[string]any, token string) legacy.Result
	Authorize(token string) *legacy.Error
	ControlEnabled() bool
	Endpoints() []legacy.Endpoint
}

// Gateway describes the connected gateway. *tedapi.Client satisfies it.
type Gateway interface {
	Host() string
	Gen3() bool
}

// HealthChecker is any component with a health probe (MQTT, InfluxDB,
// database).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Auditor stores and lists control commands. *audit.SQLiteRepository
// satisfies it.
type Auditor interface {
	Create(ctx context.Context, e *audit.Entry) error
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// PollObserver records legacy poll outcomes. *metrics.Metrics satisfies it.
type PollObserver interface {
	ObservePoll(endpoint, outcome string)
}

type noopObserver struct{}

func (noopObserver) ObservePoll(string, string) {}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	Dispatcher Dispatcher
	Gateway    Gateway

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// Polls receives one observation per legacy read.
	Polls PollObserver

	// Checks are probed by /health, keyed by component name.
	Checks map[string]HealthChecker

	// Audit records control commands and serves /control/audit when set.
	Audit Auditor

	Version string
}

// Server is the HTTP front door.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	dispatcher Dispatcher
	gateway    Gateway
	metrics    http.Handler
	polls      PollObserver
	checks     map[string]HealthChecker
	audit      Auditor
	version    string
	stats      *stats

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates an API server. It does not listen until Start is called.
//
// Parameters:
//   - deps: Logger and Dispatcher are required; the rest are optional
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If a required dependency is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	s := &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		dispatcher: deps.Dispatcher,
		gateway:    deps.Gateway,
		metrics:    deps.Metrics,
		polls:      deps.Polls,
		checks:     deps.Checks,
		audit:      deps.Audit,
		version:    deps.Version,
		stats:      newStats(time.Now),
	}
	if s.polls == nil {
		s.polls = noopObserver{}
	}
	return s, nil
}

// Handler returns the fully wired router. Start serves the same handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine.
//
// Parameters:
//   - ctx: Unused for listener lifetime; Close stops the server
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(_ context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
