package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-mysensors/internal/entity"
	"github.com/nerrad567/gray-logic-mysensors/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mysensors/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/events"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/gateway"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by the database, MQTT and InfluxDB clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionStatus reports broker connectivity for the metrics endpoint.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Registry *registry.Registry
	Gateways *gateway.Manager

	// Entities is optional; without it /entities and /covers return 404.
	Entities *entity.Manager

	// Commander defaults to Gateways.
	Commander entity.Commander

	// Events is optional; without it the event stream only answers pings.
	Events *events.Hub

	// Checks are run by /health, keyed by component name.
	Checks map[string]HealthChecker

	MQTT    ConnectionStatus
	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket event stream.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	registry  *registry.Registry
	gateways  *gateway.Manager
	entities  *entity.Manager
	commander entity.Commander
	events    *events.Hub
	checks    map[string]HealthChecker
	mqtt      ConnectionStatus
	version   string
	startTime time.Time

	stream *Stream
	relay  *eventRelay
	server *http.Server
	addr   net.Addr
	addrMu sync.RWMutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The event subscriptions are taken here so nothing published between New
// and Start is lost. The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Gateways == nil {
		return nil, fmt.Errorf("gateway manager is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		registry:  deps.Registry,
		gateways:  deps.Gateways,
		entities:  deps.Entities,
		commander: deps.Commander,
		events:    deps.Events,
		checks:    deps.Checks,
		mqtt:      deps.MQTT,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if s.commander == nil {
		s.commander = deps.Gateways
	}

	s.stream = NewStream(s.wsCfg, s.logger)
	if s.events != nil {
		s.relay = newEventRelay(s.events, s.stream)
	}
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It binds the listener synchronously so a port conflict is reported here,
// then serves in a background goroutine. The server can be stopped with
// Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.stream.Run(srvCtx)
	}()
	if s.relay != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.relay.run(srvCtx)
		}()
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}
	if s.relay != nil {
		s.relay.close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
