package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// HealthStatus is the overall status reported for a gateway session.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
)

// DefaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const DefaultHealthInterval = 30 * time.Second

// HealthMessage is the retained document published per gateway.
type HealthMessage struct {
	Gateway       string       `json:"gateway_id"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Session       Stats        `json:"session"`
	Nodes         int          `json:"nodes"`
	Devices       int          `json:"devices"`
	Reason        string       `json:"reason,omitempty"`
}

// HealthPublisher is implemented by the MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Version is the daemon version carried in every message.
	Version string

	// Interval between reports. Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher

	// Topic maps a gateway id to its health topic.
	Topic func(gateway string) string

	Manager *Manager
}

// HealthReporter periodically publishes one health message per session.
type HealthReporter struct {
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	topic     func(string) string
	manager   *Manager

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &HealthReporter{
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		topic:     cfg.Topic,
		manager:   cfg.Manager,
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status for every
// gateway. Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		if err := h.publishAll(HealthStopping, "daemon stopping"); err != nil {
			h.logError("failed to publish stopping health", err)
		}
	})
}

// PublishStarting publishes a "starting" status for every gateway.
func (h *HealthReporter) PublishStarting() error {
	return h.publishAll(HealthStarting, "daemon starting")
}

// PublishNow publishes the current status of every session.
func (h *HealthReporter) PublishNow() error {
	if h.manager == nil {
		return nil
	}
	var errs []error
	for _, s := range h.manager.Sessions() {
		status, reason := determineStatus(s.Stats())
		if err := h.publish(s, status, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus maps a session state to a health status.
func determineStatus(st Stats) (HealthStatus, string) {
	switch st.State {
	case StateReady:
		return HealthHealthy, ""
	case StateConnecting, StateHandshaking:
		return HealthDegraded, "gateway " + st.State.String()
	case StateClosed:
		return HealthStopping, "session closed"
	default:
		return HealthUnhealthy, "gateway disconnected"
	}
}

func (h *HealthReporter) publishAll(status HealthStatus, reason string) error {
	if h.manager == nil {
		return nil
	}
	var errs []error
	for _, s := range h.manager.Sessions() {
		if err := h.publish(s, status, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *HealthReporter) publish(s *Session, status HealthStatus, reason string) error {
	if h.publisher == nil || h.topic == nil {
		return nil
	}

	gw := s.Gateway()
	msg := HealthMessage{
		Gateway:       string(gw),
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Session:       s.Stats(),
		Nodes:         len(s.Registry().Nodes(gw)),
		Devices:       len(s.Registry().Devices(gw)),
		Reason:        reason,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding health for %s: %w", gw, err)
	}
	return h.publisher.Publish(h.topic(string(gw)), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
