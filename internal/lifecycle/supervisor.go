// Package lifecycle supervises the cache gateway: periodic keep-alive pings,
// health checks on failure, and throttled reinstalls when the gateway stops
// responding. Platforms may kill the gateway silently; this loop is what
// notices.
package lifecycle

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	apperrors "github.com/kychiang/studydeck/internal/errors"
	"github.com/kychiang/studydeck/internal/gateway"
	"github.com/kychiang/studydeck/internal/logging"
)

// Worker is the supervised gateway surface.
type Worker interface {
	Send(ctx context.Context, msg gateway.Message) (gateway.Reply, error)
	Stop()
}

// Installer creates and starts a fresh Worker.
type Installer func(ctx context.Context) (Worker, error)

// Status is the supervisor's view of worker health.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusErrored  Status = "errored"
)

// maxRecordedErrors bounds the metadata error list; oldest entries evict.
const maxRecordedErrors = 10

// Metadata is the session-scoped health record. It lives only in memory and
// dies with the process, matching a browsing session's lifetime.
type Metadata struct {
	LastPing       int64    `json:"lastPing"`
	LastResponse   int64    `json:"lastResponse"`
	Status         Status   `json:"status"`
	Errors         []string `json:"errors"`
	ReinstallCount int      `json:"reinstallCount"`
	LastReinstall  int64    `json:"lastReinstall"` // 0 when never reinstalled
}

// Config holds supervisor tunables.
type Config struct {
	KeepAliveInterval time.Duration // default 30s
	PingTimeout       time.Duration // default 3s
	RegisterTimeout   time.Duration // default 5s
	ReinstallLimit    int           // default 3 per window
	ReinstallWindow   time.Duration // default 30m
	OfflineRecovery   time.Duration // default 1h

	// SandboxHostPatterns mark embedded preview hosts where supervision is
	// a no-op. Hostname defaults to os.Hostname.
	SandboxHostPatterns []string
	Hostname            string
}

func (c *Config) applyDefaults() {
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 30 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 3 * time.Second
	}
	if c.RegisterTimeout <= 0 {
		c.RegisterTimeout = 5 * time.Second
	}
	if c.ReinstallLimit <= 0 {
		c.ReinstallLimit = 3
	}
	if c.ReinstallWindow <= 0 {
		c.ReinstallWindow = 30 * time.Minute
	}
	if c.OfflineRecovery <= 0 {
		c.OfflineRecovery = time.Hour
	}
	if c.Hostname == "" {
		c.Hostname, _ = os.Hostname()
	}
}

// Supervisor keeps the gateway alive and healthy.
type Supervisor struct {
	cfg       Config
	installer Installer
	sandbox   bool
	log       *logging.Logger

	mu         sync.Mutex
	worker     Worker
	meta       Metadata
	lastOnline time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSupervisor creates a Supervisor. In sandboxed preview environments every
// operation becomes a no-op returning neutral results.
func NewSupervisor(cfg Config, installer Installer) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		cfg:        cfg,
		installer:  installer,
		sandbox:    IsSandboxHost(cfg.Hostname, cfg.SandboxHostPatterns),
		log:        logging.Get(),
		meta:       Metadata{Status: StatusInactive},
		lastOnline: time.Now(),
		stopCh:     make(chan struct{}),
	}
}

// IsSandboxHost reports whether a hostname matches an embedded-preview
// pattern.
func IsSandboxHost(hostname string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(hostname, p) {
			return true
		}
	}
	return false
}

// Sandboxed reports whether supervision is disabled.
func (s *Supervisor) Sandboxed() bool {
	return s.sandbox
}

// Register ensures a worker exists: an already-running worker is reused,
// otherwise a fresh one installs under the registration timeout. A timeout is
// a registration failure; there is no automatic retry.
func (s *Supervisor) Register(ctx context.Context) (Worker, error) {
	if s.sandbox {
		return nil, nil
	}

	s.mu.Lock()
	if s.worker != nil {
		w := s.worker
		s.mu.Unlock()
		return w, nil
	}
	s.mu.Unlock()

	return s.install(ctx)
}

// install runs the installer under the registration timeout and records the
// outcome.
func (s *Supervisor) install(ctx context.Context) (Worker, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RegisterTimeout)
	defer cancel()

	type result struct {
		worker Worker
		err    error
	}
	resCh := make(chan result, 1)
	go func() {
		w, err := s.installer(ctx)
		resCh <- result{w, err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			s.recordError("install failed: " + res.err.Error())
			return nil, apperrors.Wrap(apperrors.ErrInstallFailed, "gateway install", res.err)
		}
		s.mu.Lock()
		s.worker = res.worker
		s.meta.Status = StatusActive
		s.mu.Unlock()
		s.log.Info("gateway registered")
		return res.worker, nil

	case <-ctx.Done():
		s.recordError("install timed out")
		return nil, apperrors.Timeout("gateway install", ctx.Err())
	}
}

// Run drives the keep-alive loop until Stop or context cancellation.
func (s *Supervisor) Run(ctx context.Context) {
	if s.sandbox {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.KeepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.pingOnce(ctx)
			}
		}
	}()
}

// Stop halts the keep-alive loop and the current worker.
func (s *Supervisor) Stop() {
	if s.sandbox {
		return
	}
	close(s.stopCh)
	s.wg.Wait()

	s.mu.Lock()
	w := s.worker
	s.worker = nil
	s.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

// pingOnce sends one keep-alive; on failure it health-checks, and on a double
// failure attempts repair.
func (s *Supervisor) pingOnce(ctx context.Context) {
	s.mu.Lock()
	w := s.worker
	now := time.Now().UnixMilli()
	s.meta.LastPing = now
	s.mu.Unlock()

	if w == nil {
		s.attemptRepair(ctx)
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.cfg.PingTimeout)
	reply, err := w.Send(pingCtx, gateway.KeepAlive{Timestamp: now})
	cancel()

	if err == nil {
		if resp, ok := reply.(gateway.KeepAliveResponse); ok {
			s.mu.Lock()
			s.meta.LastResponse = resp.Timestamp
			s.meta.Status = StatusActive
			s.mu.Unlock()
			return
		}
		err = apperrors.New(apperrors.ErrGatewayUnresponsive, "unexpected keep-alive reply")
	}

	s.recordError("keep-alive failed: " + err.Error())
	s.setStatus(StatusInactive)

	if s.healthCheck(ctx, w) {
		return
	}
	s.attemptRepair(ctx)
}

// healthCheck reports whether the worker answers a HealthCheck in time.
func (s *Supervisor) healthCheck(ctx context.Context, w Worker) bool {
	checkCtx, cancel := context.WithTimeout(ctx, s.cfg.PingTimeout)
	defer cancel()

	reply, err := w.Send(checkCtx, gateway.HealthCheck{Timestamp: time.Now().UnixMilli()})
	if err != nil {
		s.recordError("health check failed: " + err.Error())
		return false
	}

	status, ok := reply.(gateway.HealthStatus)
	if !ok || !status.IsResponding {
		s.recordError("health check returned unusable status")
		return false
	}

	s.mu.Lock()
	s.meta.LastResponse = status.Timestamp
	s.meta.Status = StatusActive
	s.mu.Unlock()
	return true
}

// attemptRepair reinstalls the gateway, throttled to ReinstallLimit attempts
// per rolling ReinstallWindow. Exceeding the limit only logs; offline
// capability is best-effort and never surfaces as a user-facing error.
func (s *Supervisor) attemptRepair(ctx context.Context) {
	s.mu.Lock()
	now := time.Now().UnixMilli()
	windowMillis := s.cfg.ReinstallWindow.Milliseconds()

	if s.meta.LastReinstall != 0 && now-s.meta.LastReinstall >= windowMillis {
		s.meta.ReinstallCount = 0
	}
	if s.meta.ReinstallCount >= s.cfg.ReinstallLimit {
		s.meta.Status = StatusErrored
		s.mu.Unlock()
		s.log.ErrorWithCode("reinstall limit reached, skipping repair",
			string(apperrors.ErrRepairThrottled), nil,
			map[string]interface{}{"limit": s.cfg.ReinstallLimit})
		return
	}
	s.meta.ReinstallCount++
	s.meta.LastReinstall = now
	s.mu.Unlock()

	s.reinstall(ctx)
}

// reinstall tears the worker down, clears every cache bucket, and installs a
// fresh worker.
func (s *Supervisor) reinstall(ctx context.Context) {
	s.mu.Lock()
	w := s.worker
	s.worker = nil
	s.mu.Unlock()

	if w != nil {
		clearCtx, cancel := context.WithTimeout(ctx, s.cfg.PingTimeout)
		_, err := w.Send(clearCtx, gateway.ClearAllCaches{})
		cancel()
		if err != nil {
			s.log.Warn("cache clear before reinstall failed",
				map[string]interface{}{"error": err.Error()})
		}
		w.Stop()
	}

	if _, err := s.install(ctx); err != nil {
		s.setStatus(StatusErrored)
		s.log.Error("gateway reinstall failed", err)
		return
	}
	s.log.Info("gateway reinstalled", map[string]interface{}{
		"count": s.Metadata().ReinstallCount,
	})
}

// SetOnline records connectivity transitions. Returning online after more
// than the recovery bound forces a cache clear and reinstall: caches that
// aged out while disconnected are not trusted.
func (s *Supervisor) SetOnline(ctx context.Context, online bool) {
	if s.sandbox {
		return
	}

	s.mu.Lock()
	last := s.lastOnline
	if online {
		s.lastOnline = time.Now()
	}
	s.mu.Unlock()

	if !online {
		return
	}

	if time.Since(last) > s.cfg.OfflineRecovery {
		s.log.Info("extended offline period detected, forcing reinstall",
			map[string]interface{}{"offline_min": time.Since(last).Minutes()})
		s.attemptRepair(ctx)
	}
}

// Metadata returns a snapshot of the session health record.
func (s *Supervisor) Metadata() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.meta
	meta.Errors = append([]string(nil), s.meta.Errors...)
	return meta
}

// Worker returns the current worker, nil when none is installed.
func (s *Supervisor) Worker() Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worker
}

func (s *Supervisor) setStatus(status Status) {
	s.mu.Lock()
	s.meta.Status = status
	s.mu.Unlock()
}

func (s *Supervisor) recordError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.meta.Errors = append(s.meta.Errors, msg)
	if len(s.meta.Errors) > maxRecordedErrors {
		s.meta.Errors = s.meta.Errors[len(s.meta.Errors)-maxRecordedErrors:]
	}
}
