package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"

	checkTimeout = 3 * time.Second
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// Checker handles health check endpoints
type Checker struct {
	checks    map[string]Check
	ready     func() bool
	version   string
	startTime time.Time
}

// NewChecker builds a checker. ready reports whether the service can take
// traffic; nil means always ready.
func NewChecker(version string, ready func() bool, checks map[string]Check) *Checker {
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Checker{
		checks:    checks,
		ready:     ready,
		version:   version,
		startTime: time.Now(),
	}
}

// RegisterRoutes registers health check endpoints
func (c *Checker) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/v1/health", c.Health)
	e.GET("/api/v1/health/live", c.Live)
	e.GET("/api/v1/health/ready", c.Ready)
}

type HealthStatus struct {
	Status     string                  `json:"status"`
	Version    string                  `json:"version"`
	Uptime     string                  `json:"uptime"`
	ModelReady bool                    `json:"model_ready"`
	Checks     map[string]*CheckResult `json:"checks"`
	ReportedAt time.Time               `json:"reported_at"`
}

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Health runs every dependency check concurrently, each bounded by checkTimeout.
func (c *Checker) Health(ctx echo.Context) error {
	status := &HealthStatus{
		Status:     statusHealthy,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		ModelReady: c.ready(),
		Checks:     make(map[string]*CheckResult, len(c.checks)),
		ReportedAt: time.Now(),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx.Request().Context())
	for name, check := range c.checks {
		g.Go(func() error {
			result := run(gctx, check)
			mu.Lock()
			status.Checks[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, result := range status.Checks {
		if result.Status != statusHealthy {
			status.Status = statusUnhealthy
		}
	}

	httpStatus := http.StatusOK
	if status.Status == statusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return ctx.JSON(httpStatus, status)
}

func run(ctx context.Context, check Check) *CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	if err := check(ctx); err != nil {
		return &CheckResult{Status: statusUnhealthy, Message: err.Error()}
	}
	return &CheckResult{Status: statusHealthy, Latency: time.Since(start).String()}
}

// Live returns the liveness status (is the service running)
func (c *Checker) Live(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

// Ready reports ready once the gazetteer model has loaded.
func (c *Checker) Ready(ctx echo.Context) error {
	if c.ready() {
		return ctx.JSON(http.StatusOK, map[string]string{"status": "ready"})
	}
	return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}
