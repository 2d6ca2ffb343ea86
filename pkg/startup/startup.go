// Package startup starts service dependencies in dependency order, retrying
// with fibonacci backoff, and stops them in reverse.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

type StartupDependency interface {
	GetName() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type StartupStatus int

const (
	StartupStatusPending StartupStatus = iota
	StartupStatusStarted
	StartupStatusStopped
	StartupStatusFailed
)

// Func adapts closures to a StartupDependency. Nil hooks are no-ops.
type Func struct {
	Name     string
	Requires []string
	OnStart  func(ctx context.Context) error
	OnStop   func(ctx context.Context) error
}

func (f Func) GetName() string     { return f.Name }
func (f Func) DependsOn() []string { return f.Requires }

func (f Func) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}

type Startup struct {
	dependencies map[string]StartupDependency
	order        []string
	logger       ectologger.Logger
	statuses     map[string]StartupStatus
	started      []string
	attempt      int
	maxAttempts  int
	// wait is the backoff sleep; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

func NewStartup(logger ectologger.Logger, maxAttempts int) *Startup {
	return &Startup{
		logger:       logger,
		dependencies: make(map[string]StartupDependency),
		statuses:     make(map[string]StartupStatus),
		maxAttempts:  max(maxAttempts, 1),
		wait:         sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// AddDependency registers a dependency. Dependencies start in registration
// order unless DependsOn requires otherwise.
func (s *Startup) AddDependency(dependency StartupDependency) {
	if _, ok := s.dependencies[dependency.GetName()]; !ok {
		s.order = append(s.order, dependency.GetName())
	}
	s.dependencies[dependency.GetName()] = dependency
}

func (s *Startup) Start(ctx context.Context) error {
	s.attempt = 0
	var lastErr error

	// Fibonacci backoff sequence
	a, b := 1, 1
	for s.attempt < s.maxAttempts {
		s.attempt++
		s.logger.WithField("attempt", s.attempt).Infof("Beginning startup attempt %d", s.attempt)

		success := true
		for _, name := range s.order {
			if err := s.startDependency(ctx, s.dependencies[name], nil); err != nil {
				s.logger.WithError(err).Errorf("Startup dependency '%s' attempt %d failed", name, s.attempt)
				lastErr = err
				success = false
				break
			}
		}

		if success {
			return nil
		}

		if s.attempt >= s.maxAttempts {
			return fmt.Errorf("startup failed after %d attempts: %w", s.attempt, lastErr)
		}

		waitTime := time.Duration(a) * time.Second
		s.logger.Infof("Retrying in %d seconds (attempt %d/%d)", a, s.attempt, s.maxAttempts)
		if err := s.wait(ctx, waitTime); err != nil {
			return err
		}

		a, b = b, a+b
	}

	return lastErr
}

func (s *Startup) startDependency(ctx context.Context, dependency StartupDependency, path []string) error {
	name := dependency.GetName()
	if s.statuses[name] == StartupStatusStarted {
		return nil
	}
	for _, seen := range path {
		if seen == name {
			return fmt.Errorf("dependency cycle: %v -> %s", path, name)
		}
	}

	for _, dependencyName := range dependency.DependsOn() {
		required, ok := s.dependencies[dependencyName]
		if !ok {
			return fmt.Errorf("dependency '%s' requires unknown dependency '%s'", name, dependencyName)
		}
		if err := s.startDependency(ctx, required, append(path, name)); err != nil {
			return err
		}
	}

	s.logger.WithField("dependency", name).Infof("Starting dependency '%s'", name)
	s.statuses[name] = StartupStatusPending
	if err := dependency.Start(ctx); err != nil {
		s.statuses[name] = StartupStatusFailed
		s.logger.WithError(err).WithField("dependency", name).Errorf("Failed to start dependency '%s'", name)
		return err
	}
	s.statuses[name] = StartupStatusStarted
	s.started = append(s.started, name)
	return nil
}

// Stop stops started dependencies in reverse start order. Every dependency is
// asked to stop; the first error is returned.
func (s *Startup) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(s.started) - 1; i >= 0; i-- {
		name := s.started[i]
		if s.statuses[name] != StartupStatusStarted {
			continue
		}

		s.logger.WithField("dependency", name).Infof("Stopping dependency '%s'", name)
		if err := s.dependencies[name].Stop(ctx); err != nil {
			s.logger.WithError(err).WithField("dependency", name).Errorf("Failed to stop dependency '%s'", name)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.statuses[name] = StartupStatusStopped
	}
	s.started = nil
	return firstErr
}
