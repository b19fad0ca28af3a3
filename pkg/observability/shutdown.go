package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrShutdownTimeout is returned when the shutdown steps outlive the timeout.
var ErrShutdownTimeout = errors.New("shutdown timeout reached")

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

type shutdownStep struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager stops the HTTP server, then runs the registered steps one
// at a time in registration order under a shared deadline.
type ShutdownManager struct {
	logger  *logrus.Entry
	server  *http.Server
	timeout time.Duration

	mu    sync.Mutex
	steps []shutdownStep
	done  bool
}

// NewShutdownManager creates a new shutdown manager. server may be nil.
func NewShutdownManager(logger *logrus.Entry, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = Discard()
	}
	return &ShutdownManager{
		logger:  logger,
		server:  server,
		timeout: timeout,
	}
}

// Register appends a named shutdown step.
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.steps = append(sm.steps, shutdownStep{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT, SIGTERM or the end of ctx, then shuts
// down.
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		sm.logger.Infof("Received signal %s, starting graceful shutdown", sig)
	case <-ctx.Done():
		sm.logger.WithError(context.Cause(ctx)).Info("Context ended, starting graceful shutdown")
	}
	return sm.Shutdown()
}

// Shutdown runs once. Later calls return nil. A failing step is logged and
// does not stop the following steps.
func (sm *ShutdownManager) Shutdown() error {
	sm.mu.Lock()
	if sm.done {
		sm.mu.Unlock()
		return nil
	}
	sm.done = true
	steps := append([]shutdownStep(nil), sm.steps...)
	sm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	var errs []error
	if sm.server != nil {
		sm.logger.Info("Shutting down HTTP server")
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown error")
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			sm.logger.WithField("step", step.name).Warn("Shutdown timeout reached, skipping remaining steps")
			errs = append(errs, ErrShutdownTimeout)
			break
		}
		if err := sm.runStep(ctx, step); err != nil {
			sm.logger.WithError(err).WithField("step", step.name).Error("Shutdown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	sm.logger.Info("Graceful shutdown complete")
	return nil
}

// runStep gives up on a step that ignores ctx once the deadline passes.
func (sm *ShutdownManager) runStep(ctx context.Context, step shutdownStep) error {
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logPanic(sm.logger, "shutdown "+step.name, r)
				errCh <- MustRecover(r)
			}
		}()
		errCh <- step.fn(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ErrShutdownTimeout
	}
}
