package async

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/decisionlens/pkg/observability"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Optional timeout enforcement
// - Error logging
//
// A timeout of 0 lets fn run until ctx is done. The returned channel is
// closed when fn has returned.
//
// Example:
//
//	done := SafeGo(ctx, log, 0, "config watcher", func(ctx context.Context) error {
//	    return config.Watch(ctx, path, log, apply)
//	})
func SafeGo(parent context.Context, log *logrus.Entry, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	if log == nil {
		log = observability.Discard()
	}
	log = log.WithField("task", taskName)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ctx, cancel := parent, context.CancelFunc(func() {})
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(parent, timeout)
		}
		defer cancel()

		defer observability.RecoverPanic(log, taskName)

		if err := fn(ctx); err != nil {
			// Log error but don't crash
			log.WithError(err).Error("Background task failed")
		}
	}()
	return done
}

// SafeGoNoError is like SafeGo but for functions that don't return errors.
func SafeGoNoError(parent context.Context, log *logrus.Entry, timeout time.Duration, taskName string, fn func(context.Context)) <-chan struct{} {
	return SafeGo(parent, log, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}
