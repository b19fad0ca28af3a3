package observability

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic recovers from a panic and logs it with the stack trace.
//
// Usage in defer statements:
//
//	func runJob() {
//	    defer observability.RecoverPanic(logger, "retention cleanup")
//	    // ... code that might panic
//	}
//
// The panic is NOT re-raised.
func RecoverPanic(logger *logrus.Entry, context string) {
	if r := recover(); r != nil {
		logPanic(logger, context, r)
	}
}

// RecoverPanicWithCallback recovers from a panic, logs it, and then runs
// callback. The callback only runs when a panic occurred.
func RecoverPanicWithCallback(logger *logrus.Entry, context string, callback func(r interface{})) {
	if r := recover(); r != nil {
		logPanic(logger, context, r)
		if callback != nil {
			callback(r)
		}
	}
}

// MustRecover converts a recovered panic value into an error.
// If r is nil, returns nil.
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}

func logPanic(logger *logrus.Entry, context string, r interface{}) {
	if logger == nil {
		logger = Discard()
	}
	logger.WithFields(logrus.Fields{
		"panic":   r,
		"stack":   string(debug.Stack()),
		"context": context,
	}).Error("PANIC recovered")
}
