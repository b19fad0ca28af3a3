// Package async runs background tasks with panic recovery and logging.
//
// SafeGo replaces bare go statements for long-lived daemon tasks:
//
//	done := async.SafeGo(ctx, log, 0, "config watcher", func(ctx context.Context) error {
//		return config.Watch(ctx, path, log, apply)
//	})
//	...
//	<-done
//
// Panics are logged with their stack and never re-raised. Errors are
// logged at error level.
package async
