// Package engine assembles the analytics engine: the atom, campaign and user
// analyzers, the change-notification bus they publish to and the janitor
// that runs retention and graph maintenance on a schedule.
//
// An Engine is self-contained and holds no package-level state, so several
// engines can run side by side. Registry keeps one engine per tenant.
//
// The query methods on Engine take a context and wrap the analyzer call in
// an OpenTelemetry span. They return ctx.Err() without computing anything
// when the context is already done.
package engine
