package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/decisionlens/pkg/atoms"
	"github.com/platinummonkey/decisionlens/pkg/campaigns"
	"github.com/platinummonkey/decisionlens/pkg/engine"
	"github.com/platinummonkey/decisionlens/pkg/observability"
	"github.com/platinummonkey/decisionlens/pkg/users"
)

// MaxReportedErrors caps the line errors kept in a Result.
const MaxReportedErrors = 100

// Target receives decoded records. *engine.Engine implements it.
type Target interface {
	RecordAtomUsage(ctx context.Context, u atoms.Usage) error
	RecordExecution(ctx context.Context, e campaigns.Execution) error
	RecordUserRequest(ctx context.Context, r users.Request) error
	EndSession(ctx context.Context, sessionID string, at time.Time) error
}

// Router picks the target for a record's tenant.
type Router func(tenant string) (Target, error)

// Single routes every record to t regardless of tenant.
func Single(t Target) Router {
	return func(string) (Target, error) { return t, nil }
}

// Tenants routes records through a registry. Records without a tenant go
// to fallback.
func Tenants(r *engine.Registry, fallback string) Router {
	return func(tenant string) (Target, error) {
		if tenant == "" {
			tenant = fallback
		}
		return r.Get(tenant)
	}
}

// Result summarizes one Dispatch run.
type Result struct {
	Applied int
	Failed  int
	// Errors holds the first MaxReportedErrors line errors.
	Errors []error
}

func (r *Result) fail(err error) {
	r.Failed++
	if len(r.Errors) < MaxReportedErrors {
		r.Errors = append(r.Errors, err)
	}
}

// Option configures Dispatch.
type Option func(*dispatcher)

type dispatcher struct {
	log     *logrus.Entry
	metrics *observability.Metrics
}

// WithLogger sets the log entry used for rejected lines.
func WithLogger(l *logrus.Entry) Option {
	return func(d *dispatcher) { d.log = l }
}

// WithMetrics counts malformed lines.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *dispatcher) { d.metrics = m }
}

// Dispatch decodes r line by line and applies each record to the routed
// target. Line errors are collected in the result; only read failures and
// context cancellation stop the run.
func Dispatch(ctx context.Context, r io.Reader, route Router, opts ...Option) (Result, error) {
	d := dispatcher{log: observability.Discard()}
	for _, opt := range opts {
		opt(&d)
	}

	var res Result
	dec := NewDecoder(r)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var lineErr *LineError
		if errors.As(err, &lineErr) {
			d.metrics.RecordRejected("ingest", "malformed")
			d.reject(&res, lineErr)
			continue
		}
		if err != nil {
			return res, err
		}

		if err := d.apply(ctx, route, rec); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			d.reject(&res, &LineError{Line: rec.Line, Kind: rec.Kind, Err: err})
			continue
		}
		res.Applied++
	}

	d.log.WithFields(logrus.Fields{
		"applied": res.Applied,
		"failed":  res.Failed,
	}).Info("Ingest finished")
	return res, nil
}

func (d *dispatcher) apply(ctx context.Context, route Router, rec Record) error {
	target, err := route(rec.Tenant)
	if err != nil {
		return fmt.Errorf("failed to route tenant %q: %w", rec.Tenant, err)
	}
	switch p := rec.Payload.(type) {
	case atoms.Usage:
		return target.RecordAtomUsage(ctx, p)
	case campaigns.Execution:
		return target.RecordExecution(ctx, p)
	case users.Request:
		return target.RecordUserRequest(ctx, p)
	case SessionEnd:
		return target.EndSession(ctx, p.SessionID, p.At)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownKind, rec.Payload)
	}
}

// reject records a skipped line. Validation failures are already counted
// by the analyzers.
func (d *dispatcher) reject(res *Result, err *LineError) {
	res.fail(err)
	d.log.WithFields(logrus.Fields{
		"line": err.Line,
		"kind": err.Kind,
	}).WithError(err.Err).Warn("Skipping ingest line")
}
