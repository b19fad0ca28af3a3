package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/decisionlens/pkg/atoms"
	"github.com/platinummonkey/decisionlens/pkg/campaigns"
	"github.com/platinummonkey/decisionlens/pkg/janitor"
	"github.com/platinummonkey/decisionlens/pkg/memo"
	"github.com/platinummonkey/decisionlens/pkg/notify"
	"github.com/platinummonkey/decisionlens/pkg/observability"
	"github.com/platinummonkey/decisionlens/pkg/users"
)

// Janitor job names.
const (
	JobAtomRetention     = "atom-retention"
	JobCampaignRetention = "campaign-retention"
	JobUserRetention     = "user-retention"
	JobGraphRebuild      = "atom-graph-rebuild"
)

// DefaultTenant names the engine used when no tenant is given.
const DefaultTenant = "default"

// Config sizes one engine.
type Config struct {
	AtomRetentionDays     int
	CampaignRetentionDays int
	UserRetentionDays     int
	// RetentionSchedule and GraphSchedule are cron specs.
	RetentionSchedule string
	GraphSchedule     string
	Cache             memo.Config
	// SampleLimit bounds the raw samples kept per atom usage record. 0 keeps none.
	SampleLimit int
}

// DefaultConfig returns the reference deployment settings.
func DefaultConfig() Config {
	return Config{
		AtomRetentionDays:     90,
		CampaignRetentionDays: 30,
		UserRetentionDays:     365,
		RetentionSchedule:     "@hourly",
		GraphSchedule:         "@hourly",
		Cache:                 memo.DefaultConfig(),
		SampleLimit:           atoms.DefaultSampleLimit,
	}
}

// Validate checks the configuration before any component is built.
func (c Config) Validate() error {
	var errs []error
	retention := []struct {
		name string
		days int
	}{
		{"atom", c.AtomRetentionDays},
		{"campaign", c.CampaignRetentionDays},
		{"user", c.UserRetentionDays},
	}
	for _, r := range retention {
		if r.days < 0 {
			errs = append(errs, fmt.Errorf("%s retention days must not be negative: %d", r.name, r.days))
		}
	}
	if _, err := janitor.ParseSchedule(c.RetentionSchedule); err != nil {
		errs = append(errs, fmt.Errorf("retention schedule: %w", err))
	}
	if _, err := janitor.ParseSchedule(c.GraphSchedule); err != nil {
		errs = append(errs, fmt.Errorf("graph schedule: %w", err))
	}
	if c.Cache.Size < 0 {
		errs = append(errs, fmt.Errorf("cache size must not be negative: %d", c.Cache.Size))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache ttl must not be negative: %s", c.Cache.TTL))
	}
	if c.SampleLimit < 0 {
		errs = append(errs, fmt.Errorf("sample limit must not be negative: %d", c.SampleLimit))
	}
	return errors.Join(errs...)
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	tenant  string
	clock   clockwork.Clock
	logger  *logrus.Logger
	metrics *observability.Metrics
}

// WithTenant labels the engine's logs.
func WithTenant(tenant string) Option {
	return func(o *options) { o.tenant = tenant }
}

// WithClock injects the clock shared by every component.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger components derive their entries from.
func WithLogger(l *logrus.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics enables Prometheus instrumentation. One Metrics value may be
// shared by several engines.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Engine owns one set of analyzers.
type Engine struct {
	tenant    string
	clock     clockwork.Clock
	log       *logrus.Entry
	bus       *notify.Bus
	atoms     *atoms.Analyzer
	campaigns *campaigns.Collector
	users     *users.Analyzer
	janitor   *janitor.Janitor
}

// New validates cfg and builds an engine. Call Start to run its janitor.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	o := options{tenant: DefaultTenant, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	entry := func(component string) *logrus.Entry {
		return observability.Component(o.logger, component).WithField("tenant", o.tenant)
	}

	e := &Engine{
		tenant: o.tenant,
		clock:  o.clock,
		log:    entry("engine"),
		bus:    notify.NewBus(entry("notify"), o.metrics),
	}

	var err error
	e.atoms, err = atoms.NewAnalyzer(cfg.AtomRetentionDays,
		atoms.WithClock(o.clock),
		atoms.WithLogger(entry("atoms")),
		atoms.WithMetrics(o.metrics),
		atoms.WithPublisher(e.bus),
		atoms.WithCacheConfig(cfg.Cache),
		atoms.WithSampleLimit(cfg.SampleLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create atom analyzer: %w", err)
	}
	e.campaigns, err = campaigns.NewCollector(cfg.CampaignRetentionDays,
		campaigns.WithClock(o.clock),
		campaigns.WithLogger(entry("campaigns")),
		campaigns.WithMetrics(o.metrics),
		campaigns.WithPublisher(e.bus),
		campaigns.WithCacheConfig(cfg.Cache),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create campaign collector: %w", err)
	}
	e.users, err = users.NewAnalyzer(cfg.UserRetentionDays,
		users.WithClock(o.clock),
		users.WithLogger(entry("users")),
		users.WithMetrics(o.metrics),
		users.WithPublisher(e.bus),
		users.WithCacheConfig(cfg.Cache),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user analyzer: %w", err)
	}

	e.janitor = janitor.New(
		janitor.WithClock(o.clock),
		janitor.WithLogger(entry("janitor")),
		janitor.WithMetrics(o.metrics),
	)
	jobs := []struct {
		name string
		spec string
		fn   janitor.JobFunc
	}{
		{JobAtomRetention, cfg.RetentionSchedule, e.atoms.RunRetention},
		{JobCampaignRetention, cfg.RetentionSchedule, e.campaigns.RunRetention},
		{JobUserRetention, cfg.RetentionSchedule, e.users.RunRetention},
		{JobGraphRebuild, cfg.GraphSchedule, e.atoms.RunGraphRebuild},
	}
	for _, j := range jobs {
		if err := e.janitor.AddJob(j.name, j.spec, j.fn); err != nil {
			return nil, fmt.Errorf("failed to schedule %s: %w", j.name, err)
		}
	}
	return e, nil
}

// Tenant returns the tenant the engine serves.
func (e *Engine) Tenant() string { return e.tenant }

// Atoms returns the atom usage analyzer.
func (e *Engine) Atoms() *atoms.Analyzer { return e.atoms }

// Campaigns returns the campaign metrics collector.
func (e *Engine) Campaigns() *campaigns.Collector { return e.campaigns }

// Users returns the user interaction analyzer.
func (e *Engine) Users() *users.Analyzer { return e.users }

// Bus returns the bus every analyzer publishes change notifications to.
func (e *Engine) Bus() *notify.Bus { return e.bus }

// Janitor returns the maintenance scheduler.
func (e *Engine) Janitor() *janitor.Janitor { return e.janitor }

// Start runs the janitor until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.janitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start janitor: %w", err)
	}
	e.log.Info("Engine started")
	return nil
}

// Stop halts the janitor and waits for running jobs.
func (e *Engine) Stop() {
	e.janitor.Stop()
	e.log.Info("Engine stopped")
}

// Healthy reports whether the maintenance jobs are being scheduled.
func (e *Engine) Healthy(ctx context.Context) error {
	return e.janitor.Healthy(ctx)
}

// SetRetention changes the retention windows of all three analyzers.
func (e *Engine) SetRetention(atomDays, campaignDays, userDays int) error {
	if err := e.atoms.SetRetentionDays(atomDays); err != nil {
		return err
	}
	if err := e.campaigns.SetRetentionDays(campaignDays); err != nil {
		return err
	}
	if err := e.users.SetRetentionDays(userDays); err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{
		"atom_days":     atomDays,
		"campaign_days": campaignDays,
		"user_days":     userDays,
	}).Info("Retention updated")
	return nil
}

// EvictExpired runs all three retention passes immediately.
func (e *Engine) EvictExpired(now time.Time) int {
	return e.atoms.EvictExpired(now) + e.campaigns.EvictExpired(now) + e.users.EvictExpired(now)
}

// Summary counts what an engine currently holds.
type Summary struct {
	Tenant    string
	Atoms     int
	Campaigns int
	Users     int
	Jobs      []janitor.JobStatus
}

// Summary returns entity counts and janitor state.
func (e *Engine) Summary() Summary {
	return Summary{
		Tenant:    e.tenant,
		Atoms:     len(e.atoms.AtomIDs()),
		Campaigns: len(e.campaigns.CampaignIDs()),
		Users:     len(e.users.UserIDs()),
		Jobs:      e.janitor.Status(),
	}
}
