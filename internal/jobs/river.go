package jobs

import (
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"

	"github.com/coverline/server/internal/config"
)

const (
	JobKindAssignLead       = "assign_lead"
	JobKindAutomationRun    = "automation_run"
	JobKindNotification     = "notification"
	JobKindRetentionCleanup = "retention_cleanup"
	JobKindAuditVerify      = "audit_verify"
	JobKindSegmentRefresh   = "segment_refresh"
	JobKindFollowUpSweep    = "follow_up_sweep"
)

const (
	AssignLeadMaxAttempts = 3
	AutomationMaxAttempts = 5
	EmailMaxAttempts      = 5
	MaintenanceAttempts   = 2
)

// RetryConfig controls per-kind retry behavior.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryPolicy implements River's ClientRetryPolicy with per-kind exponential backoff.
type RetryPolicy struct {
	Default RetryConfig
	ByKind  map[string]RetryConfig
}

// NewRetryPolicy builds the retry schedule. Attempt counts come from the
// jobs configuration; zero values fall back to the built-in defaults.
func NewRetryPolicy(cfg config.JobsConfig) *RetryPolicy {
	assignment := cfg.RetryAssignment
	if assignment <= 0 {
		assignment = AssignLeadMaxAttempts
	}
	automation := cfg.RetryAutomation
	if automation <= 0 {
		automation = AutomationMaxAttempts
	}
	email := cfg.RetryEmail
	if email <= 0 {
		email = EmailMaxAttempts
	}
	return &RetryPolicy{
		Default: RetryConfig{
			MaxAttempts: automation,
			BaseDelay:   30 * time.Second,
			MaxDelay:    30 * time.Minute,
		},
		ByKind: map[string]RetryConfig{
			JobKindAssignLead: {
				MaxAttempts: assignment,
				BaseDelay:   15 * time.Second,
				MaxDelay:    5 * time.Minute,
			},
			JobKindAutomationRun: {
				MaxAttempts: automation,
				BaseDelay:   30 * time.Second,
				MaxDelay:    30 * time.Minute,
			},
			JobKindNotification: {
				MaxAttempts: email,
				BaseDelay:   1 * time.Minute,
				MaxDelay:    1 * time.Hour,
			},
			JobKindRetentionCleanup: {
				MaxAttempts: MaintenanceAttempts,
				BaseDelay:   5 * time.Minute,
				MaxDelay:    1 * time.Hour,
			},
			JobKindAuditVerify: {
				MaxAttempts: MaintenanceAttempts,
				BaseDelay:   5 * time.Minute,
				MaxDelay:    1 * time.Hour,
			},
			JobKindSegmentRefresh: {
				MaxAttempts: MaintenanceAttempts,
				BaseDelay:   1 * time.Minute,
				MaxDelay:    15 * time.Minute,
			},
			JobKindFollowUpSweep: {
				MaxAttempts: MaintenanceAttempts,
				BaseDelay:   1 * time.Minute,
				MaxDelay:    15 * time.Minute,
			},
		},
	}
}

// NextRetry determines the next retry time for a failed job.
func (p *RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	config := p.configFor(job.Kind)
	if config.BaseDelay == 0 {
		return time.Now()
	}

	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}

	delay := time.Duration(float64(config.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if job.AttemptedAt != nil {
		return job.AttemptedAt.Add(delay)
	}

	return time.Now().Add(delay)
}

// InsertOpts returns default insert options for a job kind.
func (p *RetryPolicy) InsertOpts(kind string) river.InsertOpts {
	config := p.configFor(kind)
	opts := river.InsertOpts{MaxAttempts: config.MaxAttempts}
	if kind == JobKindNotification {
		opts.Queue = QueueOutbound
	}
	return opts
}

// QueueOutbound serializes email delivery so provider rate limits hold.
const QueueOutbound = "outbound"

// NewClientConfig builds a River client configuration with retry policy.
func NewClientConfig(workers *river.Workers, policy *RetryPolicy, logger *slog.Logger, hooks []rivertype.Hook, periodicJobs []*river.PeriodicJob) *river.Config {
	if policy == nil {
		policy = NewRetryPolicy(config.JobsConfig{})
	}
	cfg := &river.Config{
		Workers:      workers,
		RetryPolicy:  policy,
		MaxAttempts:  policy.Default.MaxAttempts,
		PeriodicJobs: periodicJobs,
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
			QueueOutbound:      {MaxWorkers: 1},
		},
		Hooks: hooks,
	}
	if logger != nil {
		cfg.Logger = logger
		cfg.ErrorHandler = NewAlertingErrorHandler(logger, nil)
	}
	return cfg
}

// NewClient creates a River client using pgx v5.
func NewClient(pool *pgxpool.Pool, workers *river.Workers, policy *RetryPolicy, logger *slog.Logger, hooks []rivertype.Hook, periodicJobs []*river.PeriodicJob) (*river.Client[pgx.Tx], error) {
	return river.NewClient(riverpgxv5.New(pool), NewClientConfig(workers, policy, logger, hooks, periodicJobs))
}

/// NewPeriodicJobs creates the default periodic job schedule:
// retention enforcement daily, audit chain verification every 6 hours,
// segment refresh hourly, follow-up sweep every 15 minutes.
func NewPeriodicJobs() []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(24*time.Hour),
			func() (river.JobArgs, *river.InsertOpts) {
				return RetentionCleanupArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(6*time.Hour),
			func() (river.JobArgs, *river.InsertOpts) {
				return AuditVerifyArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(1*time.Hour),
			func() (river.JobArgs, *river.InsertOpts) {
				return SegmentRefreshArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(15*time.Minute),
			func() (river.JobArgs, *river.InsertOpts) {
				return FollowUpSweepArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		),
	}
}

func (p *RetryPolicy) configFor(kind string) RetryConfig {
	if p == nil {
		return RetryConfig{MaxAttempts: AutomationMaxAttempts, BaseDelay: 30 * time.Second, MaxDelay: 30 * time.Minute}
	}
	if config, ok := p.ByKind[kind]; ok {
		return config
	}
	return p.Default
}
