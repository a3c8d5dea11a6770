package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/coverline/server/internal/audit"
	"github.com/coverline/server/internal/compliance"
	"github.com/coverline/server/internal/domain/agents"
	"github.com/coverline/server/internal/domain/automations"
	"github.com/coverline/server/internal/domain/leads"
	"github.com/coverline/server/internal/domain/routing"
	"github.com/coverline/server/internal/domain/segments"
	"github.com/coverline/server/internal/email"
	"github.com/coverline/server/internal/metrics"
)

type AssignLeadArgs struct {
	LeadULID string `json:"lead_ulid"`
}

func (AssignLeadArgs) Kind() string { return JobKindAssignLead }

type AutomationRunArgs struct {
	Trigger  string            `json:"trigger"`
	LeadULID string            `json:"lead_ulid"`
	Context  map[string]string `json:"context,omitempty"`
}

func (AutomationRunArgs) Kind() string { return JobKindAutomationRun }

type NotificationArgs struct {
	AgentULID string `json:"agent_ulid"`
	LeadULID  string `json:"lead_ulid"`
}

func (NotificationArgs) Kind() string { return JobKindNotification }

type RetentionCleanupArgs struct{}

func (RetentionCleanupArgs) Kind() string { return JobKindRetentionCleanup }

type AuditVerifyArgs struct{}

func (AuditVerifyArgs) Kind() string { return JobKindAuditVerify }

type SegmentRefreshArgs struct{}

func (SegmentRefreshArgs) Kind() string { return JobKindSegmentRefresh }

type FollowUpSweepArgs struct{}

func (FollowUpSweepArgs) Kind() string { return JobKindFollowUpSweep }

// NotificationEnqueuer lets the assignment worker queue follow-up email
// delivery without holding the full River client.
type NotificationEnqueuer interface {
	EnqueueNotification(ctx context.Context, agentULID, leadULID string) error
}

// AssignLeadWorker routes a freshly ingested lead to an agent.
type AssignLeadWorker struct {
	river.WorkerDefaults[AssignLeadArgs]
	Router   *routing.Service
	Enqueuer NotificationEnqueuer
	Logger   zerolog.Logger
}

func (AssignLeadWorker) Kind() string { return JobKindAssignLead }

func (w AssignLeadWorker) Work(ctx context.Context, job *river.Job[AssignLeadArgs]) error {
	if w.Router == nil {
		return fmt.Errorf("routing service not configured")
	}
	if job.Args.LeadULID == "" {
		return river.JobCancel(fmt.Errorf("lead ULID is required"))
	}

	decision, err := w.Router.Assign(ctx, job.Args.LeadULID, nil)
	if err != nil {
		// Terminal: someone assigned the lead before the job ran.
		if errors.Is(err, routing.ErrAlreadyAssigned) {
			return river.JobCancel(err)
		}
		return fmt.Errorf("assign lead %s: %w", job.Args.LeadULID, err)
	}

	if decision.Assigned == nil {
		// The lead was flagged for manual review; retrying would just
		// rescan the same empty pool.
		w.Logger.Warn().
			Str("lead_ulid", job.Args.LeadULID).
			Str("reason", decision.Reason).
			Msg("lead left unassigned")
		return nil
	}

	if w.Enqueuer != nil {
		if err := w.Enqueuer.EnqueueNotification(ctx, decision.Assigned.Agent.ULID, job.Args.LeadULID); err != nil {
			// The assignment itself committed; failing the job would
			// re-run routing against an already-assigned lead.
			w.Logger.Error().Err(err).
				Str("lead_ulid", job.Args.LeadULID).
				Str("agent_ulid", decision.Assigned.Agent.ULID).
				Msg("enqueue assignment notification failed")
		}
	}
	return nil
}

// AutomationRunWorker evaluates active automations against a lead event.
type AutomationRunWorker struct {
	river.WorkerDefaults[AutomationRunArgs]
	Engine *automations.Engine
}

func (AutomationRunWorker) Kind() string { return JobKindAutomationRun }

func (w AutomationRunWorker) Work(ctx context.Context, job *river.Job[AutomationRunArgs]) error {
	if w.Engine == nil {
		return fmt.Errorf("automation engine not configured")
	}
	if job.Args.LeadULID == "" || job.Args.Trigger == "" {
		return river.JobCancel(fmt.Errorf("trigger and lead ULID are required"))
	}
	return w.Engine.HandleEvent(ctx, automations.Event{
		Trigger:  job.Args.Trigger,
		LeadULID: job.Args.LeadULID,
		Context:  job.Args.Context,
	})
}

// NotificationWorker delivers assignment emails to agents.
type NotificationWorker struct {
	river.WorkerDefaults[NotificationArgs]
	Email  *email.Service
	Agents agents.Repository
	Leads  leads.Repository
}

func (NotificationWorker) Kind() string { return JobKindNotification }

func (w NotificationWorker) Work(ctx context.Context, job *river.Job[NotificationArgs]) error {
	if w.Email == nil || w.Agents == nil || w.Leads == nil {
		return fmt.Errorf("notification worker not fully configured")
	}

	agent, err := w.Agents.GetByULID(ctx, job.Args.AgentULID)
	if err != nil {
		return river.JobCancel(fmt.Errorf("load agent %s: %w", job.Args.AgentULID, err))
	}
	lead, err := w.Leads.GetByULID(ctx, job.Args.LeadULID)
	if err != nil {
		return river.JobCancel(fmt.Errorf("load lead %s: %w", job.Args.LeadULID, err))
	}

	return w.Email.SendAssignmentNotification(ctx, agent, lead)
}

// RetentionCleanupWorker enforces the data retention policy.
type RetentionCleanupWorker struct {
	river.WorkerDefaults[RetentionCleanupArgs]
	Compliance *compliance.Service
	Logger     zerolog.Logger
}

func (RetentionCleanupWorker) Kind() string { return JobKindRetentionCleanup }

func (w RetentionCleanupWorker) Work(ctx context.Context, job *river.Job[RetentionCleanupArgs]) error {
	if w.Compliance == nil {
		return fmt.Errorf("compliance service not configured")
	}
	report, err := w.Compliance.EnforceRetention(ctx)
	if err != nil {
		return fmt.Errorf("enforce retention: %w", err)
	}
	w.Logger.Info().
		Int("anonymized", report.Anonymized).
		Int64("idempotency_keys_deleted", report.IdempotencyKeysGone).
		Msg("retention enforcement completed")
	return nil
}

// AuditVerifyWorker walks the audit chain and publishes the result as
// metrics. A broken chain fails the job so the error handler alerts.
type AuditVerifyWorker struct {
	river.WorkerDefaults[AuditVerifyArgs]
	Audit  audit.Repository
	Logger zerolog.Logger
}

func (AuditVerifyWorker) Kind() string { return JobKindAuditVerify }

func (w AuditVerifyWorker) Work(ctx context.Context, job *river.Job[AuditVerifyArgs]) error {
	if w.Audit == nil {
		return fmt.Errorf("audit repository not configured")
	}
	report, err := audit.Verify(ctx, w.Audit, 0, 0)
	if err != nil {
		return fmt.Errorf("verify audit chain: %w", err)
	}

	metrics.AuditChainLength.Set(float64(report.LastSeq))
	if report.Valid {
		metrics.AuditChainValid.Set(1)
		w.Logger.Info().
			Int("checked", report.Checked).
			Int64("last_seq", report.LastSeq).
			Msg("audit chain verified")
		return nil
	}

	metrics.AuditChainValid.Set(0)
	for _, p := range report.Problems {
		w.Logger.Error().
			Str("kind", string(p.Kind)).
			Int64("seq", p.Seq).
			Str("detail", p.Message).
			Msg("audit chain problem")
	}
	return fmt.Errorf("audit chain invalid: %d problem(s), first at seq %d", report.ProblemCount, report.Problems[0].Seq)
}

// SegmentRefreshWorker recomputes stored membership for every segment.
type SegmentRefreshWorker struct {
	river.WorkerDefaults[SegmentRefreshArgs]
	Segments *segments.Service
	Logger   zerolog.Logger
}

func (SegmentRefreshWorker) Kind() string { return JobKindSegmentRefresh }

func (w SegmentRefreshWorker) Work(ctx context.Context, job *river.Job[SegmentRefreshArgs]) error {
	if w.Segments == nil {
		return fmt.Errorf("segments service not configured")
	}
	counts, err := w.Segments.RefreshAll(ctx)
	if err != nil {
		return fmt.Errorf("refresh segments: %w", err)
	}
	w.Logger.Info().Int("segments", len(counts)).Msg("segment refresh completed")
	return nil
}

// FollowUpSource is the slice of the lead repository the follow-up
// sweep reads and clears.
type FollowUpSource interface {
	ListDueFollowUps(ctx context.Context, asOf time.Time, limit int) ([]leads.Lead, error)
	ClearFollowUp(ctx context.Context, ulid string) error
}

// TriggerEnqueuer queues automation runs for lead events.
type TriggerEnqueuer interface {
	EnqueueTrigger(ctx context.Context, trigger string, leadULID string, data map[string]string) error
}

// FollowUpSweepWorker fires the time-based automation trigger for
// every lead whose follow-up date has come due, then clears the date
// so the next sweep does not fire it again.
type FollowUpSweepWorker struct {
	river.WorkerDefaults[FollowUpSweepArgs]
	Leads    FollowUpSource
	Enqueuer TriggerEnqueuer
	Logger   zerolog.Logger
}

func (FollowUpSweepWorker) Kind() string { return JobKindFollowUpSweep }

func (w FollowUpSweepWorker) Work(ctx context.Context, job *river.Job[FollowUpSweepArgs]) error {
	if w.Leads == nil || w.Enqueuer == nil {
		return fmt.Errorf("follow-up sweep not fully configured")
	}

	due, err := w.Leads.ListDueFollowUps(ctx, time.Now(), 500)
	if err != nil {
		return fmt.Errorf("list due follow-ups: %w", err)
	}

	fired := 0
	for i := range due {
		lead := &due[i]
		data := map[string]string{}
		if lead.FollowUpOn != nil {
			data["follow_up_on"] = lead.FollowUpOn.UTC().Format(time.RFC3339)
		}
		if err := w.Enqueuer.EnqueueTrigger(ctx, leads.TriggerTimeBased, lead.ULID, data); err != nil {
			// Leave the date set; the next sweep retries this lead.
			w.Logger.Error().Err(err).
				Str("lead_ulid", lead.ULID).
				Msg("enqueue follow-up trigger failed")
			continue
		}
		if err := w.Leads.ClearFollowUp(ctx, lead.ULID); err != nil {
			w.Logger.Error().Err(err).
				Str("lead_ulid", lead.ULID).
				Msg("clear follow-up failed")
			continue
		}
		fired++
	}

	w.Logger.Info().Int("due", len(due)).Int("fired", fired).Msg("follow-up sweep completed")
	return nil
}

// WorkerDeps carries everything the worker pool needs.
type WorkerDeps struct {
	Router     *routing.Service
	Engine     *automations.Engine
	Email      *email.Service
	Agents     agents.Repository
	Leads      leads.Repository
	Compliance *compliance.Service
	Audit      audit.Repository
	Segments   *segments.Service
	FollowUps  FollowUpSource
	Enqueuer   NotificationEnqueuer
	Triggers   TriggerEnqueuer
	Logger     zerolog.Logger
}

// NewWorkers registers every worker with River.
func NewWorkers(deps WorkerDeps) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker[AssignLeadArgs](workers, AssignLeadWorker{
		Router:   deps.Router,
		Enqueuer: deps.Enqueuer,
		Logger:   deps.Logger,
	})
	river.AddWorker[AutomationRunArgs](workers, AutomationRunWorker{Engine: deps.Engine})
	river.AddWorker[NotificationArgs](workers, NotificationWorker{
		Email:  deps.Email,
		Agents: deps.Agents,
		Leads:  deps.Leads,
	})
	river.AddWorker[RetentionCleanupArgs](workers, RetentionCleanupWorker{
		Compliance: deps.Compliance,
		Logger:     deps.Logger,
	})
	river.AddWorker[AuditVerifyArgs](workers, AuditVerifyWorker{
		Audit:  deps.Audit,
		Logger: deps.Logger,
	})
	river.AddWorker[SegmentRefreshArgs](workers, SegmentRefreshWorker{
		Segments: deps.Segments,
		Logger:   deps.Logger,
	})
	river.AddWorker[FollowUpSweepArgs](workers, FollowUpSweepWorker{
		Leads:    deps.FollowUps,
		Enqueuer: deps.Triggers,
		Logger:   deps.Logger,
	})
	return workers
}
