package jobs

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/coverline/server/internal/domain/leads"
)

func TestAssignLeadArgs_Kind(t *testing.T) {
	args := AssignLeadArgs{LeadULID: "01JXEAD000000000000000000A"}
	if args.Kind() != JobKindAssignLead {
		t.Errorf("Kind() = %q, want %q", args.Kind(), JobKindAssignLead)
	}
}

func TestAutomationRunArgs_Kind(t *testing.T) {
	args := AutomationRunArgs{Trigger: "lead_created", LeadULID: "01JXEAD000000000000000000A"}
	if args.Kind() != JobKindAutomationRun {
		t.Errorf("Kind() = %q, want %q", args.Kind(), JobKindAutomationRun)
	}
}

func TestNotificationArgs_Kind(t *testing.T) {
	args := NotificationArgs{AgentULID: "01JAGENT0000000000000000AA", LeadULID: "01JXEAD000000000000000000A"}
	if args.Kind() != JobKindNotification {
		t.Errorf("Kind() = %q, want %q", args.Kind(), JobKindNotification)
	}
}

func TestMaintenanceArgs_Kind(t *testing.T) {
	if kind := (RetentionCleanupArgs{}).Kind(); kind != JobKindRetentionCleanup {
		t.Errorf("Kind() = %q, want %q", kind, JobKindRetentionCleanup)
	}
	if kind := (AuditVerifyArgs{}).Kind(); kind != JobKindAuditVerify {
		t.Errorf("Kind() = %q, want %q", kind, JobKindAuditVerify)
	}
	if kind := (SegmentRefreshArgs{}).Kind(); kind != JobKindSegmentRefresh {
		t.Errorf("Kind() = %q, want %q", kind, JobKindSegmentRefresh)
	}
	if kind := (FollowUpSweepArgs{}).Kind(); kind != JobKindFollowUpSweep {
		t.Errorf("Kind() = %q, want %q", kind, JobKindFollowUpSweep)
	}
}

func TestAssignLeadWorker_RequiresRouter(t *testing.T) {
	worker := AssignLeadWorker{}
	err := worker.Work(context.Background(), &river.Job[AssignLeadArgs]{
		Args: AssignLeadArgs{LeadULID: "01JXEAD000000000000000000A"},
	})
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Errorf("Work() err = %v, want configuration error", err)
	}
}

func TestAutomationRunWorker_RequiresEngine(t *testing.T) {
	worker := AutomationRunWorker{}
	err := worker.Work(context.Background(), &river.Job[AutomationRunArgs]{
		Args: AutomationRunArgs{Trigger: "lead_created", LeadULID: "01JXEAD000000000000000000A"},
	})
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Errorf("Work() err = %v, want configuration error", err)
	}
}

func TestNotificationWorker_RequiresDeps(t *testing.T) {
	worker := NotificationWorker{}
	err := worker.Work(context.Background(), &river.Job[NotificationArgs]{
		Args: NotificationArgs{AgentULID: "01JAGENT0000000000000000AA", LeadULID: "01JXEAD000000000000000000A"},
	})
	if err == nil || !strings.Contains(err.Error(), "not fully configured") {
		t.Errorf("Work() err = %v, want configuration error", err)
	}
}

type stubFollowUpSource struct {
	due     []leads.Lead
	cleared []string
}

func (s *stubFollowUpSource) ListDueFollowUps(_ context.Context, _ time.Time, _ int) ([]leads.Lead, error) {
	return s.due, nil
}

func (s *stubFollowUpSource) ClearFollowUp(_ context.Context, ulid string) error {
	s.cleared = append(s.cleared, ulid)
	return nil
}

type stubTriggerEnqueuer struct {
	enqueued []string
	err      error
}

func (s *stubTriggerEnqueuer) EnqueueTrigger(_ context.Context, trigger, leadULID string, _ map[string]string) error {
	if s.err != nil {
		return s.err
	}
	s.enqueued = append(s.enqueued, trigger+":"+leadULID)
	return nil
}

func TestFollowUpSweepWorker_FiresAndClearsDueLeads(t *testing.T) {
	due := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	source := &stubFollowUpSource{due: []leads.Lead{
		{ULID: "01JXEAD000000000000000000A", FollowUpOn: &due},
		{ULID: "01JXEAD000000000000000000B", FollowUpOn: &due},
	}}
	enqueuer := &stubTriggerEnqueuer{}
	worker := FollowUpSweepWorker{Leads: source, Enqueuer: enqueuer, Logger: zerolog.Nop()}

	if err := worker.Work(context.Background(), &river.Job[FollowUpSweepArgs]{}); err != nil {
		t.Fatalf("Work() error = %v", err)
	}
	want := []string{
		"time_based:01JXEAD000000000000000000A",
		"time_based:01JXEAD000000000000000000B",
	}
	if !reflect.DeepEqual(enqueuer.enqueued, want) {
		t.Errorf("enqueued = %v, want %v", enqueuer.enqueued, want)
	}
	if len(source.cleared) != 2 {
		t.Errorf("cleared %d follow-ups, want 2", len(source.cleared))
	}
}

func TestFollowUpSweepWorker_KeepsDateWhenEnqueueFails(t *testing.T) {
	due := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	source := &stubFollowUpSource{due: []leads.Lead{
		{ULID: "01JXEAD000000000000000000A", FollowUpOn: &due},
	}}
	enqueuer := &stubTriggerEnqueuer{err: errors.New("queue down")}
	worker := FollowUpSweepWorker{Leads: source, Enqueuer: enqueuer, Logger: zerolog.Nop()}

	if err := worker.Work(context.Background(), &river.Job[FollowUpSweepArgs]{}); err != nil {
		t.Fatalf("Work() error = %v", err)
	}
	if len(source.cleared) != 0 {
		t.Errorf("cleared = %v, want none", source.cleared)
	}
}

func TestNewWorkers_RegistersAllKinds(t *testing.T) {
	workers := NewWorkers(WorkerDeps{})
	if workers == nil {
		t.Fatal("NewWorkers() returned nil")
	}
}
