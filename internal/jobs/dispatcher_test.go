package jobs

import (
	"context"
	"testing"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/coverline/server/internal/config"
)

type recordedInsert struct {
	args river.JobArgs
	opts *river.InsertOpts
}

type stubInserter struct {
	inserts []recordedInsert
	err     error
}

func (s *stubInserter) Insert(_ context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.inserts = append(s.inserts, recordedInsert{args: args, opts: opts})
	return &rivertype.JobInsertResult{}, nil
}

func TestDispatcher_EnqueueAssignment(t *testing.T) {
	inserter := &stubInserter{}
	d := &Dispatcher{inserter: inserter, policy: NewRetryPolicy(config.JobsConfig{})}

	if err := d.EnqueueAssignment(context.Background(), "01JXEAD000000000000000000A"); err != nil {
		t.Fatalf("EnqueueAssignment() error = %v", err)
	}
	if len(inserter.inserts) != 1 {
		t.Fatalf("inserts = %d, want 1", len(inserter.inserts))
	}

	got := inserter.inserts[0]
	args, ok := got.args.(AssignLeadArgs)
	if !ok {
		t.Fatalf("args type = %T, want AssignLeadArgs", got.args)
	}
	if args.LeadULID != "01JXEAD000000000000000000A" {
		t.Errorf("LeadULID = %q", args.LeadULID)
	}
	if got.opts.MaxAttempts != AssignLeadMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", got.opts.MaxAttempts, AssignLeadMaxAttempts)
	}
}

func TestDispatcher_EnqueueTrigger(t *testing.T) {
	inserter := &stubInserter{}
	d := &Dispatcher{inserter: inserter, policy: NewRetryPolicy(config.JobsConfig{})}

	data := map[string]string{"old_status": "new", "new_status": "contacted"}
	if err := d.EnqueueTrigger(context.Background(), "lead_status_changed", "01JXEAD000000000000000000A", data); err != nil {
		t.Fatalf("EnqueueTrigger() error = %v", err)
	}

	args, ok := inserter.inserts[0].args.(AutomationRunArgs)
	if !ok {
		t.Fatalf("args type = %T, want AutomationRunArgs", inserter.inserts[0].args)
	}
	if args.Trigger != "lead_status_changed" {
		t.Errorf("Trigger = %q", args.Trigger)
	}
	if args.Context["new_status"] != "contacted" {
		t.Errorf("Context = %v", args.Context)
	}
}

func TestDispatcher_EnqueueNotification_UsesOutboundQueue(t *testing.T) {
	inserter := &stubInserter{}
	d := &Dispatcher{inserter: inserter, policy: NewRetryPolicy(config.JobsConfig{})}

	if err := d.EnqueueNotification(context.Background(), "01JAGENT0000000000000000AA", "01JXEAD000000000000000000A"); err != nil {
		t.Fatalf("EnqueueNotification() error = %v", err)
	}
	if got := inserter.inserts[0].opts.Queue; got != QueueOutbound {
		t.Errorf("Queue = %q, want %q", got, QueueOutbound)
	}
}
