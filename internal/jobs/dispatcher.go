package jobs

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

type jobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Dispatcher enqueues background jobs on behalf of the domain services.
// It satisfies the lead pipeline's Dispatcher and the assignment worker's
// NotificationEnqueuer.
type Dispatcher struct {
	inserter jobInserter
	policy   *RetryPolicy
}

func NewDispatcher(client *river.Client[pgx.Tx], policy *RetryPolicy) *Dispatcher {
	return &Dispatcher{inserter: client, policy: policy}
}

// Bind attaches the River client after construction. The worker pool needs
// the dispatcher before the client exists, so startup wires them in two
// steps: NewDispatcher(nil, policy), build the client, then Bind.
func (d *Dispatcher) Bind(client *river.Client[pgx.Tx]) {
	d.inserter = client
}

func (d *Dispatcher) insert(ctx context.Context, args river.JobArgs) error {
	if d.inserter == nil {
		return fmt.Errorf("enqueue %s: dispatcher not bound to a job client", args.Kind())
	}
	opts := d.policy.InsertOpts(args.Kind())
	if _, err := d.inserter.Insert(ctx, args, &opts); err != nil {
		return fmt.Errorf("enqueue %s: %w", args.Kind(), err)
	}
	return nil
}

// EnqueueAssignment queues automatic routing for a lead.
func (d *Dispatcher) EnqueueAssignment(ctx context.Context, leadULID string) error {
	return d.insert(ctx, AssignLeadArgs{LeadULID: leadULID})
}

// EnqueueTrigger queues an automation run for a lead event.
func (d *Dispatcher) EnqueueTrigger(ctx context.Context, trigger string, leadULID string, data map[string]string) error {
	return d.insert(ctx, AutomationRunArgs{
		Trigger:  trigger,
		LeadULID: leadULID,
		Context:  data,
	})
}

// EnqueueNotification queues an assignment email to an agent.
func (d *Dispatcher) EnqueueNotification(ctx context.Context, agentULID, leadULID string) error {
	return d.insert(ctx, NotificationArgs{AgentULID: agentULID, LeadULID: leadULID})
}
