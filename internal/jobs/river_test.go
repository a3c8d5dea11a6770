package jobs

import (
	"testing"
	"time"

	"github.com/riverqueue/river/rivertype"

	"github.com/coverline/server/internal/config"
)

func TestNewRetryPolicy_Defaults(t *testing.T) {
	policy := NewRetryPolicy(config.JobsConfig{})

	if policy.Default.MaxAttempts != AutomationMaxAttempts {
		t.Errorf("Default.MaxAttempts = %d, want %d", policy.Default.MaxAttempts, AutomationMaxAttempts)
	}
	if policy.Default.BaseDelay != 30*time.Second {
		t.Errorf("Default.BaseDelay = %v, want 30s", policy.Default.BaseDelay)
	}

	tests := []struct {
		kind                string
		expectedMaxAttempts int
		expectedBaseDelay   time.Duration
		expectedMaxDelay    time.Duration
	}{
		{
			kind:                JobKindAssignLead,
			expectedMaxAttempts: AssignLeadMaxAttempts,
			expectedBaseDelay:   15 * time.Second,
			expectedMaxDelay:    5 * time.Minute,
		},
		{
			kind:                JobKindAutomationRun,
			expectedMaxAttempts: AutomationMaxAttempts,
			expectedBaseDelay:   30 * time.Second,
			expectedMaxDelay:    30 * time.Minute,
		},
		{
			kind:                JobKindNotification,
			expectedMaxAttempts: EmailMaxAttempts,
			expectedBaseDelay:   1 * time.Minute,
			expectedMaxDelay:    1 * time.Hour,
		},
		{
			kind:                JobKindRetentionCleanup,
			expectedMaxAttempts: MaintenanceAttempts,
			expectedBaseDelay:   5 * time.Minute,
			expectedMaxDelay:    1 * time.Hour,
		},
	}

	for _, tt := range tests {
		got := policy.configFor(tt.kind)
		if got.MaxAttempts != tt.expectedMaxAttempts {
			t.Errorf("%s: MaxAttempts = %d, want %d", tt.kind, got.MaxAttempts, tt.expectedMaxAttempts)
		}
		if got.BaseDelay != tt.expectedBaseDelay {
			t.Errorf("%s: BaseDelay = %v, want %v", tt.kind, got.BaseDelay, tt.expectedBaseDelay)
		}
		if got.MaxDelay != tt.expectedMaxDelay {
			t.Errorf("%s: MaxDelay = %v, want %v", tt.kind, got.MaxDelay, tt.expectedMaxDelay)
		}
	}
}

func TestNewRetryPolicy_ConfigOverrides(t *testing.T) {
	policy := NewRetryPolicy(config.JobsConfig{
		RetryAssignment: 7,
		RetryAutomation: 2,
		RetryEmail:      9,
	})

	if got := policy.configFor(JobKindAssignLead).MaxAttempts; got != 7 {
		t.Errorf("assign MaxAttempts = %d, want 7", got)
	}
	if got := policy.configFor(JobKindAutomationRun).MaxAttempts; got != 2 {
		t.Errorf("automation MaxAttempts = %d, want 2", got)
	}
	if got := policy.configFor(JobKindNotification).MaxAttempts; got != 9 {
		t.Errorf("notification MaxAttempts = %d, want 9", got)
	}
}

func TestRetryPolicy_NextRetry_ExponentialBackoff(t *testing.T) {
	policy := NewRetryPolicy(config.JobsConfig{})
	attemptedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		attempt       int
		expectedDelay time.Duration
	}{
		{attempt: 1, expectedDelay: 15 * time.Second},
		{attempt: 2, expectedDelay: 30 * time.Second},
		{attempt: 3, expectedDelay: 1 * time.Minute},
		{attempt: 10, expectedDelay: 5 * time.Minute}, // capped at MaxDelay
	}

	for _, tt := range tests {
		job := &rivertype.JobRow{
			Kind:        JobKindAssignLead,
			Attempt:     tt.attempt,
			AttemptedAt: &attemptedAt,
		}
		got := policy.NextRetry(job)
		want := attemptedAt.Add(tt.expectedDelay)
		if !got.Equal(want) {
			t.Errorf("attempt %d: NextRetry = %v, want %v", tt.attempt, got, want)
		}
	}
}

func TestRetryPolicy_InsertOpts(t *testing.T) {
	policy := NewRetryPolicy(config.JobsConfig{})

	opts := policy.InsertOpts(JobKindAssignLead)
	if opts.MaxAttempts != AssignLeadMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", opts.MaxAttempts, AssignLeadMaxAttempts)
	}
	if opts.Queue != "" {
		t.Errorf("assign queue = %q, want default", opts.Queue)
	}

	opts = policy.InsertOpts(JobKindNotification)
	if opts.Queue != QueueOutbound {
		t.Errorf("notification queue = %q, want %q", opts.Queue, QueueOutbound)
	}
}

func TestNewPeriodicJobs(t *testing.T) {
	jobs := NewPeriodicJobs()
	if len(jobs) != 3 {
		t.Fatalf("len(jobs) = %d, want 3", len(jobs))
	}
}
