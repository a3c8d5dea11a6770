package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Actor types recorded on entries.
const (
	ActorUser   = "user"
	ActorAPIKey = "api_key"
	ActorSystem = "system"
)

// Actions recorded across the service.
const (
	ActionCreate      = "create"
	ActionUpdate      = "update"
	ActionDelete      = "delete"
	ActionStatusSet   = "status_set"
	ActionAssign      = "assign"
	ActionExport      = "export"
	ActionAnonymize   = "anonymize"
	ActionLogin       = "login"
	ActionKeyIssued   = "api_key_issued"
	ActionKeyRevoked  = "api_key_revoked"
	ActionBreakerTrip = "breaker_trip"
)

// Writer serializes appends so seq assignment and prev-checksum linkage
// stay consistent within one process. The repository's unique seq
// constraint guards against forks across processes.
type Writer struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time

	mu sync.Mutex
}

func NewWriter(repo Repository, logger zerolog.Logger) *Writer {
	return &Writer{repo: repo, logger: logger, now: time.Now}
}

// Append adds one entry to the chain. On a seq collision with another
// writer it re-reads the head and retries, up to three attempts.
func (w *Writer) Append(ctx context.Context, params AppendParams) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		prev, err := w.repo.Last(ctx)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		entry, err := BuildNext(prev, params, w.now())
		if err != nil {
			return nil, err
		}

		inserted, err := w.repo.Insert(ctx, entry)
		if err == nil {
			return inserted, nil
		}
		lastErr = err
		w.logger.Warn().Err(err).Int64("seq", entry.Seq).Msg("audit append collided, retrying")
	}
	return nil, lastErr
}

// Record appends and only logs on failure. Used on paths where a lost
// audit entry must not fail the user-facing operation; the verify job
// still surfaces the resulting gap.
func (w *Writer) Record(ctx context.Context, params AppendParams) {
	if _, err := w.Append(ctx, params); err != nil {
		w.logger.Error().Err(err).
			Str("action", params.Action).
			Str("resource_type", params.ResourceType).
			Str("resource_id", params.ResourceID).
			Msg("failed to append audit entry")
	}
}
