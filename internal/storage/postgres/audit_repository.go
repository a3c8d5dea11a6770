package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/coverline/server/internal/audit"
)

var _ audit.Repository = (*AuditRepository)(nil)

const auditColumns = `id, seq, occurred_at, actor_id, actor_type, action, resource_type, resource_id, details, prev_checksum, checksum`

func scanAuditEntry(row leadScanner) (*audit.Entry, error) {
	var entry audit.Entry
	err := row.Scan(
		&entry.ID,
		&entry.Seq,
		&entry.Timestamp,
		&entry.ActorID,
		&entry.ActorType,
		&entry.Action,
		&entry.ResourceType,
		&entry.ResourceID,
		&entry.Details,
		&entry.PrevChecksum,
		&entry.Checksum,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *AuditRepository) Last(ctx context.Context) (*audit.Entry, error) {
	row := r.queryer().QueryRow(ctx,
		`SELECT `+auditColumns+` FROM audit_log ORDER BY seq DESC LIMIT 1`)
	entry, err := scanAuditEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, audit.ErrNotFound
		}
		return nil, fmt.Errorf("load audit head: %w", err)
	}
	return entry, nil
}

// Insert appends the entry. The unique index on seq makes concurrent
// writers collide instead of forking the chain; the caller re-reads the
// head and retries.
func (r *AuditRepository) Insert(ctx context.Context, entry *audit.Entry) (*audit.Entry, error) {
	details := entry.Details
	if len(details) == 0 {
		details = []byte("{}")
	}

	row := r.queryer().QueryRow(ctx, `
INSERT INTO audit_log (seq, occurred_at, actor_id, actor_type, action, resource_type, resource_id, details, prev_checksum, checksum)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+auditColumns,
		entry.Seq,
		entry.Timestamp.UTC(),
		entry.ActorID,
		entry.ActorType,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		details,
		entry.PrevChecksum,
		entry.Checksum,
	)

	inserted, err := scanAuditEntry(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("audit seq %d taken: %w", entry.Seq, err)
		}
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}
	return inserted, nil
}

func (r *AuditRepository) List(ctx context.Context, filters audit.ListFilters, page audit.Page) ([]audit.Entry, error) {
	where := []string{"TRUE"}
	args := []any{}

	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filters.ActorID != "" {
		where = append(where, "actor_id = "+arg(filters.ActorID))
	}
	if filters.Action != "" {
		where = append(where, "action = "+arg(filters.Action))
	}
	if filters.ResourceType != "" {
		where = append(where, "resource_type = "+arg(filters.ResourceType))
	}
	if filters.ResourceID != "" {
		where = append(where, "resource_id = "+arg(filters.ResourceID))
	}
	if filters.From != nil {
		where = append(where, "occurred_at >= "+arg(filters.From.UTC()))
	}
	if filters.To != nil {
		where = append(where, "occurred_at < "+arg(filters.To.UTC()))
	}
	if page.AfterSeq > 0 {
		where = append(where, "seq > "+arg(page.AfterSeq))
	}

	limit := page.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`SELECT %s FROM audit_log WHERE %s ORDER BY seq ASC LIMIT %s`,
		auditColumns, strings.Join(where, " AND "), arg(limit))

	rows, err := r.queryer().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func (r *AuditRepository) ListRange(ctx context.Context, fromSeq, toSeq int64) ([]audit.Entry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE seq >= $1 ORDER BY seq ASC`
	args := []any{fromSeq}
	if toSeq > 0 {
		query = `SELECT ` + auditColumns + ` FROM audit_log WHERE seq >= $1 AND seq <= $2 ORDER BY seq ASC`
		args = append(args, toSeq)
	}

	rows, err := r.queryer().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit range: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}
