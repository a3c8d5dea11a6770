package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coverline/server/internal/audit"
	"github.com/coverline/server/internal/auth"
	"github.com/coverline/server/internal/carriers"
	"github.com/coverline/server/internal/domain/agents"
	"github.com/coverline/server/internal/domain/automations"
	"github.com/coverline/server/internal/domain/leads"
	"github.com/coverline/server/internal/domain/notes"
	"github.com/coverline/server/internal/domain/routing"
	"github.com/coverline/server/internal/domain/segments"
)

// queryer is the slice of pgx shared by pools and transactions.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository bundles every Postgres-backed store behind one handle.
// With a tx set, all sub-repositories run inside that transaction.
type Repository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewRepository(pool *pgxpool.Pool) (*Repository, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres repository: pool is nil")
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Leads() leads.Repository {
	return &LeadRepository{pool: r.pool, tx: r.tx}
}

// FollowUps exposes the lead repository's follow-up queries for the
// sweep worker, which needs more than the domain interface carries.
func (r *Repository) FollowUps() *LeadRepository {
	return &LeadRepository{pool: r.pool, tx: r.tx}
}

func (r *Repository) Agents() agents.Repository {
	return &AgentRepository{pool: r.pool, tx: r.tx}
}

func (r *Repository) Assignments() routing.Repository {
	return &AssignmentRepository{pool: r.pool, tx: r.tx}
}

func (r *Repository) Notes() notes.Repository {
	return &NoteRepository{pool: r.pool, tx: r.tx}
}

func (r *Repository) Segments() segments.Repository {
	return &SegmentRepository{pool: r.pool, tx: r.tx}
}

func (r *Repository) Automations() automations.Repository {
	return &AutomationRepository{pool: r.pool, tx: r.tx}
}

func (r *Repository) Audit() audit.Repository {
	return &AuditRepository{pool: r.pool, tx: r.tx}
}

func (r *Repository) Carriers() carriers.Repository {
	return &CarrierRepository{pool: r.pool, tx: r.tx}
}

func (r *Repository) APIKeys() auth.APIKeyStore {
	return &APIKeyRepository{pool: r.pool, tx: r.tx}
}

// WithTx runs fn against a transactional view of the repository. Nested
// calls reuse the outer transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, *Repository) error) error {
	if r.tx != nil {
		return fn(ctx, r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	wrapped := &Repository{pool: r.pool, tx: tx}
	if err := fn(ctx, wrapped); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type LeadRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

type AgentRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

type AssignmentRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

type NoteRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

type SegmentRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

type AutomationRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

type AuditRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

type CarrierRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

type APIKeyRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func (r *LeadRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func (r *AgentRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func (r *AssignmentRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func (r *NoteRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func (r *SegmentRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func (r *AutomationRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func (r *AuditRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func (r *CarrierRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func (r *APIKeyRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}
