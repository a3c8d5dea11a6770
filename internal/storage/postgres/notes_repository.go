package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/coverline/server/internal/domain/notes"
)

var _ notes.Repository = (*NoteRepository)(nil)

const noteColumns = `id, ulid, lead_ulid, author_id, body, pinned, created_at, updated_at`

func scanNote(row leadScanner) (*notes.Note, error) {
	var note notes.Note
	err := row.Scan(
		&note.ID,
		&note.ULID,
		&note.LeadULID,
		&note.AuthorID,
		&note.Body,
		&note.Pinned,
		&note.CreatedAt,
		&note.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &note, nil
}

func (r *NoteRepository) Create(ctx context.Context, params notes.CreateParams) (*notes.Note, error) {
	row := r.queryer().QueryRow(ctx, `
INSERT INTO lead_notes (ulid, lead_ulid, author_id, body, pinned)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+noteColumns,
		params.ULID, params.LeadULID, params.AuthorID, params.Body, params.Pinned)

	note, err := scanNote(row)
	if err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	return note, nil
}

func (r *NoteRepository) GetByULID(ctx context.Context, ulid string) (*notes.Note, error) {
	row := r.queryer().QueryRow(ctx,
		`SELECT `+noteColumns+` FROM lead_notes WHERE ulid = $1`, ulid)
	note, err := scanNote(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notes.ErrNotFound
		}
		return nil, fmt.Errorf("get note: %w", err)
	}
	return note, nil
}

func (r *NoteRepository) ListByLead(ctx context.Context, leadULID string) ([]notes.Note, error) {
	rows, err := r.queryer().Query(ctx,
		`SELECT `+noteColumns+` FROM lead_notes WHERE lead_ulid = $1 ORDER BY pinned DESC, created_at DESC, ulid DESC`,
		leadULID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var items []notes.Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, *note)
	}
	return items, rows.Err()
}

func (r *NoteRepository) Update(ctx context.Context, ulid string, params notes.UpdateParams) (*notes.Note, error) {
	set := []string{"updated_at = now()"}
	args := []any{}

	if params.Body != nil {
		args = append(args, *params.Body)
		set = append(set, fmt.Sprintf("body = $%d", len(args)))
	}
	if params.Pinned != nil {
		args = append(args, *params.Pinned)
		set = append(set, fmt.Sprintf("pinned = $%d", len(args)))
	}

	args = append(args, ulid)
	query := fmt.Sprintf(`UPDATE lead_notes SET %s WHERE ulid = $%d RETURNING %s`,
		strings.Join(set, ", "), len(args), noteColumns)

	note, err := scanNote(r.queryer().QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notes.ErrNotFound
		}
		return nil, fmt.Errorf("update note: %w", err)
	}
	return note, nil
}

func (r *NoteRepository) Delete(ctx context.Context, ulid string) error {
	tag, err := r.queryer().Exec(ctx, `DELETE FROM lead_notes WHERE ulid = $1`, ulid)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notes.ErrNotFound
	}
	return nil
}
