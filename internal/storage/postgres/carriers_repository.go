package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/coverline/server/internal/carriers"
)

var _ carriers.Repository = (*CarrierRepository)(nil)

const carrierColumns = `id, ulid, name, slug, base_url, api_key, insurance_types, is_active, created_at, updated_at`

func scanCarrier(row leadScanner) (*carriers.Carrier, error) {
	var carrier carriers.Carrier
	err := row.Scan(
		&carrier.ID,
		&carrier.ULID,
		&carrier.Name,
		&carrier.Slug,
		&carrier.BaseURL,
		&carrier.APIKey,
		&carrier.InsuranceTypes,
		&carrier.IsActive,
		&carrier.CreatedAt,
		&carrier.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &carrier, nil
}

func (r *CarrierRepository) Create(ctx context.Context, params carriers.CreateParams) (*carriers.Carrier, error) {
	row := r.queryer().QueryRow(ctx, `
INSERT INTO carriers (ulid, name, slug, base_url, api_key, insurance_types)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+carrierColumns,
		params.ULID, params.Name, params.Slug, params.BaseURL, params.APIKey, params.InsuranceTypes)

	carrier, err := scanCarrier(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, carriers.ErrConflict
		}
		return nil, fmt.Errorf("create carrier: %w", err)
	}
	return carrier, nil
}

func (r *CarrierRepository) GetBySlug(ctx context.Context, slug string) (*carriers.Carrier, error) {
	row := r.queryer().QueryRow(ctx, `SELECT `+carrierColumns+` FROM carriers WHERE slug = $1`, slug)
	carrier, err := scanCarrier(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, carriers.ErrNotFound
		}
		return nil, fmt.Errorf("get carrier: %w", err)
	}
	return carrier, nil
}

func (r *CarrierRepository) List(ctx context.Context, activeOnly bool) ([]carriers.Carrier, error) {
	query := `SELECT ` + carrierColumns + ` FROM carriers ORDER BY name ASC`
	if activeOnly {
		query = `SELECT ` + carrierColumns + ` FROM carriers WHERE is_active ORDER BY name ASC`
	}

	rows, err := r.queryer().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list carriers: %w", err)
	}
	defer rows.Close()

	var items []carriers.Carrier
	for rows.Next() {
		carrier, err := scanCarrier(rows)
		if err != nil {
			return nil, fmt.Errorf("scan carrier: %w", err)
		}
		items = append(items, *carrier)
	}
	return items, rows.Err()
}

func (r *CarrierRepository) Update(ctx context.Context, slug string, params carriers.UpdateParams) (*carriers.Carrier, error) {
	set := []string{"updated_at = now()"}
	args := []any{}

	if params.Name != nil {
		args = append(args, *params.Name)
		set = append(set, fmt.Sprintf("name = $%d", len(args)))
	}
	if params.BaseURL != nil {
		args = append(args, *params.BaseURL)
		set = append(set, fmt.Sprintf("base_url = $%d", len(args)))
	}
	if params.APIKey != nil {
		args = append(args, *params.APIKey)
		set = append(set, fmt.Sprintf("api_key = $%d", len(args)))
	}
	if params.InsuranceTypes != nil {
		args = append(args, params.InsuranceTypes)
		set = append(set, fmt.Sprintf("insurance_types = $%d", len(args)))
	}
	if params.IsActive != nil {
		args = append(args, *params.IsActive)
		set = append(set, fmt.Sprintf("is_active = $%d", len(args)))
	}

	args = append(args, slug)
	query := fmt.Sprintf(`UPDATE carriers SET %s WHERE slug = $%d RETURNING %s`,
		strings.Join(set, ", "), len(args), carrierColumns)

	carrier, err := scanCarrier(r.queryer().QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, carriers.ErrNotFound
		}
		return nil, fmt.Errorf("update carrier: %w", err)
	}
	return carrier, nil
}

func (r *CarrierRepository) Delete(ctx context.Context, slug string) error {
	tag, err := r.queryer().Exec(ctx, `DELETE FROM carriers WHERE slug = $1`, slug)
	if err != nil {
		return fmt.Errorf("delete carrier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return carriers.ErrNotFound
	}
	return nil
}
