package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/coverline/server/internal/auth"
)

var _ auth.APIKeyStore = (*APIKeyRepository)(nil)

func (r *APIKeyRepository) LookupByPrefix(ctx context.Context, prefix string) (*auth.APIKey, error) {
	row := r.queryer().QueryRow(ctx, `
SELECT id, prefix, key_hash, name, partner_source, role, rate_limit_tier, is_active, expires_at, last_used_at
  FROM api_keys
 WHERE prefix = $1
 LIMIT 1
`, prefix)

	var data struct {
		ID            string
		Prefix        string
		Hash          string
		Name          string
		PartnerSource *string
		Role          string
		RateLimitTier string
		IsActive      bool
		ExpiresAt     *time.Time
		LastUsedAt    *time.Time
	}
	if err := row.Scan(
		&data.ID,
		&data.Prefix,
		&data.Hash,
		&data.Name,
		&data.PartnerSource,
		&data.Role,
		&data.RateLimitTier,
		&data.IsActive,
		&data.ExpiresAt,
		&data.LastUsedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("lookup api key: %w", err)
	}

	return &auth.APIKey{
		ID:            data.ID,
		Prefix:        data.Prefix,
		Hash:          data.Hash,
		Name:          data.Name,
		PartnerSource: derefString(data.PartnerSource),
		Role:          data.Role,
		RateLimitTier: data.RateLimitTier,
		IsActive:      data.IsActive,
		ExpiresAt:     data.ExpiresAt,
		LastUsedAt:    data.LastUsedAt,
	}, nil
}

func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, id string) error {
	_, err := r.queryer().Exec(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

// CreateAPIKeyParams carries the fields the key-management CLI fills in.
type CreateAPIKeyParams struct {
	Prefix        string
	Hash          string
	Name          string
	PartnerSource string
	Role          string
	RateLimitTier string
	ExpiresAt     *time.Time
}

// CreateAPIKey inserts a new key record and returns its id. Used by the
// apikey CLI, not the request path.
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, params CreateAPIKeyParams) (string, error) {
	var partnerSource *string
	if params.PartnerSource != "" {
		partnerSource = &params.PartnerSource
	}

	var id string
	err := r.queryer().QueryRow(ctx, `
INSERT INTO api_keys (prefix, key_hash, name, partner_source, role, rate_limit_tier, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`,
		params.Prefix,
		params.Hash,
		params.Name,
		partnerSource,
		params.Role,
		params.RateLimitTier,
		params.ExpiresAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("api key prefix %q taken: %w", params.Prefix, err)
		}
		return "", fmt.Errorf("create api key: %w", err)
	}
	return id, nil
}

// RevokeAPIKey deactivates the key with the given prefix.
func (r *APIKeyRepository) RevokeAPIKey(ctx context.Context, prefix string) error {
	tag, err := r.queryer().Exec(ctx,
		`UPDATE api_keys SET is_active = FALSE WHERE prefix = $1`, prefix)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrInvalidAPIKey
	}
	return nil
}

// ListAPIKeys returns key metadata for the CLI (never hashes of inactive
// secrets beyond what audit needs).
type APIKeyInfo struct {
	ID            string
	Prefix        string
	Name          string
	PartnerSource string
	Role          string
	RateLimitTier string
	IsActive      bool
	ExpiresAt     *time.Time
	LastUsedAt    *time.Time
	CreatedAt     time.Time
}

func (r *APIKeyRepository) ListAPIKeys(ctx context.Context) ([]APIKeyInfo, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT id, prefix, name, partner_source, role, rate_limit_tier, is_active, expires_at, last_used_at, created_at
  FROM api_keys
 ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []APIKeyInfo
	for rows.Next() {
		var info APIKeyInfo
		var partnerSource *string
		if err := rows.Scan(
			&info.ID,
			&info.Prefix,
			&info.Name,
			&partnerSource,
			&info.Role,
			&info.RateLimitTier,
			&info.IsActive,
			&info.ExpiresAt,
			&info.LastUsedAt,
			&info.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		info.PartnerSource = derefString(partnerSource)
		keys = append(keys, info)
	}
	return keys, rows.Err()
}
