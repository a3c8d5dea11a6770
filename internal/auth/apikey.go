package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for bcrypt hashing of partner API keys.
const BcryptCost = 12

// APIKey identifies an ingestion partner (web-form vendor, aggregator, or
// internal service) that may submit leads.
type APIKey struct {
	ID            string
	Prefix        string
	Hash          string
	Name          string
	PartnerSource string
	Role          string
	RateLimitTier string
	IsActive      bool
	ExpiresAt     *time.Time
	LastUsedAt    *time.Time
}

type APIKeyStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*APIKey, error)
	UpdateLastUsed(ctx context.Context, id string) error
}

var (
	ErrMissingAPIKey = errors.New("missing api key")
	ErrInvalidAPIKey = errors.New("invalid api key")
)

func APIKeyFromRequest(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingAPIKey
	}
	return APIKeyFromHeader(r.Header.Get("Authorization"))
}

func APIKeyFromHeader(authHeader string) (string, error) {
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMissingAPIKey
	}
	key := strings.TrimSpace(parts[1])
	if key == "" || !utf8.ValidString(key) {
		return "", ErrInvalidAPIKey
	}
	return key, nil
}

// ValidateAPIKey resolves the stored key by its 8-character prefix and
// verifies the full key against the bcrypt hash.
func ValidateAPIKey(ctx context.Context, store APIKeyStore, authHeader string) (*APIKey, error) {
	if store == nil {
		return nil, ErrInvalidAPIKey
	}

	key, err := APIKeyFromHeader(authHeader)
	if err != nil {
		return nil, err
	}
	if len(key) < 8 {
		return nil, ErrInvalidAPIKey
	}

	prefix := key[:8]
	stored, err := store.LookupByPrefix(ctx, prefix)
	if err != nil || stored == nil {
		return nil, ErrInvalidAPIKey
	}
	if !stored.IsActive {
		return nil, ErrInvalidAPIKey
	}
	if stored.ExpiresAt != nil && stored.ExpiresAt.Before(time.Now()) {
		return nil, ErrInvalidAPIKey
	}

	if err := bcrypt.CompareHashAndPassword([]byte(stored.Hash), []byte(key)); err != nil {
		return nil, ErrInvalidAPIKey
	}

	_ = store.UpdateLastUsed(ctx, stored.ID)
	return stored, nil
}

// GenerateAPIKey mints a new key of the form cl_<hex>. The first 8
// characters serve as the lookup prefix.
func GenerateAPIKey() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "cl_" + hex.EncodeToString(raw), nil
}

// HashAPIKey generates a bcrypt hash for a new API key.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
