package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coverline/server/internal/auth"
)

func testJWTManager() *auth.JWTManager {
	return auth.NewJWTManager("test-secret-at-least-32-characters!!", time.Hour, "coverline-test")
}

func TestJWTAuth_ValidToken(t *testing.T) {
	manager := testJWTManager()
	token, err := manager.Generate("user-1", "admin")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	var captured *auth.Claims
	handler := JWTAuth(manager, "test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = Claims(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if captured == nil || captured.Subject != "user-1" || captured.Role != "admin" {
		t.Errorf("unexpected claims in context: %+v", captured)
	}
}

func TestJWTAuth_MissingHeader(t *testing.T) {
	handler := JWTAuth(testJWTManager(), "test")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestJWTAuth_InvalidToken(t *testing.T) {
	handler := JWTAuth(testJWTManager(), "test")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestJWTAuth_WrongSigningKey(t *testing.T) {
	other := auth.NewJWTManager("a-different-secret-32-characters!!!!", time.Hour, "coverline-test")
	token, err := other.Generate("user-1", "admin")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	handler := JWTAuth(testJWTManager(), "test")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestRequireRole_Allows(t *testing.T) {
	manager := testJWTManager()
	token, err := manager.Generate("user-2", "manager")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	handler := JWTAuth(manager, "test")(RequireRole("test", auth.RoleAdmin, auth.RoleManager)(okHandler()))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/segments", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestRequireRole_Forbids(t *testing.T) {
	manager := testJWTManager()
	token, err := manager.Generate("user-3", "viewer")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	handler := JWTAuth(manager, "test")(RequireRole("test", auth.RoleAdmin)(okHandler()))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/leads/01JXEAD000000000000000000A", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}
}

func TestRequireRole_WithoutClaims(t *testing.T) {
	handler := RequireRole("test", auth.RoleAdmin)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

type stubAPIKeyStore struct {
	key *auth.APIKey
}

func (s *stubAPIKeyStore) LookupByPrefix(ctx context.Context, prefix string) (*auth.APIKey, error) {
	if s.key == nil || s.key.Prefix != prefix {
		return nil, auth.ErrInvalidAPIKey
	}
	return s.key, nil
}

func (s *stubAPIKeyStore) UpdateLastUsed(ctx context.Context, id string) error {
	return nil
}

func TestAPIKeyAuth_ValidKey(t *testing.T) {
	raw, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hash, err := auth.HashAPIKey(raw)
	if err != nil {
		t.Fatalf("hash key: %v", err)
	}

	store := &stubAPIKeyStore{key: &auth.APIKey{
		ID:       "key-1",
		Prefix:   raw[:8],
		Hash:     hash,
		Name:     "partner-one",
		IsActive: true,
	}}

	var captured *auth.APIKey
	handler := APIKeyAuth(store, "test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = PartnerKey(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/leads/ingest", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if captured == nil || captured.Name != "partner-one" {
		t.Errorf("unexpected key in context: %+v", captured)
	}
}

func TestAPIKeyAuth_UnknownKey(t *testing.T) {
	handler := APIKeyAuth(&stubAPIKeyStore{}, "test")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/leads/ingest", nil)
	req.Header.Set("Authorization", "Bearer cl_00000000deadbeef")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestAPIKeyAuth_MissingHeader(t *testing.T) {
	handler := APIKeyAuth(&stubAPIKeyStore{}, "test")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/leads/ingest", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}
