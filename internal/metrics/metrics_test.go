package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/coverline/server/internal/breaker"
)

func TestInit(t *testing.T) {
	// Test that Init doesn't panic
	Init("v1.0.0", "abc123", "2026-08-30")

	// Verify app_info metric exists
	if testutil.CollectAndCount(AppInfo) == 0 {
		t.Error("AppInfo metric should be registered")
	}
}

func TestHTTPMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wrapped := HTTPMiddleware(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	if testutil.CollectAndCount(HTTPRequestsTotal) == 0 {
		t.Error("HTTPRequestsTotal should have recorded at least one request")
	}

	if testutil.CollectAndCount(HTTPRequestDuration) == 0 {
		t.Error("HTTPRequestDuration should have recorded at least one request")
	}
}

func TestHTTPMiddlewareStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"OK", http.StatusOK},
		{"Not Found", http.StatusNotFound},
		{"Internal Server Error", http.StatusInternalServerError},
		{"Unauthorized", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			})

			wrapped := HTTPMiddleware(handler)
			req := httptest.NewRequest("GET", "/test", nil)
			rec := httptest.NewRecorder()

			wrapped.ServeHTTP(rec, req)

			if rec.Code != tt.statusCode {
				t.Errorf("Expected status %d, got %d", tt.statusCode, rec.Code)
			}
		})
	}
}

func TestDBCollector(t *testing.T) {
	// Create collector with nil pool (should not panic)
	collector := NewDBCollector(nil)

	// Collect should not panic with nil pool
	collector.collect()

	// Stop should not panic
	collector.Stop()
}

func TestRecordQuery(t *testing.T) {
	start := time.Now()
	RecordQuery("test_select", start, nil)

	if testutil.CollectAndCount(DBQueryDuration) == 0 {
		t.Error("DBQueryDuration should have recorded at least one query")
	}

	start = time.Now()
	RecordQuery("test_failed", start, context.Canceled)

	if testutil.CollectAndCount(DBErrors) == 0 {
		t.Error("DBErrors should have recorded at least one error")
	}
}

func TestBreakerStateHook(t *testing.T) {
	BreakerStateHook("acme", breaker.StateClosed, breaker.StateOpen)
	if got := testutil.ToFloat64(BreakerState.WithLabelValues("acme")); got != 2 {
		t.Errorf("Expected breaker state 2 (open), got %f", got)
	}

	BreakerStateHook("acme", breaker.StateOpen, breaker.StateHalfOpen)
	if got := testutil.ToFloat64(BreakerState.WithLabelValues("acme")); got != 1 {
		t.Errorf("Expected breaker state 1 (half_open), got %f", got)
	}

	BreakerStateHook("acme", breaker.StateHalfOpen, breaker.StateClosed)
	if got := testutil.ToFloat64(BreakerState.WithLabelValues("acme")); got != 0 {
		t.Errorf("Expected breaker state 0 (closed), got %f", got)
	}
}

func TestResponseWriterStatusCode(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{
		ResponseWriter: rec,
		statusCode:     0,
		bytesWritten:   0,
	}

	_, _ = rw.Write([]byte("test"))

	if rw.statusCode != http.StatusOK {
		t.Errorf("Expected status code 200, got %d", rw.statusCode)
	}
}

func TestResponseWriterBytesWritten(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{
		ResponseWriter: rec,
		statusCode:     0,
		bytesWritten:   0,
	}

	content := []byte("Hello, World!")
	_, _ = rw.Write(content)

	if rw.bytesWritten != len(content) {
		t.Errorf("Expected %d bytes written, got %d", len(content), rw.bytesWritten)
	}
}
