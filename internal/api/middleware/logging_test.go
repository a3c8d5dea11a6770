package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func captureRequestLog(t *testing.T, target string, status int, decorate func(*http.Request)) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)

	handler := RequestLogging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	req := httptest.NewRequest(http.MethodGet, target, nil)
	if decorate != nil {
		decorate(req)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if buf.Len() == 0 {
		return nil
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	return line
}

func TestRequestLoggingIncludesClientFields(t *testing.T) {
	line := captureRequestLog(t, "/api/v1/leads", http.StatusOK, func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		r.Header.Set("User-Agent", "coverline-console/2.1")
	})

	if line["ip"] != "203.0.113.9" {
		t.Errorf("ip = %v, want forwarded client address", line["ip"])
	}
	if line["user_agent"] != "coverline-console/2.1" {
		t.Errorf("user_agent = %v, want console UA", line["user_agent"])
	}
	if line["level"] != "info" {
		t.Errorf("level = %v, want info", line["level"])
	}
}

func TestRequestLoggingFallsBackToPeerAddress(t *testing.T) {
	line := captureRequestLog(t, "/api/v1/leads", http.StatusOK, nil)

	// httptest sets RemoteAddr to 192.0.2.1:1234.
	if line["ip"] != "192.0.2.1" {
		t.Errorf("ip = %v, want socket peer host", line["ip"])
	}
}

func TestRequestLoggingDemotesHealthProbes(t *testing.T) {
	line := captureRequestLog(t, "/healthz", http.StatusOK, nil)
	if line != nil {
		t.Errorf("health probe logged at info: %v", line)
	}
}

func TestRequestLoggingElevatesServerErrors(t *testing.T) {
	line := captureRequestLog(t, "/api/v1/leads", http.StatusBadGateway, nil)
	if line["level"] != "error" {
		t.Errorf("level = %v, want error for 5xx", line["level"])
	}
}
