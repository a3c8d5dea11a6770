package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/coverline/server/internal/auth"
)

func TestTokenCommandMintsValidJWT(t *testing.T) {
	secret := "test-secret-key-that-is-long-enough!"
	t.Setenv("JWT_SECRET", secret)
	t.Setenv("JWT_ISSUER", "coverline-test")

	tokenRole = "admin"
	defer func() { tokenRole = "viewer" }()

	root := newRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"token", "alice", "--role", "admin"})

	if err := root.Execute(); err != nil {
		t.Fatalf("token command failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Subject: alice") {
		t.Errorf("expected subject in output, got:\n%s", output)
	}
	if !strings.Contains(output, "Role:    admin") {
		t.Errorf("expected role in output, got:\n%s", output)
	}

	// The signed token is the only line with two dots.
	var token string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.Count(line, ".") == 2 && !strings.Contains(line, " ") {
			token = line
			break
		}
	}
	if token == "" {
		t.Fatalf("no JWT found in output:\n%s", output)
	}

	manager := auth.NewJWTManager(secret, time.Hour, "coverline-test")
	claims, err := manager.Validate(token)
	if err != nil {
		t.Fatalf("minted token did not validate: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("subject = %q, want alice", claims.Subject)
	}
	if claims.Role != "admin" {
		t.Errorf("role = %q, want admin", claims.Role)
	}
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	root := newRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"token", "bob"})

	if err := root.Execute(); err == nil {
		t.Error("expected error when JWT_SECRET is unset")
	}
}

func TestTokenCommandNormalizesUnknownRole(t *testing.T) {
	t.Setenv("JWT_SECRET", "another-test-secret-that-is-long-enough")

	root := newRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"token", "carol", "--role", "superuser"})

	if err := root.Execute(); err != nil {
		t.Fatalf("token command failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Role:    viewer") {
		t.Errorf("unknown role should normalize to viewer, got:\n%s", buf.String())
	}
}
