package email

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/coverline/server/internal/config"
	"github.com/coverline/server/internal/domain/agents"
	"github.com/coverline/server/internal/domain/leads"
)

func disabledService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(config.EmailConfig{
		Enabled:        false,
		From:           "notifications@coverline.io",
		ConsoleBaseURL: "https://app.coverline.io",
	}, zerolog.Nop())
	require.NoError(t, err)
	return svc
}

func testLead() *leads.Lead {
	return &leads.Lead{
		ULID:          "01JXEAD000000000000000000A",
		FirstName:     "Pat",
		LastName:      "Doyle",
		InsuranceType: "auto",
		Priority:      leads.PriorityHigh,
	}
}

func TestNewServiceRejectsBadSender(t *testing.T) {
	_, err := NewService(config.EmailConfig{
		Enabled: true,
		From:    "not an address",
	}, zerolog.Nop())
	require.Error(t, err)
}

func TestNewServiceDisabledSkipsSenderValidation(t *testing.T) {
	svc, err := NewService(config.EmailConfig{Enabled: false}, zerolog.Nop())
	require.NoError(t, err)
	require.Nil(t, svc.resendClient)
}

func TestDisabledSendsAreNoOps(t *testing.T) {
	svc := disabledService(t)
	agent := &agents.Agent{Name: "Dana", Email: "dana@example.com"}

	require.NoError(t, svc.SendAssignmentNotification(context.Background(), agent, testLead()))
	require.NoError(t, svc.SendAutomationEmail(context.Background(), "someone@example.com", "hello", "body", testLead()))
}

func TestRecipientValidation(t *testing.T) {
	svc := disabledService(t)
	agent := &agents.Agent{Name: "Dana", Email: "not-an-address"}

	require.Error(t, svc.SendAssignmentNotification(context.Background(), agent, testLead()))
	require.Error(t, svc.SendAutomationEmail(context.Background(), "also bad", "hi", "", testLead()))
}

func TestSubjectHeaderInjectionRejected(t *testing.T) {
	svc := disabledService(t)

	err := svc.SendAutomationEmail(context.Background(), "ok@example.com", "hi\r\nBcc: evil@example.com", "", testLead())
	require.Error(t, err)
}

func TestTemplatesRender(t *testing.T) {
	svc := disabledService(t)

	html, err := svc.renderTemplate("assignment", AssignmentData{
		AgentName:     "Dana",
		LeadName:      "Pat Doyle",
		InsuranceType: "auto",
		Priority:      "high",
		LeadLink:      "https://app.coverline.io/leads/01JXEAD000000000000000000A",
		CurrentYear:   2026,
	})
	require.NoError(t, err)
	require.Contains(t, html, "Pat Doyle")
	require.Contains(t, html, "/leads/01JXEAD000000000000000000A")

	html, err = svc.renderTemplate("automation", AutomationData{
		Subject:  "Follow up",
		Body:     `<script>alert("x")</script>`,
		LeadName: "Pat Doyle",
	})
	require.NoError(t, err)
	// html/template escapes injected markup.
	require.False(t, strings.Contains(html, "<script>"))
}
