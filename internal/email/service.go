// Package email delivers transactional mail. With Enabled=false every
// send is logged and dropped, which is the default outside production.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"

	"github.com/coverline/server/internal/config"
	"github.com/coverline/server/internal/domain/agents"
	"github.com/coverline/server/internal/domain/leads"
)

// Service handles email sending through the Resend API.
type Service struct {
	config       config.EmailConfig
	templates    *template.Template
	resendClient *resend.Client
	logger       zerolog.Logger
}

// AssignmentData renders the new-assignment notification.
type AssignmentData struct {
	AgentName     string
	LeadName      string
	InsuranceType string
	Priority      string
	LeadLink      string
	CurrentYear   int
}

// AutomationData renders automation-triggered emails.
type AutomationData struct {
	Subject     string
	Body        string
	LeadName    string
	LeadLink    string
	CurrentYear int
}

func NewService(cfg config.EmailConfig, logger zerolog.Logger) (*Service, error) {
	if cfg.Enabled {
		if err := validateEmailAddress(cfg.From); err != nil {
			return nil, fmt.Errorf("invalid sender email in config: %w", err)
		}
	}

	templates, err := template.New("email").Parse(assignmentTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}
	if _, err := templates.Parse(automationTemplate); err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}

	svc := &Service{
		config:    cfg,
		templates: templates,
		logger:    logger.With().Str("component", "email").Logger(),
	}
	if cfg.Enabled {
		svc.resendClient = resend.NewClient(cfg.ResendAPIKey)
	}
	return svc, nil
}

// SendAssignmentNotification tells an agent they just received a lead.
func (s *Service) SendAssignmentNotification(ctx context.Context, agent *agents.Agent, lead *leads.Lead) error {
	if err := validateEmailAddress(agent.Email); err != nil {
		return fmt.Errorf("invalid recipient email: %w", err)
	}

	if !s.config.Enabled {
		s.logger.Info().
			Str("to", agent.Email).
			Str("lead_ulid", lead.ULID).
			Msg("email service disabled, skipping assignment notification")
		return nil
	}

	data := AssignmentData{
		AgentName:     agent.Name,
		LeadName:      lead.FullName(),
		InsuranceType: lead.InsuranceType,
		Priority:      string(lead.Priority),
		LeadLink:      s.config.ConsoleBaseURL + "/leads/" + lead.ULID,
		CurrentYear:   time.Now().Year(),
	}
	htmlBody, err := s.renderTemplate("assignment", data)
	if err != nil {
		return fmt.Errorf("failed to render assignment template: %w", err)
	}

	subject := fmt.Sprintf("New lead assigned: %s (%s)", lead.FullName(), lead.InsuranceType)
	if err := s.sendViaResend(ctx, "assignment", agent.Email, subject, htmlBody); err != nil {
		return fmt.Errorf("failed to send assignment notification: %w", err)
	}

	s.logger.Info().
		Str("to", agent.Email).
		Str("lead_ulid", lead.ULID).
		Msg("assignment notification sent")
	return nil
}

// SendAutomationEmail satisfies the automation engine's Mailer.
func (s *Service) SendAutomationEmail(ctx context.Context, to, subject, body string, lead *leads.Lead) error {
	if err := validateEmailAddress(to); err != nil {
		return fmt.Errorf("invalid recipient email: %w", err)
	}
	if strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("invalid subject: contains newline characters")
	}

	if !s.config.Enabled {
		s.logger.Info().
			Str("to", to).
			Str("subject", subject).
			Str("lead_ulid", lead.ULID).
			Msg("email service disabled, skipping automation email")
		return nil
	}

	data := AutomationData{
		Subject:     subject,
		Body:        body,
		LeadName:    lead.FullName(),
		LeadLink:    s.config.ConsoleBaseURL + "/leads/" + lead.ULID,
		CurrentYear: time.Now().Year(),
	}
	htmlBody, err := s.renderTemplate("automation", data)
	if err != nil {
		return fmt.Errorf("failed to render automation template: %w", err)
	}

	if err := s.sendViaResend(ctx, "automation", to, subject, htmlBody); err != nil {
		return fmt.Errorf("failed to send automation email: %w", err)
	}

	s.logger.Info().
		Str("to", to).
		Str("lead_ulid", lead.ULID).
		Msg("automation email sent")
	return nil
}

// validateEmailAddress validates an email address for format and header
// injection attempts.
func validateEmailAddress(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}

	if strings.ContainsAny(addr.Address, "\r\n") {
		return fmt.Errorf("invalid email address: contains newline characters")
	}

	return nil
}

// renderTemplate renders an email template with the given data.
func (s *Service) renderTemplate(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}
