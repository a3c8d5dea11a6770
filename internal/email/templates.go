package email

// Inline HTML templates keep the binary self-contained; the agent
// console carries the styled versions of anything richer.

const assignmentTemplate = `{{define "assignment"}}<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1a1a2e; margin: 0; padding: 24px;">
  <h2 style="color: #16325c;">New lead assigned to you</h2>
  <p>Hi {{.AgentName}},</p>
  <p>You have a new <strong>{{.InsuranceType}}</strong> lead: <strong>{{.LeadName}}</strong> (priority: {{.Priority}}).</p>
  <p><a href="{{.LeadLink}}" style="background: #16325c; color: #ffffff; padding: 10px 18px; text-decoration: none; border-radius: 4px;">Open lead</a></p>
  <p style="color: #6b7280; font-size: 12px;">&copy; {{.CurrentYear}} Coverline</p>
</body>
</html>{{end}}`

const automationTemplate = `{{define "automation"}}<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1a1a2e; margin: 0; padding: 24px;">
  <h2 style="color: #16325c;">{{.Subject}}</h2>
  {{if .Body}}<p>{{.Body}}</p>{{end}}
  <p>Lead: <strong>{{.LeadName}}</strong></p>
  <p><a href="{{.LeadLink}}" style="background: #16325c; color: #ffffff; padding: 10px 18px; text-decoration: none; border-radius: 4px;">Open lead</a></p>
  <p style="color: #6b7280; font-size: 12px;">&copy; {{.CurrentYear}} Coverline</p>
</body>
</html>{{end}}`
