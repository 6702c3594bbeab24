package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// EmailConfig holds SMTP configuration. Delivery is disabled when Host or
// From are empty.
type EmailConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Email sends notification emails over SMTP.
type Email struct {
	config EmailConfig
	server string
	auth   smtp.Auth
}

// NewEmail creates an SMTP email sender.
func NewEmail(config EmailConfig) *Email {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Email{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email delivery is configured.
func (e *Email) IsConfigured() bool {
	return e.config.Host != "" && e.config.Port != "" && e.config.From != ""
}

// SendHTMLEmail sends a multipart email with an HTML body.
func (e *Email) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !e.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := e.config.From
	if e.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", e.config.FromName, e.config.From)
	}

	boundary := "boundary-attest"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(e.server, e.auth, e.config.From, to, msg.Bytes())
}

// ReacknowledgmentData fills the re-acknowledgment notice template.
type ReacknowledgmentData struct {
	AppName       string
	UserName      string
	DocumentTitle string
	ChangeSummary string
}

// SendReacknowledgmentEmail notifies a member that a document they accepted
// has changed and must be acknowledged again.
func (e *Email) SendReacknowledgmentEmail(to, userName, documentTitle, changeSummary string) error {
	data := ReacknowledgmentData{
		AppName:       "Attest",
		UserName:      userName,
		DocumentTitle: documentTitle,
		ChangeSummary: changeSummary,
	}

	subject := fmt.Sprintf("Action required: %q has changed", documentTitle)
	html, err := renderTemplate(reacknowledgmentEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render reacknowledgment template: %w", err)
	}

	return e.SendHTMLEmail([]string{to}, subject, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reacknowledgmentEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.AppName}}: document changed</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .summary { background: #f4f6f8; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Hi {{.UserName}},</h2>

    <p>A document you previously acknowledged has been updated and needs your acknowledgment again:</p>

    <p><strong>{{.DocumentTitle}}</strong></p>

    <div class="summary">{{.ChangeSummary}}</div>

    <p>Please review the new version and acknowledge it.</p>

    <div class="footer">
        <p>You are receiving this because your organization requires acknowledgment of this document.</p>
    </div>
</body>
</html>`
