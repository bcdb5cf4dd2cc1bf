package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

type EmailConfig struct {
	SMTPServer string `json:"smtp_server"`
	SMTPPort   int    `json:"smtp_port,omitempty"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	FromAddr   string `json:"from_addr,omitempty"`
	ToAddr     string `json:"to_addr"`
}

func (c *EmailConfig) validate() error {
	if c.SMTPServer == "" || c.Username == "" || c.Password == "" || c.ToAddr == "" {
		return missing("smtp_server", "username", "password", "to_addr")
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = 587
	}
	if c.FromAddr == "" {
		c.FromAddr = c.Username
	}
	return nil
}

// Email sends an HTML message over SMTP with STARTTLS when offered.
type Email struct {
	cfg     EmailConfig
	timeout time.Duration
	now     func() time.Time
}

func newEmail(raw json.RawMessage, opts *Options) (Sink, error) {
	var cfg EmailConfig
	if err := decodeConfig("email", raw, &cfg); err != nil {
		return nil, err
	}
	return &Email{cfg: cfg, timeout: opts.Timeout, now: opts.Now}, nil
}

var emailTemplate = template.Must(template.New("email").Parse(`<html>
<body style="font-family: Arial, sans-serif;">
<div style="max-width: 600px; margin: 0 auto;">
<div style="background-color: {{.Color}}; color: white; padding: 20px; text-align: center;"><h2>{{.Title}}</h2></div>
<div style="padding: 20px; background-color: #f5f5f5;">
<p>{{.Message}}</p>
{{- if .Fields}}
<div style="margin-top: 20px; padding: 10px; background-color: #fff; border-left: 3px solid {{.Color}};">
<h3>Details</h3>
<table border="0" cellpadding="5">
{{- range .Fields}}
<tr><td><strong>{{.Name}}:</strong></td><td>{{.Value}}</td></tr>
{{- end}}
</table>
</div>
{{- end}}
</div>
<div style="padding: 10px; text-align: center; color: #666;"><p>Sent by {{.App}} on {{.Sent}}</p></div>
</div>
</body>
</html>
`))

// message renders the full RFC 5322 message.
func (e *Email) message(ev Event) ([]byte, error) {
	var body bytes.Buffer
	err := emailTemplate.Execute(&body, map[string]any{
		"Color":   template.CSS(ev.Severity.HexColor()),
		"Title":   ev.Title,
		"Message": ev.Message,
		"Fields":  fields(ev.Metadata, 0),
		"App":     AppName,
		"Sent":    e.now().Format("2006-01-02 15:04:05"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render email: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", e.cfg.FromAddr)
	fmt.Fprintf(&msg, "To: %s\r\n", e.cfg.ToAddr)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", "["+AppName+"] "+ev.Title))
	fmt.Fprintf(&msg, "Date: %s\r\n", e.now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

func (e *Email) Send(ctx context.Context, ev Event) error {
	msg, err := e.message(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	addr := net.JoinHostPort(e.cfg.SMTPServer, strconv.Itoa(e.cfg.SMTPPort))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, e.cfg.SMTPServer)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start SMTP session: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: e.cfg.SMTPServer}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	if err := c.Auth(smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.SMTPServer)); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}
	if err := c.Mail(e.cfg.FromAddr); err != nil {
		return fmt.Errorf("SMTP MAIL FROM rejected: %w", err)
	}
	if err := c.Rcpt(e.cfg.ToAddr); err != nil {
		return fmt.Errorf("SMTP RCPT TO rejected: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA rejected: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return c.Quit()
}
