package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"
)

const offerSubject = "Your Offer Letter – Review & Sign"

var offerBody = template.Must(template.New("offer").Parse(`<div style="font-family:Arial,Helvetica,sans-serif;line-height:1.6;color:#222;">
  <p>Dear {{.CandidateName}},</p>
  <p>
    We are pleased to share your offer letter from <strong>{{.CompanyName}}</strong>.
    Please review and sign it via the secure link below:
  </p>
  <p style="margin:20px 0;">
    <a href="{{.Link}}"
       style="background:#0b5fff;color:#fff;text-decoration:none;padding:10px 16px;border-radius:6px;display:inline-block;">
       Review &amp; Sign Offer
    </a>
  </p>
  {{with .Expires}}<p><strong>Link expires:</strong> {{.}}</p>{{end}}
  <p>If you did not expect this email, you can safely ignore it.</p>
  <p>Regards,<br/>{{.FromName}}</p>
</div>
`))

// SMTPConfig configures SMTPNotifier. Port 465 uses implicit TLS, any other port STARTTLS.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromName    string
	FromEmail   string
	DialTimeout time.Duration // <= 0 means 10s
}

// SMTPNotifier sends HTML offer emails over authenticated SMTP.
type SMTPNotifier struct {
	cfg SMTPConfig
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.FromEmail == "" {
		cfg.FromEmail = cfg.Username
	}
	return &SMTPNotifier{cfg: cfg}
}

// Ready fails when credentials or the sender address are missing.
func (s *SMTPNotifier) Ready() error {
	if s.cfg.Host == "" || s.cfg.Username == "" || s.cfg.Password == "" {
		return errors.New("smtp credentials not configured")
	}
	if s.cfg.FromEmail == "" {
		return errors.New("smtp sender not configured")
	}
	return nil
}

// SendOffer renders the offer email and delivers it.
func (s *SMTPNotifier) SendOffer(ctx context.Context, n OfferNotice) error {
	if err := s.Ready(); err != nil {
		return err
	}
	to, err := mail.ParseAddress(n.To)
	if err != nil {
		return fmt.Errorf("recipient: %w", err)
	}
	msg, err := s.buildMessage(to.Address, n)
	if err != nil {
		return err
	}
	return s.deliver(ctx, to.Address, msg)
}

func (s *SMTPNotifier) buildMessage(to string, n OfferNotice) ([]byte, error) {
	company := n.CompanyName
	if company == "" {
		company = "Your Company"
	}
	var expires string
	if n.ExpireAt != nil && !n.ExpireAt.IsZero() {
		expires = n.ExpireAt.Format("02 Jan 2006")
	}
	var body bytes.Buffer
	err := offerBody.Execute(&body, map[string]any{
		"CandidateName": n.CandidateName,
		"CompanyName":   company,
		"Link":          template.URL(n.Link),
		"Expires":       expires,
		"FromName":      s.cfg.FromName,
	})
	if err != nil {
		return nil, fmt.Errorf("render email: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	from := mail.Address{Name: s.cfg.FromName, Address: s.cfg.FromEmail}
	fmt.Fprintf(&buf, "From: %s\r\n", from.String())
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", offerSubject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())

	parts := []struct{ ctype, content string }{
		{"text/plain; charset=utf-8", "Please view this email in HTML.\r\n"},
		{"text/html; charset=utf-8", body.String()},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.ctype}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *SMTPNotifier) deliver(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	tlsCfg := &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}
	nd := &net.Dialer{Timeout: s.cfg.DialTimeout}

	var (
		conn net.Conn
		err  error
	)
	if s.cfg.Port == 465 {
		conn, err = (&tls.Dialer{NetDialer: nd, Config: tlsCfg}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = nd.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = c.Close() }()

	if s.cfg.Port != 465 {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return errors.New("smtp server does not support STARTTLS")
		}
		if err := c.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := c.Mail(s.cfg.FromEmail); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	return c.Quit()
}
