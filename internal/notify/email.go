package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/hullcrest/armada/internal/domain/model"
)

// emailChannel sends plain-text mail over SMTP. use_tls selects implicit
// TLS on connect; without it STARTTLS is used when the server offers it.
type emailChannel struct {
	host     string
	port     int
	from     string
	to       []string
	username string
	password string
	useTLS   bool
	timeout  time.Duration
}

func newEmail(config map[string]any, opts Options) (*emailChannel, error) {
	host, _ := model.ConfigString(config, "smtp_host")
	port, err := model.ConfigInt(config, "smtp_port")
	if err != nil {
		return nil, err
	}
	from, _ := model.ConfigString(config, "from")
	to, err := model.ConfigStringList(config, "to")
	if err != nil {
		return nil, err
	}

	username, _ := model.ConfigString(config, "username")
	password, _ := model.ConfigString(config, "password")

	useTLS := false
	if _, ok := config["use_tls"]; ok {
		useTLS, err = model.ConfigBool(config, "use_tls")
		if err != nil {
			return nil, err
		}
	}

	return &emailChannel{
		host:     strings.TrimSpace(host),
		port:     port,
		from:     strings.TrimSpace(from),
		to:       to,
		username: strings.TrimSpace(username),
		password: password,
		useTLS:   useTLS,
		timeout:  opts.timeout(),
	}, nil
}

func (e *emailChannel) Send(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(e.host, strconv.Itoa(e.port))

	dialer := net.Dialer{Timeout: e.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	// net/smtp has no context support, so the whole exchange runs under
	// one connection deadline.
	deadline := time.Now().Add(e.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return fmt.Errorf("set smtp deadline: %w", err)
	}

	if e.useTLS {
		conn = tls.Client(conn, &tls.Config{ServerName: e.host, MinVersion: tls.VersionTLS12})
	}

	client, err := smtp.NewClient(conn, e.host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = client.Close() }()

	if !e.useTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			cfg := &tls.Config{ServerName: e.host, MinVersion: tls.VersionTLS12}
			if err := client.StartTLS(cfg); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}

	if e.username != "" {
		auth := smtp.PlainAuth("", e.username, e.password, e.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(e.from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range e.to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := wc.Write(e.buildMessage(msg, time.Now())); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write smtp body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("finish smtp body: %w", err)
	}

	return client.Quit()
}

// buildMessage assembles a minimal RFC 5322 plain-text message.
func (e *emailChannel) buildMessage(msg Message, now time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + e.from + "\r\n")
	b.WriteString("To: " + strings.Join(e.to, ", ") + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", singleLine(msg.Title)) + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")

	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
