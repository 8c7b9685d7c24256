package feedback

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"

	"github.com/Notoriousjayy/CIFlowDocs/internal/config"
)

// MailChannel delivers notifications over SMTP as multipart/alternative
// messages: the Markdown body rendered to HTML plus a plain-text part
// extracted from that HTML.
type MailChannel struct {
	name string
	cfg  config.SMTPConfig
	md   goldmark.Markdown

	// send is swappable for tests; defaults to smtp.SendMail.
	send func(addr string, from string, to []string, msg []byte) error
}

// NewMailChannel creates a mail channel from SMTP configuration.
func NewMailChannel(name string, cfg config.SMTPConfig) *MailChannel {
	port := cfg.Port
	if port == 0 {
		port = 25
	}
	cfg.Port = port
	return &MailChannel{
		name: name,
		cfg:  cfg,
		md:   goldmark.New(),
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

func (c *MailChannel) Name() string { return c.name }

func (c *MailChannel) Send(ctx context.Context, ev Event) error {
	to := c.recipients(ev)
	if len(to) == 0 {
		return nil // nobody to notify is not a failure
	}

	msg, err := c.compose(ev, to)
	if err != nil {
		return fmt.Errorf("compose mail: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	if err := c.send(addr, c.cfg.From, to, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// recipients merges configured recipients with any audience entries that are
// mail addresses (committer identities resolved from the changeset).
func (c *MailChannel) recipients(ev Event) []string {
	seen := map[string]bool{}
	var to []string
	for _, addr := range c.cfg.To {
		if !seen[addr] {
			seen[addr] = true
			to = append(to, addr)
		}
	}
	for _, aud := range ev.Audience {
		if strings.Contains(aud, "@") && !seen[aud] {
			seen[aud] = true
			to = append(to, aud)
		}
	}
	return to
}

func (c *MailChannel) compose(ev Event, to []string) ([]byte, error) {
	source := ev.Body
	if source == "" {
		source = ev.Summary
	}

	var htmlBody bytes.Buffer
	if err := c.md.Convert([]byte(source), &htmlBody); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	textBody, err := htmlToText(htmlBody.Bytes())
	if err != nil {
		textBody = source // fall back to raw Markdown
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", c.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "Subject: [%s] %s\r\n", ev.Pipeline, ev.Summary)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", w.Boundary())

	part, err := w.CreatePart(map[string][]string{"Content-Type": {"text/plain; charset=utf-8"}})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(part, "%s\r\n", textBody)

	part, err = w.CreatePart(map[string][]string{"Content-Type": {"text/html; charset=utf-8"}})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(part, "%s\r\n", htmlBody.String())

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// htmlToText extracts the text content of an HTML fragment for the
// plain-text alternative part.
func htmlToText(src []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(src))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "br", "li", "h1", "h2", "h3", "h4":
				sb.WriteString("\n")
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return strings.TrimSpace(sb.String()), nil
}
