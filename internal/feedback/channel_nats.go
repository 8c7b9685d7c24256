package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/Notoriousjayy/CIFlowDocs/internal/logfields"
)

// NATSChannel publishes notifications as JSON onto a NATS subject so other
// systems (deploy tooling, dashboards) can react to build outcomes.
type NATSChannel struct {
	name    string
	conn    *nats.Conn
	subject string
}

// NewNATSChannel connects to the NATS server and binds the channel to a
// subject. Events are published under subject.<kind>.
func NewNATSChannel(name, url, subject string) (*NATSChannel, error) {
	conn, err := nats.Connect(url,
		nats.Name("ciflow-feedback"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	slog.Info("NATS feedback channel connected",
		logfields.Channel(name), slog.String("url", url), slog.String("subject", subject))
	return &NATSChannel{name: name, conn: conn, subject: subject}, nil
}

func (c *NATSChannel) Name() string { return c.name }

func (c *NATSChannel) Send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := c.subject + "." + string(ev.Kind)
	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return c.conn.FlushWithContext(ctx)
}

// Close drains the connection.
func (c *NATSChannel) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
