package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Publisher is the subset of *nats.Conn used by NATSSender.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Connect dials NATS with reconnects enabled and connection events logged.
func Connect(url string, logger zerolog.Logger) (*nats.Conn, error) {
	lg := logger.With().Str("component", "nats").Logger()
	nc, err := nats.Connect(url,
		nats.Name("slotbook"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				lg.Warn().Err(err).Msg("disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			lg.Info().Str("url", c.ConnectedUrl()).Msg("reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// message is the wire format published for each notification.
type message struct {
	MessageID string         `json:"message_id"`
	Recipient string         `json:"recipient"`
	Template  string         `json:"template"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NATSSender publishes notifications to "<prefix>.<template>". Delivery to
// the end user is done by whatever consumes the subject.
type NATSSender struct {
	pub    Publisher
	prefix string
	now    func() time.Time
}

// NewNATSSender returns a sender publishing through pub.
func NewNATSSender(pub Publisher, prefix string) *NATSSender {
	return &NATSSender{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "."),
		now:    time.Now,
	}
}

// Subject returns the subject a template is published to.
func (s *NATSSender) Subject(template string) string {
	if s.prefix == "" {
		return template
	}
	return s.prefix + "." + template
}

// Notify implements Sender.
func (s *NATSSender) Notify(ctx context.Context, n Notification) error {
	if n.Recipient == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(message{
		MessageID: uuid.NewString(),
		Recipient: n.Recipient,
		Template:  n.Template,
		Data:      n.Data,
		Timestamp: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := s.pub.Publish(s.Subject(n.Template), data); err != nil {
		return fmt.Errorf("publish %s: %w", n.Template, err)
	}
	return nil
}
