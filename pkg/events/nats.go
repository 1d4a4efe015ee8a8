package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix prefixes the NATS subject of every event.
const DefaultSubjectPrefix = "discover.events"

type natsPublisher interface {
	PublishMsg(m *nats.Msg) error
	Close()
}

// NATSSink publishes each envelope on <prefix>.<type>. The idempotency key
// travels in the Nats-Msg-Id header so JetStream consumers can dedupe.
type NATSSink struct {
	conn   natsPublisher
	prefix string
}

// NewNATSSink connects to url.
func NewNATSSink(url, prefix string) (*NATSSink, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url, nats.Name("go-discover"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newNATSSink(conn, prefix), nil
}

func newNATSSink(conn natsPublisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

// Append implements EventSink.
func (s *NATSSink) Append(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	m := nats.NewMsg(s.prefix + "." + env.Type)
	m.Header.Set(nats.MsgIdHdr, env.IdempotencyKey)
	m.Data = data
	if err := s.conn.PublishMsg(m); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close closes the connection.
func (s *NATSSink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	s.conn.Close()
	return nil
}
