package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// headerEvent carries the S3 event name next to the payload on brokers
// that support message headers.
const headerEvent = "Omnistore-Event"

// NATSBackend publishes events to a subject, optionally suffixed with the
// bucket so subscribers can filter with "<subject>.<bucket>".
type NATSBackend struct {
	conn      *nats.Conn
	subject   string
	perBucket bool
}

func NewNATSBackend(url, subject string, perBucket bool) (*NATSBackend, error) {
	conn, err := nats.Connect(url,
		nats.Name("omnistore-notify"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return &NATSBackend{conn: conn, subject: subject, perBucket: perBucket}, nil
}

func (n *NATSBackend) Name() string {
	return "nats:" + n.subject
}

// Publish hands the message to the connection's outgoing buffer; the flush
// waits for the server to acknowledge it or ctx to end.
func (n *NATSBackend) Publish(ctx context.Context, payload []byte) error {
	msg := natsMessage(n.subject, n.perBucket, payload)
	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", msg.Subject, err)
	}
	return n.conn.FlushWithContext(ctx)
}

func natsMessage(subject string, perBucket bool, payload []byte) *nats.Msg {
	event, bucket := peek(payload)
	if perBucket && bucket != "" {
		subject += "." + subjectToken(bucket)
	}
	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set(headerEvent, event)
	return msg
}

// subjectToken maps characters NATS reserves in subjects to '_'.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

func (n *NATSBackend) Close() error {
	return n.conn.Drain()
}
