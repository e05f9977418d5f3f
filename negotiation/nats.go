package negotiation

import (
	"context"
	"log/slog"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
)

// DefaultSubject carries negotiation events between bridge instances.
const DefaultSubject = "aasbridge.negotiation.events"

// Conn is the subset of *natsclient.Client the bridge needs.
type Conn interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (func() error, error)
}

// NATSPublisher sends events to a NATS subject, msgpack encoded.
type NATSPublisher struct {
	conn    Conn
	subject string
}

// NewNATSPublisher publishes on subject, DefaultSubject when empty.
func NewNATSPublisher(conn Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := msgpack.Marshal(&ev)
	if err != nil {
		return errors.WrapInvalid(err, "NATSPublisher", "Publish", "encode event")
	}
	if err := p.conn.Publish(ctx, p.subject, data); err != nil {
		return errors.WrapTransient(err, "NATSPublisher", "Publish", "send event")
	}
	return nil
}

// Relay forwards events received on subject to target, typically the
// local EventBus. The returned function stops the relay.
func Relay(ctx context.Context, conn Conn, subject string, target Publisher, logger *slog.Logger) (func() error, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "negotiation-relay", "subject", subject)

	stop, err := conn.Subscribe(ctx, subject, func(msgCtx context.Context, data []byte) {
		var ev Event
		if err := msgpack.Unmarshal(data, &ev); err != nil {
			logger.Warn("Dropping undecodable event", "error", err)
			return
		}
		if err := target.Publish(msgCtx, ev); err != nil {
			logger.Warn("Relaying event failed", "negotiation_id", ev.NegotiationID, "error", err)
		}
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Relay", "Subscribe", "subscribe to "+subject)
	}
	return stop, nil
}
