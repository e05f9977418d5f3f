package negotiation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/agreement"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/policy"
)

// loopback delivers published messages to local subscribers synchronously.
type loopback struct {
	mu       sync.Mutex
	handlers map[string][]msgHandler
}

type msgHandler = func(context.Context, []byte)

func (l *loopback) Publish(ctx context.Context, subject string, data []byte) error {
	l.mu.Lock()
	handlers := append([]msgHandler(nil), l.handlers[subject]...)
	l.mu.Unlock()
	for _, h := range handlers {
		h(ctx, data)
	}
	return nil
}

func (l *loopback) Subscribe(_ context.Context, subject string, h func(context.Context, []byte)) (func() error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handlers == nil {
		l.handlers = map[string][]msgHandler{}
	}
	l.handlers[subject] = append(l.handlers[subject], h)
	return func() error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.handlers, subject)
		return nil
	}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestRelay_ForwardsPublishedEvents(t *testing.T) {
	conn := &loopback{}
	target := &recorder{}

	stop, err := Relay(context.Background(), conn, "", target, nil)
	require.NoError(t, err)

	signed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &agreement.Agreement{ID: "a-1", AssetID: "asset-1", ProviderID: "p", SignedAt: signed, Policy: policy.UsePermission()}
	pub := NewNATSPublisher(conn, "")
	require.NoError(t, pub.Publish(context.Background(), Event{Type: EventConfirmed, NegotiationID: "n1", Agreement: a}))

	events := target.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "n1", events[0].NegotiationID)
	require.NotNil(t, events[0].Agreement)
	assert.Equal(t, "a-1", events[0].Agreement.ID)
	assert.True(t, signed.Equal(events[0].Agreement.SignedAt))

	require.NoError(t, stop())
	require.NoError(t, pub.Publish(context.Background(), Event{NegotiationID: "n2"}))
	assert.Len(t, target.snapshot(), 1)
}

func TestRelay_DropsGarbage(t *testing.T) {
	conn := &loopback{}
	target := &recorder{}
	_, err := Relay(context.Background(), conn, "events", target, nil)
	require.NoError(t, err)

	require.NoError(t, conn.Publish(context.Background(), "events", []byte{0xc1}))
	assert.Empty(t, target.snapshot())
}
