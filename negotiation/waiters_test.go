package negotiation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
)

func TestWaiters_DeliversToWaiter(t *testing.T) {
	w := NewWaiters(0, 0)
	result := make(chan Event, 1)
	go func() {
		ev, err := w.Wait(context.Background(), "n1", time.Second)
		assert.NoError(t, err)
		result <- ev
	}()

	require.Eventually(t, func() bool { return w.Pending() == 1 }, time.Second, time.Millisecond)
	assert.True(t, w.Deliver(Event{Type: EventConfirmed, NegotiationID: "n1"}))

	ev := <-result
	assert.Equal(t, EventConfirmed, ev.Type)
	assert.Zero(t, w.Pending())
}

func TestWaiters_EarlyEventIsParked(t *testing.T) {
	w := NewWaiters(0, 0)
	assert.False(t, w.Deliver(Event{Type: EventTerminated, NegotiationID: "n1", Reason: "no"}))

	ev, err := w.Wait(context.Background(), "n1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "no", ev.Reason)
	assert.Zero(t, w.parked.Len())
}

func TestWaiters_TimeoutNamesNegotiation(t *testing.T) {
	w := NewWaiters(0, 0)

	_, err := w.Wait(context.Background(), "n-42", 5*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNegotiationTimeout)
	assert.Contains(t, err.Error(), "n-42")

	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "n-42", timeout.NegotiationID)
	assert.Zero(t, w.Pending())
}

func TestWaiters_LateEventIsDropped(t *testing.T) {
	w := NewWaiters(0, 0)
	_, err := w.Wait(context.Background(), "n1", time.Millisecond)
	require.Error(t, err)

	assert.False(t, w.Deliver(Event{Type: EventConfirmed, NegotiationID: "n1"}))
	assert.Zero(t, w.parked.Len())
	assert.Zero(t, w.Pending())
}

func TestWaiters_ContextCancel(t *testing.T) {
	w := NewWaiters(0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Wait(ctx, "n1", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, w.Pending())
}

func TestWaiters_ParkedEventsExpire(t *testing.T) {
	w := NewWaiters(10, 20*time.Millisecond)
	w.Deliver(Event{Type: EventConfirmed, NegotiationID: "n1"})

	require.Eventually(t, func() bool { return w.parked.Len() == 0 }, time.Second, 5*time.Millisecond)
	_, err := w.Wait(context.Background(), "n1", 5*time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrNegotiationTimeout)
}
