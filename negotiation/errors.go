package negotiation

import (
	"fmt"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
)

// TimeoutError is returned when no outcome arrived in time.
type TimeoutError struct {
	NegotiationID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("waiting for an agreement failed for negotiation %s", e.NegotiationID)
}

// Is makes errors.Is(err, errors.ErrNegotiationTimeout) hold.
func (e *TimeoutError) Is(target error) bool {
	return target == errors.ErrNegotiationTimeout
}

// TerminatedError is returned when the provider ended the negotiation.
type TerminatedError struct {
	NegotiationID string
	Reason        string
}

func (e *TerminatedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("negotiation %s terminated", e.NegotiationID)
	}
	return fmt.Sprintf("negotiation %s terminated: %s", e.NegotiationID, e.Reason)
}

func (e *TerminatedError) Is(target error) bool {
	return target == errors.ErrNegotiationTerminated
}
