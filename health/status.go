package health

import (
	"regexp"
	"strings"
	"time"
)

// State is the health of one part.
type State string

// States, from best to worst.
const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

func (s State) rank() int {
	switch s {
	case StateHealthy:
		return 0
	case StateDegraded:
		return 1
	default:
		return 2
	}
}

// Status describes one part, or the roll-up of several.
type Status struct {
	Component   string    `json:"component"`
	State       State     `json:"status"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// Healthy reports whether the part is fully healthy.
func (s Status) Healthy() bool {
	return s.State == StateHealthy
}

// NewStatus builds a status stamped with the current time.
func NewStatus(component string, state State, message string) Status {
	return Status{Component: component, State: state, Message: message, Timestamp: time.Now()}
}

// FromError is healthy for a nil err and unhealthy with a sanitized
// message otherwise.
func FromError(component string, err error) Status {
	if err == nil {
		return NewStatus(component, StateHealthy, "")
	}
	return NewStatus(component, StateUnhealthy, Sanitize(err.Error()))
}

// Aggregate rolls subs up into one status carrying the worst state.
// Without parts the result is healthy.
func Aggregate(component string, subs []Status) Status {
	out := NewStatus(component, StateHealthy, "")
	out.SubStatuses = append([]Status(nil), subs...)

	var failing []string
	for _, s := range subs {
		if s.State.rank() > out.State.rank() {
			out.State = s.State
		}
		if !s.Healthy() {
			failing = append(failing, s.Component)
		}
	}
	if len(failing) > 0 {
		out.Message = string(out.State) + ": " + strings.Join(failing, ", ")
	}
	return out
}

var (
	urlPattern        = regexp.MustCompile(`(?:https?|nats|wss?|postgres(?:ql)?)://[^\s]+`)
	unixPathPattern   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipPattern         = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portPattern       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialPattern = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Sanitize removes URLs, paths, addresses, ports and credentials from msg.
func Sanitize(msg string) string {
	msg = urlPattern.ReplaceAllString(msg, "[URL]")
	msg = unixPathPattern.ReplaceAllString(msg, "[PATH]")
	msg = ipPattern.ReplaceAllString(msg, "[IP]")
	msg = portPattern.ReplaceAllString(msg, "[PORT]")
	return credentialPattern.ReplaceAllString(msg, "[REDACTED]")
}
