// Package lifecycle holds the pure decision logic for ticket status
// transitions. It performs no I/O: callers load the ticket, ask for a
// decision, and apply the transition through the version-conditioned store.
package lifecycle

import (
	"fmt"
	"time"

	"example.com/ticketing/internal/models"
)

// Verdict classifies the outcome of a requested transition.
type Verdict int

const (
	// Allow means the transition is legal and should be applied.
	Allow Verdict = iota
	// Reject means the transition violates the lifecycle rules. The reason
	// is a business failure, not a technical one, and must not be retried.
	Reject
	// AlreadyDone means the ticket is already in the target state, which is
	// the expected shape of a duplicate event delivery.
	AlreadyDone
)

// Decision is the result of evaluating a transition request.
type Decision struct {
	Verdict Verdict
	Reason  string
	// ForceRelease is set on a TTL rejection: the caller must follow up with
	// a Release so a late payment never leaves the ticket stuck in reserved.
	ForceRelease bool
}

// Machine evaluates transitions against a fixed reservation TTL.
type Machine struct {
	ttl time.Duration
}

// DefaultTTL is the reservation window during which a payment approval is
// still honored.
const DefaultTTL = 5 * time.Minute

// NewMachine creates a machine with the given TTL. A non-positive TTL falls
// back to DefaultTTL.
func NewMachine(ttl time.Duration) *Machine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Machine{ttl: ttl}
}

// TTL returns the configured reservation window.
func (m *Machine) TTL() time.Duration {
	return m.ttl
}

// WithinTTL reports whether a payment received at paidAt still falls inside
// the reservation window. The interval is closed: a payment at exactly
// reservedAt+TTL is accepted.
func (m *Machine) WithinTTL(reservedAt, paidAt time.Time) bool {
	return !paidAt.After(reservedAt.Add(m.ttl))
}

// DecideMarkPaid evaluates a payment approval against the ticket state.
// A reserved ticket with no ReservedAt is a defect and treated as expired,
// failing toward release rather than toward payment.
func (m *Machine) DecideMarkPaid(t *models.Ticket, approvedAt time.Time) Decision {
	if t.Status == models.TicketPaid {
		return Decision{Verdict: AlreadyDone}
	}
	if t.Status != models.TicketReserved {
		return Decision{Verdict: Reject, Reason: fmt.Sprintf("invalid ticket status: %s", t.Status)}
	}
	if t.ReservedAt == nil || !m.WithinTTL(*t.ReservedAt, approvedAt) {
		return Decision{Verdict: Reject, Reason: "TTL exceeded", ForceRelease: true}
	}
	return Decision{Verdict: Allow}
}

// DecideRelease evaluates a release request. Release is legal from any state
// except released itself, where it is a duplicate.
func (m *Machine) DecideRelease(t *models.Ticket) Decision {
	if t.Status == models.TicketReleased {
		return Decision{Verdict: AlreadyDone}
	}
	return Decision{Verdict: Allow}
}

// DecideReserve evaluates a reservation request. Available and released
// tickets are reservable; a reserved ticket holding the same order is a
// duplicate delivery of the reservation event.
func (m *Machine) DecideReserve(t *models.Ticket, orderID string) Decision {
	switch t.Status {
	case models.TicketAvailable, models.TicketReleased:
		return Decision{Verdict: Allow}
	case models.TicketReserved:
		if t.OrderID != nil && *t.OrderID == orderID {
			return Decision{Verdict: AlreadyDone}
		}
		return Decision{Verdict: Reject, Reason: "ticket already reserved"}
	}
	return Decision{Verdict: Reject, Reason: fmt.Sprintf("invalid ticket status: %s", t.Status)}
}
