// Package events defines the message contracts exchanged over the broker.
// Field names follow the wire format the peer services serialize.
package events

import "time"

// Routing keys on the tickets topic exchange. Queue names are derived from
// these with an optional environment prefix; handlers match by suffix.
const (
	RoutingKeyTicketReserved   = "ticket.reserved"
	RoutingKeyPaymentRequested = "ticket.payments.requested"
	RoutingKeyPaymentApproved  = "ticket.payments.approved"
	RoutingKeyPaymentRejected  = "ticket.payments.rejected"
	RoutingKeyStatusChanged    = "ticket.status.changed"
)

// DefaultReservationSeconds is the hold duration applied when a reservation
// request does not carry one.
const DefaultReservationSeconds = 300

// TicketReserved is published when a reservation is accepted. The owning
// service consumes it and starts the TTL clock.
type TicketReserved struct {
	TicketID                   int64     `json:"ticketId"`
	EventID                    int64     `json:"eventId"`
	OrderID                    string    `json:"orderId"`
	ReservedBy                 string    `json:"reservedBy"`
	ReservationDurationSeconds int       `json:"reservationDurationSeconds"`
	PublishedAt                time.Time `json:"publishedAt"`
}

// PaymentRequested asks the payment provider to charge for a reserved ticket.
type PaymentRequested struct {
	TicketID        int64     `json:"ticketId"`
	EventID         int64     `json:"eventId"`
	AmountCents     int       `json:"amountCents"`
	Currency        string    `json:"currency"`
	PaymentBy       string    `json:"paymentBy"`
	PaymentMethodID string    `json:"paymentMethodId"`
	TransactionRef  string    `json:"transactionRef"`
	RequestedAt     time.Time `json:"requestedAt"`
}

// PaymentApproved is the provider's positive outcome for a payment request.
type PaymentApproved struct {
	TicketID       int64     `json:"ticketId"`
	EventID        int64     `json:"eventId"`
	AmountCents    int       `json:"amountCents"`
	Currency       string    `json:"currency"`
	PaymentBy      string    `json:"paymentBy"`
	TransactionRef string    `json:"transactionRef"`
	ApprovedAt     time.Time `json:"approvedAt"`
}

// PaymentRejected is the provider's negative outcome for a payment request.
type PaymentRejected struct {
	TicketID          int64     `json:"ticketId"`
	PaymentID         int64     `json:"paymentId"`
	ProviderReference *string   `json:"providerReference,omitempty"`
	RejectionReason   string    `json:"rejectionReason"`
	RejectedAt        time.Time `json:"rejectedAt"`
	EventID           int64     `json:"eventId"`
	EventTimestamp    time.Time `json:"eventTimestamp"`
}

// TicketStatusChanged notifies downstream observers of an accepted status
// transition (live-status streaming, analytics).
type TicketStatusChanged struct {
	TicketID  int64     `json:"ticketId"`
	NewStatus string    `json:"newStatus"`
	ChangedAt time.Time `json:"changedAt"`
}
