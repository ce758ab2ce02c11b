package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/ticketing/internal/events"
)

// eventPublisher publishes a domain event under a routing key.
type eventPublisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
}

// RelayService is the stateless front of the asynchronous flow: it validates
// nothing beyond shape (handlers do that), stamps the event, publishes it and
// returns. It never waits for downstream processing.
type RelayService struct {
	bus eventPublisher
}

// NewRelayService creates a new relay service
func NewRelayService(bus eventPublisher) *RelayService {
	return &RelayService{bus: bus}
}

// ReserveTicketCommand carries a reservation request.
type ReserveTicketCommand struct {
	TicketID         int64
	EventID          int64
	OrderID          string
	ReservedBy       string
	ExpiresInSeconds int
}

// RequestPaymentCommand carries a payment-initiation request.
type RequestPaymentCommand struct {
	TicketID        int64
	EventID         int64
	AmountCents     int
	Currency        string
	PaymentBy       string
	PaymentMethodID string
	TransactionRef  string
}

// ReserveTicket publishes a TicketReserved event carrying the TTL the owning
// service must honor.
func (s *RelayService) ReserveTicket(ctx context.Context, cmd ReserveTicketCommand) (*events.TicketReserved, error) {
	duration := cmd.ExpiresInSeconds
	if duration <= 0 {
		duration = events.DefaultReservationSeconds
	}

	evt := &events.TicketReserved{
		TicketID:                   cmd.TicketID,
		EventID:                    cmd.EventID,
		OrderID:                    cmd.OrderID,
		ReservedBy:                 cmd.ReservedBy,
		ReservationDurationSeconds: duration,
		PublishedAt:                time.Now().UTC(),
	}
	if err := s.bus.Publish(ctx, events.RoutingKeyTicketReserved, evt); err != nil {
		return nil, err
	}

	log.Info().
		Int64("ticket_id", evt.TicketID).
		Str("order_id", evt.OrderID).
		Int("duration_seconds", duration).
		Msg("Ticket reservation published")
	return evt, nil
}

// RequestPayment publishes a PaymentRequested event, generating a
// collision-resistant transaction reference when the caller omits one.
func (s *RelayService) RequestPayment(ctx context.Context, cmd RequestPaymentCommand) (*events.PaymentRequested, error) {
	ref := cmd.TransactionRef
	if ref == "" {
		ref = "TXN-" + uuid.NewString()
	}

	evt := &events.PaymentRequested{
		TicketID:        cmd.TicketID,
		EventID:         cmd.EventID,
		AmountCents:     cmd.AmountCents,
		Currency:        cmd.Currency,
		PaymentBy:       cmd.PaymentBy,
		PaymentMethodID: cmd.PaymentMethodID,
		TransactionRef:  ref,
		RequestedAt:     time.Now().UTC(),
	}
	if err := s.bus.Publish(ctx, events.RoutingKeyPaymentRequested, evt); err != nil {
		return nil, err
	}

	log.Info().
		Int64("ticket_id", evt.TicketID).
		Str("transaction_ref", ref).
		Msg("Payment request published")
	return evt, nil
}
