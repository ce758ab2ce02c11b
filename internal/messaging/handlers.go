package messaging

import (
	"context"
	"encoding/json"

	"example.com/ticketing/internal/events"
	"example.com/ticketing/internal/services"
)

type approvedProcessor interface {
	ProcessApprovedPayment(ctx context.Context, evt *events.PaymentApproved) (services.Result, error)
}

type rejectedProcessor interface {
	ProcessRejectedPayment(ctx context.Context, evt *events.PaymentRejected) (services.Result, error)
}

type reservationProcessor interface {
	ProcessReservation(ctx context.Context, evt *events.TicketReserved) (services.Result, error)
}

// ApprovedPaymentHandler consumes provider approvals.
type ApprovedPaymentHandler struct {
	engine approvedProcessor
}

// NewApprovedPaymentHandler creates the handler for the approved queue.
func NewApprovedPaymentHandler(engine approvedProcessor) *ApprovedPaymentHandler {
	return &ApprovedPaymentHandler{engine: engine}
}

// Queue returns the logical queue this handler owns.
func (h *ApprovedPaymentHandler) Queue() string {
	return events.RoutingKeyPaymentApproved
}

// Handle deserializes and processes one approval. A payload that does not
// parse is a terminal business failure, never a crash.
func (h *ApprovedPaymentHandler) Handle(ctx context.Context, body []byte) (services.Result, error) {
	var evt events.PaymentApproved
	if err := json.Unmarshal(body, &evt); err != nil {
		return services.Failure("invalid payload: " + err.Error()), nil
	}
	return h.engine.ProcessApprovedPayment(ctx, &evt)
}

// RejectedPaymentHandler consumes provider rejections.
type RejectedPaymentHandler struct {
	engine rejectedProcessor
}

// NewRejectedPaymentHandler creates the handler for the rejected queue.
func NewRejectedPaymentHandler(engine rejectedProcessor) *RejectedPaymentHandler {
	return &RejectedPaymentHandler{engine: engine}
}

// Queue returns the logical queue this handler owns.
func (h *RejectedPaymentHandler) Queue() string {
	return events.RoutingKeyPaymentRejected
}

// Handle deserializes and processes one rejection.
func (h *RejectedPaymentHandler) Handle(ctx context.Context, body []byte) (services.Result, error) {
	var evt events.PaymentRejected
	if err := json.Unmarshal(body, &evt); err != nil {
		return services.Failure("invalid payload: " + err.Error()), nil
	}
	return h.engine.ProcessRejectedPayment(ctx, &evt)
}

// ReservationHandler consumes accepted reservations and persists the hold.
type ReservationHandler struct {
	tickets reservationProcessor
}

// NewReservationHandler creates the handler for the reserved queue.
func NewReservationHandler(tickets reservationProcessor) *ReservationHandler {
	return &ReservationHandler{tickets: tickets}
}

// Queue returns the logical queue this handler owns.
func (h *ReservationHandler) Queue() string {
	return events.RoutingKeyTicketReserved
}

// Handle deserializes and persists one reservation.
func (h *ReservationHandler) Handle(ctx context.Context, body []byte) (services.Result, error) {
	var evt events.TicketReserved
	if err := json.Unmarshal(body, &evt); err != nil {
		return services.Failure("invalid payload: " + err.Error()), nil
	}
	return h.tickets.ProcessReservation(ctx, &evt)
}
