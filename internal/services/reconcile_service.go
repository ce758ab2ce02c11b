package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/ticketing/internal/events"
	"example.com/ticketing/internal/lifecycle"
	"example.com/ticketing/internal/models"
	"example.com/ticketing/internal/repositories"
	"example.com/ticketing/internal/tracing"
)

// ticketStore is the slice of TicketRepository the services depend on.
type ticketStore interface {
	GetByID(ctx context.Context, id int64) (*models.Ticket, error)
	GetByEventID(ctx context.Context, eventID int64) ([]models.Ticket, error)
	CreateBatch(ctx context.Context, tickets []*models.Ticket) error
	GetExpired(ctx context.Context, now time.Time, limit int) ([]models.Ticket, error)
	ApplyTransition(ctx context.Context, ticket *models.Ticket, expectedVersion int, history *models.TicketHistory) error
}

// paymentStore is the slice of PaymentRepository the reconciliation needs.
type paymentStore interface {
	GetByTicketID(ctx context.Context, ticketID int64) (*models.Payment, error)
	Create(ctx context.Context, payment *models.Payment) error
}

// statusPublisher notifies downstream observers of an accepted transition.
type statusPublisher interface {
	PublishStatusChanged(ctx context.Context, entry models.TicketHistory) error
}

// ReconcileService matches asynchronous payment outcomes against the
// reservation that authorized them. It requests transitions through the
// lifecycle machine and never mutates ticket fields outside the
// version-conditioned update path.
type ReconcileService struct {
	tickets    ticketStore
	payments   paymentStore
	machine    *lifecycle.Machine
	publisher  statusPublisher
	tracer     tracing.Tracer
	maxRetries int
	retryDelay time.Duration
}

// NewReconcileService creates a new reconciliation service
func NewReconcileService(
	tickets *repositories.TicketRepository,
	payments *repositories.PaymentRepository,
	machine *lifecycle.Machine,
	publisher statusPublisher,
	tracer tracing.Tracer,
	maxRetries int,
	retryDelay time.Duration,
) *ReconcileService {
	if maxRetries < 1 {
		maxRetries = 3
	}
	return &ReconcileService{
		tickets:    tickets,
		payments:   payments,
		machine:    machine,
		publisher:  publisher,
		tracer:     tracer,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// ProcessApprovedPayment reconciles a provider approval against the ticket's
// reservation. Business rejections come back as a Failure result; technical
// failures (storage, exhausted version conflicts) come back as an error so
// the dispatch layer can dead-letter the message.
func (s *ReconcileService) ProcessApprovedPayment(ctx context.Context, evt *events.PaymentApproved) (Result, error) {
	txn := s.tracer.StartTransaction("process-approved-payment")
	defer s.tracer.EndTransaction(txn)

	for attempt := 1; ; attempt++ {
		ticket, err := s.tickets.GetByID(ctx, evt.TicketID)
		if err != nil {
			if errors.Is(err, repositories.ErrTicketNotFound) {
				log.Warn().Int64("ticket_id", evt.TicketID).Msg("Ticket not found for approved payment")
				return Failure("ticket not found"), nil
			}
			s.tracer.RecordError(txn, err)
			return Result{}, err
		}

		decision := s.machine.DecideMarkPaid(ticket, evt.ApprovedAt)
		switch decision.Verdict {
		case lifecycle.AlreadyDone:
			log.Info().Int64("ticket_id", ticket.ID).Msg("Ticket already paid, skipping duplicate approval")
			return AlreadyProcessed(), nil

		case lifecycle.Reject:
			if !decision.ForceRelease {
				log.Warn().
					Int64("ticket_id", ticket.ID).
					Str("status", string(ticket.Status)).
					Msg("Invalid ticket status for payment")
				return Failure(decision.Reason), nil
			}
			// Late payment: force the compensating release so the ticket is
			// never left stuck in reserved.
			log.Warn().
				Int64("ticket_id", ticket.ID).
				Time("approved_at", evt.ApprovedAt).
				Msg("Payment received after TTL, releasing ticket")
			err := s.release(ctx, ticket, "Payment received after TTL")
			if errors.Is(err, repositories.ErrVersionConflict) && attempt < s.maxRetries {
				s.backoff(ctx)
				continue
			}
			if err != nil {
				s.tracer.RecordError(txn, err)
				return Result{}, err
			}
			return Failure(decision.Reason), nil
		}

		// Existence of a payment record for this ticket is the dedup guard:
		// a second approval must not create a duplicate.
		payment, err := s.payments.GetByTicketID(ctx, ticket.ID)
		if err != nil {
			s.tracer.RecordError(txn, err)
			return Result{}, err
		}
		if payment == nil {
			providerRef := evt.TransactionRef
			payment = &models.Payment{
				TicketID:    ticket.ID,
				Status:      models.PaymentPending,
				ProviderRef: &providerRef,
				AmountCents: evt.AmountCents,
				Currency:    evt.Currency,
			}
			if err := s.payments.Create(ctx, payment); err != nil {
				s.tracer.RecordError(txn, err)
				return Result{}, err
			}
		}

		err = s.markPaid(ctx, ticket)
		if errors.Is(err, repositories.ErrVersionConflict) && attempt < s.maxRetries {
			log.Info().
				Int64("ticket_id", ticket.ID).
				Int("attempt", attempt).
				Msg("Version conflict marking ticket paid, re-reading")
			s.backoff(ctx)
			continue
		}
		if err != nil {
			s.tracer.RecordError(txn, err)
			return Result{}, err
		}

		log.Info().
			Int64("ticket_id", ticket.ID).
			Str("transaction_ref", evt.TransactionRef).
			Msg("Payment processed successfully")
		return Success(), nil
	}
}

// ProcessRejectedPayment releases the reservation a rejected payment was
// meant to settle.
func (s *ReconcileService) ProcessRejectedPayment(ctx context.Context, evt *events.PaymentRejected) (Result, error) {
	txn := s.tracer.StartTransaction("process-rejected-payment")
	defer s.tracer.EndTransaction(txn)

	for attempt := 1; ; attempt++ {
		ticket, err := s.tickets.GetByID(ctx, evt.TicketID)
		if err != nil {
			if errors.Is(err, repositories.ErrTicketNotFound) {
				log.Warn().Int64("ticket_id", evt.TicketID).Msg("Ticket not found for rejected payment")
				return Failure("ticket not found"), nil
			}
			s.tracer.RecordError(txn, err)
			return Result{}, err
		}

		if s.machine.DecideRelease(ticket).Verdict == lifecycle.AlreadyDone {
			log.Info().Int64("ticket_id", ticket.ID).Msg("Ticket already released, skipping duplicate rejection")
			return AlreadyProcessed(), nil
		}

		err = s.release(ctx, ticket, "Payment rejected: "+evt.RejectionReason)
		if errors.Is(err, repositories.ErrVersionConflict) && attempt < s.maxRetries {
			log.Info().
				Int64("ticket_id", ticket.ID).
				Int("attempt", attempt).
				Msg("Version conflict releasing ticket, re-reading")
			s.backoff(ctx)
			continue
		}
		if err != nil {
			s.tracer.RecordError(txn, err)
			return Result{}, err
		}

		log.Info().
			Int64("ticket_id", ticket.ID).
			Str("reason", evt.RejectionReason).
			Msg("Payment rejection processed")
		return Success(), nil
	}
}

// markPaid applies the reserved→paid transition with its history entry.
func (s *ReconcileService) markPaid(ctx context.Context, ticket *models.Ticket) error {
	oldStatus := ticket.Status
	now := time.Now().UTC()
	ticket.Status = models.TicketPaid
	ticket.PaidAt = &now

	history := &models.TicketHistory{
		TicketID:  ticket.ID,
		OldStatus: oldStatus,
		NewStatus: models.TicketPaid,
		Reason:    "payment approved",
		ChangedAt: now,
	}
	if err := s.tickets.ApplyTransition(ctx, ticket, ticket.Version, history); err != nil {
		return err
	}
	s.notify(ctx, *history)
	return nil
}

// release applies the →released transition, clearing reservation metadata.
func (s *ReconcileService) release(ctx context.Context, ticket *models.Ticket, reason string) error {
	oldStatus := ticket.Status
	ticket.Status = models.TicketReleased
	ticket.ReservedAt = nil
	ticket.ExpiresAt = nil
	ticket.ReservedBy = nil
	ticket.OrderID = nil

	history := &models.TicketHistory{
		TicketID:  ticket.ID,
		OldStatus: oldStatus,
		NewStatus: models.TicketReleased,
		Reason:    reason,
		ChangedAt: time.Now().UTC(),
	}
	if err := s.tickets.ApplyTransition(ctx, ticket, ticket.Version, history); err != nil {
		return err
	}
	s.notify(ctx, *history)
	return nil
}

// notify publishes the status change. Publish failures are logged, not
// propagated: the transition is already durable and a redelivery would
// resolve as AlreadyProcessed without re-emitting.
func (s *ReconcileService) notify(ctx context.Context, entry models.TicketHistory) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishStatusChanged(ctx, entry); err != nil {
		log.Warn().
			Err(err).
			Int64("ticket_id", entry.TicketID).
			Str("new_status", string(entry.NewStatus)).
			Msg("Failed to publish status change")
	}
}

func (s *ReconcileService) backoff(ctx context.Context) {
	if s.retryDelay <= 0 {
		return
	}
	select {
	case <-time.After(s.retryDelay):
	case <-ctx.Done():
	}
}
