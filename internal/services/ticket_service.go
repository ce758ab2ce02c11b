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

type eventStore interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id int64) (*models.Event, error)
}

type historyStore interface {
	GetByTicketID(ctx context.Context, ticketID int64) ([]models.TicketHistory, error)
}

// TicketService owns ticket records: bulk creation, reads, reservation
// persistence, administrative transitions and the TTL sweep. It is the sole
// writer of ticket status and version.
type TicketService struct {
	tickets    ticketStore
	eventsRepo eventStore
	history    historyStore
	machine    *lifecycle.Machine
	publisher  statusPublisher
	tracer     tracing.Tracer
	maxRetries int
}

// NewTicketService creates a new ticket service
func NewTicketService(
	tickets *repositories.TicketRepository,
	eventsRepo *repositories.EventRepository,
	history *repositories.TicketHistoryRepository,
	machine *lifecycle.Machine,
	publisher statusPublisher,
	tracer tracing.Tracer,
	maxRetries int,
) *TicketService {
	if maxRetries < 1 {
		maxRetries = 3
	}
	return &TicketService{
		tickets:    tickets,
		eventsRepo: eventsRepo,
		history:    history,
		machine:    machine,
		publisher:  publisher,
		tracer:     tracer,
		maxRetries: maxRetries,
	}
}

// CreateEvent creates a sellable event.
func (s *TicketService) CreateEvent(ctx context.Context, event *models.Event) error {
	return s.eventsRepo.Create(ctx, event)
}

// CreateTickets bulk-creates quantity tickets for an event, all available.
func (s *TicketService) CreateTickets(ctx context.Context, eventID int64, quantity int) ([]*models.Ticket, error) {
	txn := s.tracer.StartTransaction("create-tickets")
	defer s.tracer.EndTransaction(txn)

	if _, err := s.eventsRepo.GetByID(ctx, eventID); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	tickets := make([]*models.Ticket, 0, quantity)
	for i := 0; i < quantity; i++ {
		tickets = append(tickets, &models.Ticket{
			EventID: eventID,
			Status:  models.TicketAvailable,
		})
	}
	if err := s.tickets.CreateBatch(ctx, tickets); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	log.Info().Int64("event_id", eventID).Int("quantity", quantity).Msg("Tickets created")
	return tickets, nil
}

// GetTicket returns a ticket by id.
func (s *TicketService) GetTicket(ctx context.Context, id int64) (*models.Ticket, error) {
	return s.tickets.GetByID(ctx, id)
}

// TicketsByEvent returns all tickets of an event.
func (s *TicketService) TicketsByEvent(ctx context.Context, eventID int64) ([]models.Ticket, error) {
	return s.tickets.GetByEventID(ctx, eventID)
}

// TicketHistory returns the audit trail of a ticket.
func (s *TicketService) TicketHistory(ctx context.Context, ticketID int64) ([]models.TicketHistory, error) {
	return s.history.GetByTicketID(ctx, ticketID)
}

// ExpiredTickets lists reserved tickets whose hold deadline has passed.
func (s *TicketService) ExpiredTickets(ctx context.Context) ([]models.Ticket, error) {
	return s.tickets.GetExpired(ctx, time.Now().UTC(), 100)
}

// ProcessReservation persists a consumed TicketReserved event: the ticket
// moves to reserved and the TTL clock starts. Duplicate deliveries of the
// same order resolve as AlreadyProcessed.
func (s *TicketService) ProcessReservation(ctx context.Context, evt *events.TicketReserved) (Result, error) {
	txn := s.tracer.StartTransaction("process-reservation")
	defer s.tracer.EndTransaction(txn)

	duration := evt.ReservationDurationSeconds
	if duration <= 0 {
		duration = events.DefaultReservationSeconds
	}

	for attempt := 1; ; attempt++ {
		ticket, err := s.tickets.GetByID(ctx, evt.TicketID)
		if err != nil {
			if errors.Is(err, repositories.ErrTicketNotFound) {
				log.Warn().Int64("ticket_id", evt.TicketID).Msg("Ticket not found for reservation")
				return Failure("ticket not found"), nil
			}
			s.tracer.RecordError(txn, err)
			return Result{}, err
		}

		decision := s.machine.DecideReserve(ticket, evt.OrderID)
		switch decision.Verdict {
		case lifecycle.AlreadyDone:
			log.Info().Int64("ticket_id", ticket.ID).Str("order_id", evt.OrderID).
				Msg("Ticket already reserved for this order, skipping duplicate")
			return AlreadyProcessed(), nil
		case lifecycle.Reject:
			log.Warn().Int64("ticket_id", ticket.ID).Str("status", string(ticket.Status)).
				Msg("Reservation rejected")
			return Failure(decision.Reason), nil
		}

		oldStatus := ticket.Status
		now := time.Now().UTC()
		expiresAt := now.Add(time.Duration(duration) * time.Second)
		orderID := evt.OrderID
		reservedBy := evt.ReservedBy
		ticket.Status = models.TicketReserved
		ticket.ReservedAt = &now
		ticket.ExpiresAt = &expiresAt
		ticket.OrderID = &orderID
		ticket.ReservedBy = &reservedBy
		ticket.PaidAt = nil

		history := &models.TicketHistory{
			TicketID:  ticket.ID,
			OldStatus: oldStatus,
			NewStatus: models.TicketReserved,
			Reason:    "reservation accepted",
			ChangedAt: now,
		}
		err = s.tickets.ApplyTransition(ctx, ticket, ticket.Version, history)
		if errors.Is(err, repositories.ErrVersionConflict) && attempt < s.maxRetries {
			log.Info().Int64("ticket_id", ticket.ID).Int("attempt", attempt).
				Msg("Version conflict reserving ticket, re-reading")
			continue
		}
		if err != nil {
			s.tracer.RecordError(txn, err)
			return Result{}, err
		}

		s.notify(ctx, *history)
		log.Info().
			Int64("ticket_id", ticket.ID).
			Str("order_id", evt.OrderID).
			Time("expires_at", expiresAt).
			Msg("Reservation persisted")
		return Success(), nil
	}
}

// Release manually releases a ticket, clearing reservation metadata. Already
// released tickets are left untouched.
func (s *TicketService) Release(ctx context.Context, id int64, reason string) (*models.Ticket, error) {
	if reason == "" {
		reason = "ticket released"
	}

	for attempt := 1; ; attempt++ {
		ticket, err := s.tickets.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if s.machine.DecideRelease(ticket).Verdict == lifecycle.AlreadyDone {
			return ticket, nil
		}

		err = s.applyRelease(ctx, ticket, reason)
		if errors.Is(err, repositories.ErrVersionConflict) && attempt < s.maxRetries {
			continue
		}
		if err != nil {
			return nil, err
		}
		return ticket, nil
	}
}

// UpdateStatus applies an administrative status change. The status string is
// parsed strictly; unknown values are rejected before any write.
func (s *TicketService) UpdateStatus(ctx context.Context, id int64, newStatus, reason string) (*models.Ticket, error) {
	status, err := models.ParseTicketStatus(newStatus)
	if err != nil {
		return nil, err
	}
	if status == models.TicketReleased {
		return s.Release(ctx, id, reason)
	}

	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ticket.Status == status {
		return ticket, nil
	}

	oldStatus := ticket.Status
	ticket.Status = status
	if reason == "" {
		reason = "status updated"
	}
	history := &models.TicketHistory{
		TicketID:  ticket.ID,
		OldStatus: oldStatus,
		NewStatus: status,
		Reason:    reason,
		ChangedAt: time.Now().UTC(),
	}
	if err := s.tickets.ApplyTransition(ctx, ticket, ticket.Version, history); err != nil {
		return nil, err
	}
	s.notify(ctx, *history)
	return ticket, nil
}

// ReleaseExpired sweeps reserved tickets past their deadline and releases
// them. A version conflict on an individual ticket means a racing writer
// (usually a payment approval) got there first; the ticket is skipped and
// re-evaluated on the next tick.
func (s *TicketService) ReleaseExpired(ctx context.Context) (int, error) {
	txn := s.tracer.StartTransaction("release-expired-tickets")
	defer s.tracer.EndTransaction(txn)

	tickets, err := s.tickets.GetExpired(ctx, time.Now().UTC(), 100)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return 0, err
	}
	if len(tickets) == 0 {
		return 0, nil
	}

	released := 0
	for i := range tickets {
		ticket := tickets[i]
		err := s.applyRelease(ctx, &ticket, "Reservation TTL expired")
		if err != nil {
			if errors.Is(err, repositories.ErrVersionConflict) {
				log.Info().Int64("ticket_id", ticket.ID).
					Msg("Ticket changed while sweeping, skipping")
				continue
			}
			s.tracer.RecordError(txn, err)
			log.Error().Err(err).Int64("ticket_id", ticket.ID).Msg("Failed to release expired ticket")
			continue
		}
		released++
	}

	log.Info().Int("released", released).Int("candidates", len(tickets)).
		Msg("Expired reservation sweep finished")
	return released, nil
}

func (s *TicketService) applyRelease(ctx context.Context, ticket *models.Ticket, reason string) error {
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

func (s *TicketService) notify(ctx context.Context, entry models.TicketHistory) {
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
