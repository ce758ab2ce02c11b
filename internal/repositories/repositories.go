package repositories

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/ticketing/internal/models"
)

// ErrTicketNotFound is returned when a ticket lookup matches no row.
var ErrTicketNotFound = errors.New("ticket not found")

// ErrVersionConflict is returned when a version-conditioned update touches no
// rows: another writer moved the ticket first. Callers re-read and retry.
var ErrVersionConflict = errors.New("ticket version conflict")

// TicketRepository provides access to ticket data
type TicketRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewTicketRepository creates a new ticket repository
func NewTicketRepository(db *gorm.DB, readOnlyDB *gorm.DB) *TicketRepository {
	return &TicketRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetByID gets a ticket by ID
func (r *TicketRepository) GetByID(ctx context.Context, id int64) (*models.Ticket, error) {
	var ticket models.Ticket
	err := r.readOnlyDB.WithContext(ctx).First(&ticket, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, errors.Wrap(err, "failed to get ticket by ID")
	}
	return &ticket, nil
}

// GetByEventID gets all tickets for an event
func (r *TicketRepository) GetByEventID(ctx context.Context, eventID int64) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := r.readOnlyDB.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("id").
		Find(&tickets).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get tickets by event ID")
	}
	return tickets, nil
}

// CreateBatch inserts a batch of tickets
func (r *TicketRepository) CreateBatch(ctx context.Context, tickets []*models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(tickets).Error; err != nil {
		return errors.Wrap(err, "failed to create tickets")
	}
	return nil
}

// GetExpired returns reserved tickets whose hold has passed its deadline.
func (r *TicketRepository) GetExpired(ctx context.Context, now time.Time, limit int) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := r.readOnlyDB.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", models.TicketReserved, now).
		Limit(limit).
		Find(&tickets).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get expired tickets")
	}
	return tickets, nil
}

// ApplyTransition persists a status transition and its history entry in one
// transaction. The update is conditioned on expectedVersion; if the stored
// version moved, nothing is written and ErrVersionConflict is returned. On
// success the in-memory ticket's version is bumped to match the store.
func (r *TicketRepository) ApplyTransition(ctx context.Context, ticket *models.Ticket, expectedVersion int, history *models.TicketHistory) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Ticket{}).
			Where("id = ? AND version = ?", ticket.ID, expectedVersion).
			Updates(map[string]interface{}{
				"status":      ticket.Status,
				"reserved_at": ticket.ReservedAt,
				"expires_at":  ticket.ExpiresAt,
				"paid_at":     ticket.PaidAt,
				"order_id":    ticket.OrderID,
				"reserved_by": ticket.ReservedBy,
				"version":     expectedVersion + 1,
			})
		if result.Error != nil {
			return errors.Wrap(result.Error, "failed to update ticket")
		}
		if result.RowsAffected == 0 {
			return ErrVersionConflict
		}
		if err := tx.Create(history).Error; err != nil {
			return errors.Wrap(err, "failed to append ticket history")
		}
		return nil
	})
	if err != nil {
		return err
	}
	ticket.Version = expectedVersion + 1
	return nil
}

// PaymentRepository provides access to payment data
type PaymentRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *gorm.DB, readOnlyDB *gorm.DB) *PaymentRepository {
	return &PaymentRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetByTicketID returns the payment for a ticket, or nil when none exists.
func (r *PaymentRepository) GetByTicketID(ctx context.Context, ticketID int64) (*models.Payment, error) {
	var payment models.Payment
	err := r.readOnlyDB.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get payment by ticket ID")
	}
	return &payment, nil
}

// Create creates a new payment record
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		return errors.Wrap(err, "failed to create payment")
	}
	return nil
}

// TicketHistoryRepository provides read access to the audit log. Writes go
// through TicketRepository.ApplyTransition so they share the ticket update's
// transaction.
type TicketHistoryRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewTicketHistoryRepository creates a new history repository
func NewTicketHistoryRepository(db *gorm.DB, readOnlyDB *gorm.DB) *TicketHistoryRepository {
	return &TicketHistoryRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetByTicketID returns the transition history for a ticket, oldest first.
func (r *TicketHistoryRepository) GetByTicketID(ctx context.Context, ticketID int64) ([]models.TicketHistory, error) {
	var entries []models.TicketHistory
	err := r.readOnlyDB.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("id").
		Find(&entries).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get ticket history")
	}
	return entries, nil
}

// EventRepository provides access to event data
type EventRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *gorm.DB, readOnlyDB *gorm.DB) *EventRepository {
	return &EventRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create creates a new event
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return errors.Wrap(err, "failed to create event")
	}
	return nil
}

// GetByID gets an event by ID
func (r *EventRepository) GetByID(ctx context.Context, id int64) (*models.Event, error) {
	var event models.Event
	err := r.readOnlyDB.WithContext(ctx).First(&event, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(err, "event %d not found", id)
		}
		return nil, errors.Wrap(err, "failed to get event by ID")
	}
	return &event, nil
}
