package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/ticketing/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.SetupModels(db))
	return db
}

func seedReservedTicket(t *testing.T, db *gorm.DB) *models.Ticket {
	t.Helper()
	reservedAt := time.Now().UTC()
	expiresAt := reservedAt.Add(5 * time.Minute)
	orderID := "order-1"
	reservedBy := "user-1"
	ticket := &models.Ticket{
		EventID:    7,
		Status:     models.TicketReserved,
		ReservedAt: &reservedAt,
		ExpiresAt:  &expiresAt,
		OrderID:    &orderID,
		ReservedBy: &reservedBy,
		Version:    3,
	}
	require.NoError(t, db.Create(ticket).Error)
	return ticket
}

func TestApplyTransitionBumpsVersionByExactlyOne(t *testing.T) {
	db := newTestDB(t)
	repo := NewTicketRepository(db, db)
	ticket := seedReservedTicket(t, db)

	now := time.Now().UTC()
	ticket.Status = models.TicketPaid
	ticket.PaidAt = &now
	history := &models.TicketHistory{
		TicketID:  ticket.ID,
		OldStatus: models.TicketReserved,
		NewStatus: models.TicketPaid,
		Reason:    "payment approved",
		ChangedAt: now,
	}

	err := repo.ApplyTransition(context.Background(), ticket, 3, history)

	require.NoError(t, err)
	require.Equal(t, 4, ticket.Version)

	var stored models.Ticket
	require.NoError(t, db.First(&stored, ticket.ID).Error)
	require.Equal(t, models.TicketPaid, stored.Status)
	require.Equal(t, 4, stored.Version)
	require.NotNil(t, stored.PaidAt)

	var entries []models.TicketHistory
	require.NoError(t, db.Where("ticket_id = ?", ticket.ID).Find(&entries).Error)
	require.Len(t, entries, 1)
	require.Equal(t, models.TicketPaid, entries[0].NewStatus)
}

func TestApplyTransitionStaleVersionWritesNothing(t *testing.T) {
	db := newTestDB(t)
	repo := NewTicketRepository(db, db)
	ticket := seedReservedTicket(t, db)

	ticket.Status = models.TicketPaid
	history := &models.TicketHistory{
		TicketID:  ticket.ID,
		OldStatus: models.TicketReserved,
		NewStatus: models.TicketPaid,
		ChangedAt: time.Now().UTC(),
	}

	// Another writer already moved the ticket past version 2.
	err := repo.ApplyTransition(context.Background(), ticket, 2, history)

	require.ErrorIs(t, err, ErrVersionConflict)

	var stored models.Ticket
	require.NoError(t, db.First(&stored, ticket.ID).Error)
	require.Equal(t, models.TicketReserved, stored.Status)
	require.Equal(t, 3, stored.Version)

	var count int64
	require.NoError(t, db.Model(&models.TicketHistory{}).Where("ticket_id = ?", ticket.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestApplyTransitionRollsBackTicketWhenHistoryFails(t *testing.T) {
	db := newTestDB(t)
	repo := NewTicketRepository(db, db)
	ticket := seedReservedTicket(t, db)

	// Sabotage the history table so the second write in the transaction fails.
	require.NoError(t, db.Migrator().DropTable(&models.TicketHistory{}))

	ticket.Status = models.TicketPaid
	history := &models.TicketHistory{
		TicketID:  ticket.ID,
		OldStatus: models.TicketReserved,
		NewStatus: models.TicketPaid,
		ChangedAt: time.Now().UTC(),
	}

	err := repo.ApplyTransition(context.Background(), ticket, 3, history)

	require.Error(t, err)

	// The ticket update must roll back with the failed history write.
	var stored models.Ticket
	require.NoError(t, db.First(&stored, ticket.ID).Error)
	require.Equal(t, models.TicketReserved, stored.Status)
	require.Equal(t, 3, stored.Version)
}

func TestApplyTransitionReleaseClearsReservationColumns(t *testing.T) {
	db := newTestDB(t)
	repo := NewTicketRepository(db, db)
	ticket := seedReservedTicket(t, db)

	ticket.Status = models.TicketReleased
	ticket.ReservedAt = nil
	ticket.ExpiresAt = nil
	ticket.OrderID = nil
	ticket.ReservedBy = nil
	history := &models.TicketHistory{
		TicketID:  ticket.ID,
		OldStatus: models.TicketReserved,
		NewStatus: models.TicketReleased,
		Reason:    "Reservation TTL expired",
		ChangedAt: time.Now().UTC(),
	}

	require.NoError(t, repo.ApplyTransition(context.Background(), ticket, 3, history))

	var stored models.Ticket
	require.NoError(t, db.First(&stored, ticket.ID).Error)
	require.Equal(t, models.TicketReleased, stored.Status)
	require.Equal(t, 4, stored.Version)
	require.Nil(t, stored.ReservedAt)
	require.Nil(t, stored.ExpiresAt)
	require.Nil(t, stored.OrderID)
	require.Nil(t, stored.ReservedBy)
}

func TestGetByIDMissingTicket(t *testing.T) {
	db := newTestDB(t)
	repo := NewTicketRepository(db, db)

	_, err := repo.GetByID(context.Background(), 999)

	require.ErrorIs(t, err, ErrTicketNotFound)
}

func TestGetExpiredOnlyReturnsOverdueReservations(t *testing.T) {
	db := newTestDB(t)
	repo := NewTicketRepository(db, db)

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)
	overdue := &models.Ticket{EventID: 7, Status: models.TicketReserved, ReservedAt: &past, ExpiresAt: &past}
	pending := &models.Ticket{EventID: 7, Status: models.TicketReserved, ReservedAt: &now, ExpiresAt: &future}
	paid := &models.Ticket{EventID: 7, Status: models.TicketPaid}
	require.NoError(t, db.Create(overdue).Error)
	require.NoError(t, db.Create(pending).Error)
	require.NoError(t, db.Create(paid).Error)

	expired, err := repo.GetExpired(context.Background(), now, 100)

	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, overdue.ID, expired[0].ID)
}
