package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/ticketing/internal/events"
	"example.com/ticketing/internal/lifecycle"
	"example.com/ticketing/internal/models"
	"example.com/ticketing/internal/repositories"
	"example.com/ticketing/internal/tracing"
)

type MockEventStore struct {
	mock.Mock
}

func (m *MockEventStore) Create(ctx context.Context, event *models.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventStore) GetByID(ctx context.Context, id int64) (*models.Event, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Event), args.Error(1)
}

type MockHistoryStore struct {
	mock.Mock
}

func (m *MockHistoryStore) GetByTicketID(ctx context.Context, ticketID int64) ([]models.TicketHistory, error) {
	args := m.Called(ctx, ticketID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TicketHistory), args.Error(1)
}

func newTestTicketService(tickets *MockTicketStore, eventsRepo *MockEventStore, publisher *MockStatusPublisher) *TicketService {
	return &TicketService{
		tickets:    tickets,
		eventsRepo: eventsRepo,
		machine:    lifecycle.NewMachine(lifecycle.DefaultTTL),
		publisher:  publisher,
		tracer:     &tracing.NewRelicTracer{},
		maxRetries: 3,
	}
}

func TestProcessReservationPersistsHold(t *testing.T) {
	tickets := new(MockTicketStore)
	publisher := new(MockStatusPublisher)
	service := newTestTicketService(tickets, nil, publisher)

	ticket := &models.Ticket{ID: 42, EventID: 7, Status: models.TicketAvailable, Version: 0}
	tickets.On("GetByID", mock.Anything, int64(42)).Return(ticket, nil)
	tickets.On("ApplyTransition", mock.Anything, ticket, 0, mock.MatchedBy(func(h *models.TicketHistory) bool {
		return h.NewStatus == models.TicketReserved && h.Reason == "reservation accepted"
	})).Return(nil)
	publisher.On("PublishStatusChanged", mock.Anything, mock.Anything).Return(nil)

	res, err := service.ProcessReservation(context.Background(), &events.TicketReserved{
		TicketID:                   42,
		EventID:                    7,
		OrderID:                    "order-1",
		ReservedBy:                 "user-1",
		ReservationDurationSeconds: 120,
	})

	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, models.TicketReserved, ticket.Status)
	require.NotNil(t, ticket.ReservedAt)
	require.NotNil(t, ticket.ExpiresAt)
	require.Equal(t, "order-1", *ticket.OrderID)
	require.WithinDuration(t, ticket.ReservedAt.Add(120*time.Second), *ticket.ExpiresAt, time.Second)
	tickets.AssertExpectations(t)
}

func TestProcessReservationDefaultsDuration(t *testing.T) {
	tickets := new(MockTicketStore)
	publisher := new(MockStatusPublisher)
	service := newTestTicketService(tickets, nil, publisher)

	ticket := &models.Ticket{ID: 42, Status: models.TicketAvailable}
	tickets.On("GetByID", mock.Anything, int64(42)).Return(ticket, nil)
	tickets.On("ApplyTransition", mock.Anything, ticket, 0, mock.Anything).Return(nil)
	publisher.On("PublishStatusChanged", mock.Anything, mock.Anything).Return(nil)

	res, err := service.ProcessReservation(context.Background(), &events.TicketReserved{
		TicketID: 42,
		OrderID:  "order-1",
	})

	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.WithinDuration(t,
		ticket.ReservedAt.Add(events.DefaultReservationSeconds*time.Second),
		*ticket.ExpiresAt, time.Second)
}

func TestProcessReservationDuplicateOrder(t *testing.T) {
	tickets := new(MockTicketStore)
	publisher := new(MockStatusPublisher)
	service := newTestTicketService(tickets, nil, publisher)

	orderID := "order-1"
	tickets.On("GetByID", mock.Anything, int64(42)).Return(&models.Ticket{
		ID:      42,
		Status:  models.TicketReserved,
		OrderID: &orderID,
	}, nil)

	res, err := service.ProcessReservation(context.Background(), &events.TicketReserved{
		TicketID: 42,
		OrderID:  "order-1",
	})

	require.NoError(t, err)
	require.Equal(t, StatusAlreadyProcessed, res.Status)
	tickets.AssertNotCalled(t, "ApplyTransition", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessReservationConflictingOrder(t *testing.T) {
	tickets := new(MockTicketStore)
	publisher := new(MockStatusPublisher)
	service := newTestTicketService(tickets, nil, publisher)

	orderID := "order-1"
	tickets.On("GetByID", mock.Anything, int64(42)).Return(&models.Ticket{
		ID:      42,
		Status:  models.TicketReserved,
		OrderID: &orderID,
	}, nil)

	res, err := service.ProcessReservation(context.Background(), &events.TicketReserved{
		TicketID: 42,
		OrderID:  "order-2",
	})

	require.NoError(t, err)
	require.Equal(t, StatusFailure, res.Status)
	require.Equal(t, "ticket already reserved", res.Reason)
}

func TestReleaseClearsReservation(t *testing.T) {
	tickets := new(MockTicketStore)
	publisher := new(MockStatusPublisher)
	service := newTestTicketService(tickets, nil, publisher)

	reservedAt := time.Now().UTC()
	orderID := "order-1"
	ticket := &models.Ticket{
		ID:         42,
		Status:     models.TicketReserved,
		ReservedAt: &reservedAt,
		OrderID:    &orderID,
		Version:    2,
	}
	tickets.On("GetByID", mock.Anything, int64(42)).Return(ticket, nil)
	tickets.On("ApplyTransition", mock.Anything, ticket, 2, mock.MatchedBy(func(h *models.TicketHistory) bool {
		return h.NewStatus == models.TicketReleased && h.Reason == "operator request"
	})).Return(nil)
	publisher.On("PublishStatusChanged", mock.Anything, mock.Anything).Return(nil)

	released, err := service.Release(context.Background(), 42, "operator request")

	require.NoError(t, err)
	require.Equal(t, models.TicketReleased, released.Status)
	require.Nil(t, released.ReservedAt)
	require.Nil(t, released.OrderID)
	tickets.AssertExpectations(t)
}

func TestReleaseIsIdempotent(t *testing.T) {
	tickets := new(MockTicketStore)
	publisher := new(MockStatusPublisher)
	service := newTestTicketService(tickets, nil, publisher)

	tickets.On("GetByID", mock.Anything, int64(42)).Return(&models.Ticket{
		ID:     42,
		Status: models.TicketReleased,
	}, nil)

	released, err := service.Release(context.Background(), 42, "")

	require.NoError(t, err)
	require.Equal(t, models.TicketReleased, released.Status)
	tickets.AssertNotCalled(t, "ApplyTransition", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	service := newTestTicketService(new(MockTicketStore), nil, new(MockStatusPublisher))

	_, err := service.UpdateStatus(context.Background(), 42, "teleported", "")

	require.Error(t, err)
	require.Contains(t, err.Error(), "teleported")
}

func TestReleaseExpiredSkipsConflictedTickets(t *testing.T) {
	tickets := new(MockTicketStore)
	publisher := new(MockStatusPublisher)
	service := newTestTicketService(tickets, nil, publisher)

	reservedAt := time.Now().UTC().Add(-10 * time.Minute)
	expiresAt := reservedAt.Add(lifecycle.DefaultTTL)
	expired := []models.Ticket{
		{ID: 1, Status: models.TicketReserved, ReservedAt: &reservedAt, ExpiresAt: &expiresAt, Version: 1},
		{ID: 2, Status: models.TicketReserved, ReservedAt: &reservedAt, ExpiresAt: &expiresAt, Version: 1},
	}
	tickets.On("GetExpired", mock.Anything, mock.Anything, 100).Return(expired, nil)
	tickets.On("ApplyTransition", mock.Anything, mock.MatchedBy(func(ti *models.Ticket) bool {
		return ti.ID == 1
	}), 1, mock.Anything).Return(repositories.ErrVersionConflict)
	tickets.On("ApplyTransition", mock.Anything, mock.MatchedBy(func(ti *models.Ticket) bool {
		return ti.ID == 2
	}), 1, mock.MatchedBy(func(h *models.TicketHistory) bool {
		return h.Reason == "Reservation TTL expired"
	})).Return(nil)
	publisher.On("PublishStatusChanged", mock.Anything, mock.Anything).Return(nil)

	released, err := service.ReleaseExpired(context.Background())

	require.NoError(t, err)
	require.Equal(t, 1, released)
	tickets.AssertExpectations(t)
}

func TestTicketHistoryReadsAuditTrail(t *testing.T) {
	history := new(MockHistoryStore)
	service := &TicketService{
		history: history,
		tracer:  &tracing.NewRelicTracer{},
	}

	entries := []models.TicketHistory{
		{TicketID: 42, OldStatus: models.TicketAvailable, NewStatus: models.TicketReserved},
		{TicketID: 42, OldStatus: models.TicketReserved, NewStatus: models.TicketPaid},
	}
	history.On("GetByTicketID", mock.Anything, int64(42)).Return(entries, nil)

	got, err := service.TicketHistory(context.Background(), 42)

	require.NoError(t, err)
	require.Equal(t, entries, got)
}

func TestCreateTicketsVerifiesEvent(t *testing.T) {
	tickets := new(MockTicketStore)
	eventsRepo := new(MockEventStore)
	service := newTestTicketService(tickets, eventsRepo, new(MockStatusPublisher))

	eventsRepo.On("GetByID", mock.Anything, int64(7)).Return(&models.Event{ID: 7, Name: "Opening Night"}, nil)
	tickets.On("CreateBatch", mock.Anything, mock.MatchedBy(func(batch []*models.Ticket) bool {
		if len(batch) != 3 {
			return false
		}
		for _, ticket := range batch {
			if ticket.EventID != 7 || ticket.Status != models.TicketAvailable {
				return false
			}
		}
		return true
	})).Return(nil)

	created, err := service.CreateTickets(context.Background(), 7, 3)

	require.NoError(t, err)
	require.Len(t, created, 3)
	tickets.AssertExpectations(t)
	eventsRepo.AssertExpectations(t)
}
