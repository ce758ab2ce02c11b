package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/ticketing/internal/events"
)

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	args := m.Called(ctx, routingKey, body)
	return args.Error(0)
}

func TestReserveTicketPublishesEvent(t *testing.T) {
	bus := new(MockEventPublisher)
	service := NewRelayService(bus)

	bus.On("Publish", mock.Anything, events.RoutingKeyTicketReserved, mock.AnythingOfType("*events.TicketReserved")).Return(nil)

	evt, err := service.ReserveTicket(context.Background(), ReserveTicketCommand{
		TicketID:         42,
		EventID:          7,
		OrderID:          "order-1",
		ReservedBy:       "user-1",
		ExpiresInSeconds: 120,
	})

	require.NoError(t, err)
	require.Equal(t, int64(42), evt.TicketID)
	require.Equal(t, 120, evt.ReservationDurationSeconds)
	require.False(t, evt.PublishedAt.IsZero())
	bus.AssertExpectations(t)
}

func TestReserveTicketDefaultsDuration(t *testing.T) {
	bus := new(MockEventPublisher)
	service := NewRelayService(bus)

	bus.On("Publish", mock.Anything, events.RoutingKeyTicketReserved, mock.Anything).Return(nil)

	evt, err := service.ReserveTicket(context.Background(), ReserveTicketCommand{
		TicketID: 42,
		OrderID:  "order-1",
	})

	require.NoError(t, err)
	require.Equal(t, events.DefaultReservationSeconds, evt.ReservationDurationSeconds)
}

func TestRequestPaymentGeneratesTransactionRef(t *testing.T) {
	bus := new(MockEventPublisher)
	service := NewRelayService(bus)

	bus.On("Publish", mock.Anything, events.RoutingKeyPaymentRequested, mock.AnythingOfType("*events.PaymentRequested")).Return(nil)

	evt, err := service.RequestPayment(context.Background(), RequestPaymentCommand{
		TicketID:    42,
		AmountCents: 1500,
		Currency:    "USD",
	})

	require.NoError(t, err)
	require.True(t, strings.HasPrefix(evt.TransactionRef, "TXN-"))
	require.Greater(t, len(evt.TransactionRef), len("TXN-"))
	bus.AssertExpectations(t)
}

func TestRequestPaymentKeepsCallerReference(t *testing.T) {
	bus := new(MockEventPublisher)
	service := NewRelayService(bus)

	bus.On("Publish", mock.Anything, events.RoutingKeyPaymentRequested, mock.Anything).Return(nil)

	evt, err := service.RequestPayment(context.Background(), RequestPaymentCommand{
		TicketID:       42,
		AmountCents:    1500,
		TransactionRef: "TXN-fixed",
	})

	require.NoError(t, err)
	require.Equal(t, "TXN-fixed", evt.TransactionRef)
}

func TestReserveTicketPropagatesPublishError(t *testing.T) {
	bus := new(MockEventPublisher)
	service := NewRelayService(bus)

	bus.On("Publish", mock.Anything, events.RoutingKeyTicketReserved, mock.Anything).
		Return(context.DeadlineExceeded)

	_, err := service.ReserveTicket(context.Background(), ReserveTicketCommand{
		TicketID: 42,
		OrderID:  "order-1",
	})

	require.Error(t, err)
}
