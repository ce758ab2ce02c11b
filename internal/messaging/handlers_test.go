package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/ticketing/internal/events"
	"example.com/ticketing/internal/services"
)

type stubApprovedProcessor struct {
	got *events.PaymentApproved
}

func (p *stubApprovedProcessor) ProcessApprovedPayment(ctx context.Context, evt *events.PaymentApproved) (services.Result, error) {
	p.got = evt
	return services.Success(), nil
}

func TestApprovedPaymentHandlerDecodesWireFormat(t *testing.T) {
	processor := &stubApprovedProcessor{}
	handler := NewApprovedPaymentHandler(processor)

	body, err := json.Marshal(map[string]interface{}{
		"ticketId":       42,
		"eventId":        7,
		"amountCents":    1500,
		"currency":       "USD",
		"transactionRef": "TXN-abc",
		"approvedAt":     time.Now().UTC().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	res, err := handler.Handle(context.Background(), body)

	require.NoError(t, err)
	require.Equal(t, services.StatusSuccess, res.Status)
	require.NotNil(t, processor.got)
	require.Equal(t, int64(42), processor.got.TicketID)
	require.Equal(t, "TXN-abc", processor.got.TransactionRef)
}

func TestApprovedPaymentHandlerRejectsMalformedPayload(t *testing.T) {
	handler := NewApprovedPaymentHandler(&stubApprovedProcessor{})

	res, err := handler.Handle(context.Background(), []byte("not json"))

	// A payload that cannot parse is a terminal business failure: it must be
	// acked, never dead-lettered as a technical fault.
	require.NoError(t, err)
	require.Equal(t, services.StatusFailure, res.Status)
	require.Contains(t, res.Reason, "invalid payload")
}

func TestHandlersDeclareTheirQueues(t *testing.T) {
	require.Equal(t, events.RoutingKeyPaymentApproved, NewApprovedPaymentHandler(nil).Queue())
	require.Equal(t, events.RoutingKeyPaymentRejected, NewRejectedPaymentHandler(nil).Queue())
	require.Equal(t, events.RoutingKeyTicketReserved, NewReservationHandler(nil).Queue())
}
