package handlers

import (
	"net/http"

	"example.com/ticketing/internal/services"
	"example.com/ticketing/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// PaymentHandler handles payment-related HTTP requests
type PaymentHandler struct {
	relayService *services.RelayService
	tracer       tracing.Tracer
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(relayService *services.RelayService, tracer tracing.Tracer) *PaymentHandler {
	return &PaymentHandler{
		relayService: relayService,
		tracer:       tracer,
	}
}

// ProcessPaymentRequest represents a payment-initiation request
type ProcessPaymentRequest struct {
	TicketID        int64  `json:"ticket_id" binding:"required,min=1"`
	EventID         int64  `json:"event_id" binding:"omitempty,min=1"`
	AmountCents     int    `json:"amount_cents" binding:"required,min=1"`
	Currency        string `json:"currency"`
	PaymentBy       string `json:"payment_by"`
	PaymentMethodID string `json:"payment_method_id"`
	TransactionRef  string `json:"transaction_ref"`
}

// HandleProcessPayment accepts a payment request and relays it to the
// provider. The response acknowledges receipt; the outcome arrives later as
// an approved or rejected event.
func (h *PaymentHandler) HandleProcessPayment(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-process-payment")
	defer h.tracer.EndTransaction(txn)

	var req ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.tracer.AddAttribute(txn, "ticket_id", req.TicketID)
	h.tracer.AddAttribute(txn, "amount_cents", req.AmountCents)

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	evt, err := h.relayService.RequestPayment(c, services.RequestPaymentCommand{
		TicketID:        req.TicketID,
		EventID:         req.EventID,
		AmountCents:     req.AmountCents,
		Currency:        currency,
		PaymentBy:       req.PaymentBy,
		PaymentMethodID: req.PaymentMethodID,
		TransactionRef:  req.TransactionRef,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		log.Error().Err(err).Int64("ticket_id", req.TicketID).Msg("Failed to publish payment request")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":         "Payment request accepted",
		"ticket_id":       evt.TicketID,
		"transaction_ref": evt.TransactionRef,
	})
}

// RegisterRoutes registers the handler's routes
func (h *PaymentHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/payments/process", h.HandleProcessPayment)
}
