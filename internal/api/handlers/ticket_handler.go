package handlers

import (
	"net/http"
	"strconv"
	"time"

	"example.com/ticketing/internal/models"
	"example.com/ticketing/internal/repositories"
	"example.com/ticketing/internal/search"
	"example.com/ticketing/internal/services"
	"example.com/ticketing/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// TicketHandler handles ticket-related HTTP requests
type TicketHandler struct {
	ticketService *services.TicketService
	relayService  *services.RelayService
	audit         *search.ElasticClient
	tracer        tracing.Tracer
}

// NewTicketHandler creates a new ticket handler
func NewTicketHandler(
	ticketService *services.TicketService,
	relayService *services.RelayService,
	audit *search.ElasticClient,
	tracer tracing.Tracer,
) *TicketHandler {
	return &TicketHandler{
		ticketService: ticketService,
		relayService:  relayService,
		audit:         audit,
		tracer:        tracer,
	}
}

// CreateEventRequest represents a request to create a sellable event
type CreateEventRequest struct {
	Name     string `json:"name" binding:"required"`
	Venue    string `json:"venue"`
	StartsAt string `json:"starts_at"`
}

// CreateTicketsRequest represents a bulk ticket creation request
type CreateTicketsRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1,max=1000"`
}

// ReserveTicketRequest represents a reservation request
type ReserveTicketRequest struct {
	TicketID         int64  `json:"ticket_id" binding:"required,min=1"`
	EventID          int64  `json:"event_id" binding:"omitempty,min=1"`
	OrderID          string `json:"order_id" binding:"required"`
	ReservedBy       string `json:"reserved_by"`
	ExpiresInSeconds int    `json:"expires_in_seconds" binding:"omitempty,min=1"`
}

// UpdateStatusRequest represents an administrative status change
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

// ReleaseTicketRequest represents a manual release request
type ReleaseTicketRequest struct {
	Reason string `json:"reason"`
}

// HandleCreateEvent creates a sellable event
func (h *TicketHandler) HandleCreateEvent(c *gin.Context) {
	var req CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event := &models.Event{
		Name:  req.Name,
		Venue: req.Venue,
	}
	if req.StartsAt != "" {
		startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "starts_at must be RFC3339"})
			return
		}
		event.StartsAt = startsAt
	}
	if err := h.ticketService.CreateEvent(c, event); err != nil {
		log.Error().Err(err).Msg("Failed to create event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, event)
}

// HandleCreateTickets bulk-creates tickets for an event
func (h *TicketHandler) HandleCreateTickets(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-create-tickets")
	defer h.tracer.EndTransaction(txn)

	eventID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	var req CreateTicketsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.tracer.AddAttribute(txn, "event_id", eventID)
	h.tracer.AddAttribute(txn, "quantity", req.Quantity)

	tickets, err := h.ticketService.CreateTickets(c, eventID, req.Quantity)
	if err != nil {
		h.tracer.RecordError(txn, err)
		log.Error().Err(err).Int64("event_id", eventID).Msg("Failed to create tickets")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"event_id": eventID, "created": len(tickets), "tickets": tickets})
}

// HandleGetTicket returns a single ticket
func (h *TicketHandler) HandleGetTicket(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}

	ticket, err := h.ticketService.GetTicket(c, id)
	if err != nil {
		if errors.Is(err, repositories.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, ticket)
}

// HandleListEventTickets returns all tickets of an event
func (h *TicketHandler) HandleListEventTickets(c *gin.Context) {
	eventID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	tickets, err := h.ticketService.TicketsByEvent(c, eventID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"event_id": eventID, "tickets": tickets})
}

// HandleReserveTicket accepts a reservation request and publishes it for
// asynchronous processing. The response confirms receipt, not persistence.
func (h *TicketHandler) HandleReserveTicket(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-reserve-ticket")
	defer h.tracer.EndTransaction(txn)

	var req ReserveTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.tracer.AddAttribute(txn, "ticket_id", req.TicketID)
	h.tracer.AddAttribute(txn, "order_id", req.OrderID)

	evt, err := h.relayService.ReserveTicket(c, services.ReserveTicketCommand{
		TicketID:         req.TicketID,
		EventID:          req.EventID,
		OrderID:          req.OrderID,
		ReservedBy:       req.ReservedBy,
		ExpiresInSeconds: req.ExpiresInSeconds,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		log.Error().Err(err).Int64("ticket_id", req.TicketID).Msg("Failed to publish reservation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":                      "Reservation accepted",
		"ticket_id":                    evt.TicketID,
		"order_id":                     evt.OrderID,
		"reservation_duration_seconds": evt.ReservationDurationSeconds,
	})
}

// HandleUpdateStatus applies an administrative status change
func (h *TicketHandler) HandleUpdateStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ticket, err := h.ticketService.UpdateStatus(c, id, req.Status, req.Reason)
	if err != nil {
		if errors.Is(err, repositories.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, ticket)
}

// HandleReleaseTicket releases a ticket back to the sellable pool
func (h *TicketHandler) HandleReleaseTicket(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}

	var req ReleaseTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ticket, err := h.ticketService.Release(c, id, req.Reason)
	if err != nil {
		if errors.Is(err, repositories.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, ticket)
}

// HandleGetHistory returns the audit trail of a ticket
func (h *TicketHandler) HandleGetHistory(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}

	history, err := h.ticketService.TicketHistory(c, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ticket_id": id, "history": history})
}

// HandleListExpired lists reserved tickets whose hold deadline has passed
func (h *TicketHandler) HandleListExpired(c *gin.Context) {
	tickets, err := h.ticketService.ExpiredTickets(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": len(tickets), "tickets": tickets})
}

// HandleSearchHistory queries the audit index for status transitions
func (h *TicketHandler) HandleSearchHistory(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit index not configured"})
		return
	}

	must := []map[string]interface{}{}
	if raw := c.Query("ticket_id"); raw != "" {
		ticketID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket_id"})
			return
		}
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"ticket_id": ticketID},
		})
	}
	if status := c.Query("status"); status != "" {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"new_status": status},
		})
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"must": must},
		},
		"sort": []map[string]interface{}{
			{"changed_at": map[string]interface{}{"order": "desc"}},
		},
		"size": 100,
	}

	docs, err := h.audit.SearchTransitions(c, query)
	if err != nil {
		log.Error().Err(err).Msg("Audit search failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": len(docs), "transitions": docs})
}

// RegisterRoutes registers the handler's routes
func (h *TicketHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/events", h.HandleCreateEvent)
	router.POST("/events/:id/tickets", h.HandleCreateTickets)
	router.GET("/events/:id/tickets", h.HandleListEventTickets)

	router.POST("/tickets/reserve", h.HandleReserveTicket)
	router.GET("/tickets/:id", h.HandleGetTicket)
	router.PUT("/tickets/:id/status", h.HandleUpdateStatus)
	router.POST("/tickets/:id/release", h.HandleReleaseTicket)
	router.GET("/tickets/:id/history", h.HandleGetHistory)

	router.GET("/reservations/expired", h.HandleListExpired)
	router.GET("/history/search", h.HandleSearchHistory)
}
