package models

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// TicketStatus is the closed set of lifecycle states a ticket can be in.
type TicketStatus string

const (
	TicketAvailable TicketStatus = "available"
	TicketReserved  TicketStatus = "reserved"
	TicketPaid      TicketStatus = "paid"
	TicketReleased  TicketStatus = "released"
	TicketCancelled TicketStatus = "cancelled"
)

// ParseTicketStatus parses a status string case-insensitively. Unknown values
// are an error, never passed through as free text.
func ParseTicketStatus(s string) (TicketStatus, error) {
	switch TicketStatus(strings.ToLower(strings.TrimSpace(s))) {
	case TicketAvailable:
		return TicketAvailable, nil
	case TicketReserved:
		return TicketReserved, nil
	case TicketPaid:
		return TicketPaid, nil
	case TicketReleased:
		return TicketReleased, nil
	case TicketCancelled:
		return TicketCancelled, nil
	}
	return "", errors.Errorf("unknown ticket status %q", s)
}

// PaymentStatus is the state of a payment record.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentFailed   PaymentStatus = "failed"
	PaymentExpired  PaymentStatus = "expired"
)

// Event represents a sellable event that tickets belong to
type Event struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Name      string    `gorm:"not null" json:"name"`
	Venue     string    `json:"venue"`
	StartsAt  time.Time `json:"starts_at"`
	Tickets   []Ticket  `gorm:"foreignKey:EventID" json:"-"`
}

// Ticket is the aggregate root of the sale lifecycle. Version is the
// optimistic-concurrency token: every accepted transition bumps it, and a
// write conditioned on a stale version must fail instead of overwriting.
type Ticket struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	EventID    int64           `gorm:"not null;index" json:"event_id"`
	Status     TicketStatus    `gorm:"type:varchar(16);not null;default:available" json:"status"`
	ReservedAt *time.Time      `json:"reserved_at"`
	ExpiresAt  *time.Time      `json:"expires_at"`
	PaidAt     *time.Time      `json:"paid_at"`
	OrderID    *string         `json:"order_id"`
	ReservedBy *string         `json:"reserved_by"`
	Version    int             `gorm:"not null;default:0" json:"version"`
	Event      Event           `gorm:"foreignKey:EventID" json:"-"`
	Payments   []Payment       `gorm:"foreignKey:TicketID" json:"-"`
	History    []TicketHistory `gorm:"foreignKey:TicketID" json:"-"`
}

// Payment records a provider payment for a ticket. At most one meaningful
// payment exists per ticket at a time; its existence doubles as the
// idempotency guard against duplicate approval events.
type Payment struct {
	ID          int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt   time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
	TicketID    int64         `gorm:"not null;index" json:"ticket_id"`
	Status      PaymentStatus `gorm:"type:varchar(16);not null;default:pending" json:"status"`
	ProviderRef *string       `json:"provider_ref"`
	AmountCents int           `gorm:"not null" json:"amount_cents"`
	Currency    string        `gorm:"type:varchar(3);not null;default:USD" json:"currency"`
	Ticket      Ticket        `gorm:"foreignKey:TicketID" json:"-"`
}

// TicketHistory is the append-only audit log of status transitions. An entry
// is written in the same transaction as the ticket update it describes.
type TicketHistory struct {
	ID        int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	TicketID  int64        `gorm:"not null;index" json:"ticket_id"`
	OldStatus TicketStatus `gorm:"type:varchar(16);not null" json:"old_status"`
	NewStatus TicketStatus `gorm:"type:varchar(16);not null" json:"new_status"`
	Reason    string       `json:"reason"`
	ChangedAt time.Time    `gorm:"autoCreateTime" json:"changed_at"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Event{},
		&Ticket{},
		&Payment{},
		&TicketHistory{},
	)

	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
