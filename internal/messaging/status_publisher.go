package messaging

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/ticketing/internal/cache"
	"example.com/ticketing/internal/events"
	"example.com/ticketing/internal/models"
	"example.com/ticketing/internal/search"
)

// StatusPublisher fans an accepted transition out to downstream observers:
// a TicketStatusChanged event on the exchange, the Redis status cache, and
// the audit index. Only the event publish is load-bearing; cache and index
// updates are best-effort.
type StatusPublisher struct {
	client *Client
	cache  *cache.RedisCache
	audit  *search.ElasticClient
}

// NewStatusPublisher creates a new status publisher. cache and audit may be
// nil when those backends are not configured.
func NewStatusPublisher(client *Client, redisCache *cache.RedisCache, audit *search.ElasticClient) *StatusPublisher {
	return &StatusPublisher{
		client: client,
		cache:  redisCache,
		audit:  audit,
	}
}

// PublishStatusChanged emits the status change for the given transition.
func (p *StatusPublisher) PublishStatusChanged(ctx context.Context, entry models.TicketHistory) error {
	evt := events.TicketStatusChanged{
		TicketID:  entry.TicketID,
		NewStatus: string(entry.NewStatus),
		ChangedAt: entry.ChangedAt,
	}
	if err := p.client.Publish(ctx, events.RoutingKeyStatusChanged, evt); err != nil {
		return err
	}

	if p.cache != nil && p.cache.Enabled() {
		key := cache.TicketStatusKey(entry.TicketID)
		if err := p.cache.Set(ctx, key, string(entry.NewStatus), time.Hour); err != nil {
			log.Warn().Err(err).Int64("ticket_id", entry.TicketID).Msg("Failed to refresh status cache")
		}
	}

	if p.audit != nil {
		if err := p.audit.IndexTransition(ctx, entry); err != nil {
			log.Warn().Err(err).Int64("ticket_id", entry.TicketID).Msg("Failed to index transition")
		}
	}

	return nil
}
