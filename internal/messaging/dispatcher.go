package messaging

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"example.com/ticketing/internal/services"
)

// ErrNoHandler is returned when no registered handler owns the queue a
// message arrived on. It is distinct from a handled failure: an unroutable
// message is a configuration problem, not a business rejection.
var ErrNoHandler = errors.New("no handler registered for queue")

// Handler processes raw messages from the single queue it declares. A
// malformed payload is a business Failure result; the returned error is
// reserved for technical faults that should dead-letter the message.
type Handler interface {
	Queue() string
	Handle(ctx context.Context, body []byte) (services.Result, error)
}

// Dispatcher routes an inbound message to the handler owning its queue.
// Matching is suffix-tolerant so queue names carrying an environment prefix
// still reach the handler declaring the logical name.
type Dispatcher struct {
	handlers []Handler
}

// NewDispatcher creates a dispatcher over the given handlers.
func NewDispatcher(handlers ...Handler) *Dispatcher {
	return &Dispatcher{handlers: handlers}
}

// Register adds a handler to the registry.
func (d *Dispatcher) Register(h Handler) {
	d.handlers = append(d.handlers, h)
}

// Dispatch routes the message to the matching handler. Returns ErrNoHandler
// when the queue is unroutable.
func (d *Dispatcher) Dispatch(ctx context.Context, queueName string, body []byte) (services.Result, error) {
	for _, h := range d.handlers {
		if strings.HasSuffix(queueName, h.Queue()) {
			return h.Handle(ctx, body)
		}
	}
	return services.Result{}, errors.Wrap(ErrNoHandler, queueName)
}
