package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"example.com/ticketing/config"
	"example.com/ticketing/internal/metrics"
	"example.com/ticketing/internal/services"
)

// Client owns the AMQP connection and the publishing channel. It is created
// at startup, passed to the components that need it, and closed at shutdown.
type Client struct {
	conn    *amqp.Connection
	pubCh   *amqp.Channel
	pubMu   sync.Mutex
	cfg     config.RabbitConfig
	metrics *metrics.Metrics
}

// NewClient dials the broker and declares the exchange topology: the tickets
// topic exchange and its dead-letter companion.
func NewClient(cfg config.RabbitConfig, collector *metrics.Metrics) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL())
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial RabbitMQ")
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to open channel")
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to declare exchange")
	}
	if err := ch.ExchangeDeclare(cfg.Exchange+".dlx", "direct", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to declare dead-letter exchange")
	}

	return &Client{
		conn:    conn,
		pubCh:   ch,
		cfg:     cfg,
		metrics: collector,
	}, nil
}

// Publish sends a JSON message to the tickets exchange under the routing key.
func (c *Client) Publish(ctx context.Context, routingKey string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message body")
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	err = c.pubCh.PublishWithContext(ctx,
		c.cfg.Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         data,
		})
	if err != nil {
		return errors.Wrapf(err, "failed to publish %s", routingKey)
	}

	if c.metrics != nil {
		c.metrics.IncrementCounter("messages_published")
	}
	return nil
}

// ensureQueue declares a durable queue bound to the exchange under its
// logical routing key, wired to the dead-letter exchange, plus the matching
// dead-letter queue.
func (c *Client) ensureQueue(ch *amqp.Channel, queueName, routingKey string) error {
	dlx := c.cfg.Exchange + ".dlx"
	_, err := ch.QueueDeclare(queueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": queueName,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to declare queue %s", queueName)
	}
	if err := ch.QueueBind(queueName, routingKey, c.cfg.Exchange, false, nil); err != nil {
		return errors.Wrapf(err, "failed to bind queue %s", queueName)
	}

	if _, err := ch.QueueDeclare(queueName+".dlq", true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "failed to declare dead-letter queue for %s", queueName)
	}
	if err := ch.QueueBind(queueName+".dlq", queueName, dlx, false, nil); err != nil {
		return errors.Wrapf(err, "failed to bind dead-letter queue for %s", queueName)
	}
	return nil
}

// Consume runs a consumer for the logical queue until the context is
// cancelled. Each consumer gets its own channel with a bounded prefetch;
// in-flight messages are allowed to finish before the loop exits.
func (c *Client) Consume(ctx context.Context, logicalQueue string, dispatcher *Dispatcher) error {
	queueName := c.cfg.QueueName(logicalQueue)

	ch, err := c.conn.Channel()
	if err != nil {
		return errors.Wrap(err, "failed to open consumer channel")
	}
	defer ch.Close()

	if err := c.ensureQueue(ch, queueName, logicalQueue); err != nil {
		return err
	}

	prefetch := c.cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 10
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return errors.Wrap(err, "failed to set QoS")
	}

	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to consume %s", queueName)
	}

	log.Info().Str("queue", queueName).Int("prefetch", prefetch).Msg("Consumer started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("queue", queueName).Msg("Consumer stopping")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.Errorf("delivery channel closed for %s", queueName)
			}
			c.handleDelivery(ctx, queueName, d, dispatcher)
		}
	}
}

// handleDelivery dispatches one message and settles it according to the
// acknowledgment policy. Shutdown cancels the consume loop, never work
// already picked up: the message runs against a detached context so a SIGTERM
// cannot abort its store writes mid-flight and dead-letter a healthy message.
func (c *Client) handleDelivery(ctx context.Context, queueName string, d amqp.Delivery, dispatcher *Dispatcher) {
	msgCtx := context.WithoutCancel(ctx)
	res, err := safeDispatch(msgCtx, dispatcher, queueName, d.Body)

	switch decideSettlement(res, err) {
	case settleAck:
		if res.Status == services.StatusFailure {
			log.Warn().
				Str("queue", queueName).
				Str("reason", res.Reason).
				Msg("Message rejected by business rules, acknowledging")
		}
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error().Err(ackErr).Str("queue", queueName).Msg("Failed to ack message")
		}
		if c.metrics != nil {
			c.metrics.IncrementCounter("messages_acked")
		}

	case settleRequeue:
		log.Error().Err(err).Str("queue", queueName).Msg("No handler for message, requeueing")
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error().Err(nackErr).Str("queue", queueName).Msg("Failed to nack message")
		}

	case settleDeadLetter:
		log.Error().Err(err).Str("queue", queueName).Msg("Processing failed, routing to dead-letter queue")
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Error().Err(nackErr).Str("queue", queueName).Msg("Failed to nack message")
		}
		if c.metrics != nil {
			c.metrics.IncrementCounter("messages_dead_lettered")
		}
	}
}

// safeDispatch shields the consumer loop from panicking handlers; a panic is
// a technical failure and settles like one.
func safeDispatch(ctx context.Context, dispatcher *Dispatcher, queueName string, body []byte) (res services.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic while handling message: %v", r)
		}
	}()
	return dispatcher.Dispatch(ctx, queueName, body)
}

type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleDeadLetter
)

// decideSettlement maps a processing outcome to an acknowledgment action.
// Business outcomes, including rejections, are acked: redelivering them can
// never succeed. Technical failures dead-letter. An unroutable message is
// requeued so a misconfigured deployment surfaces instead of losing data.
func decideSettlement(res services.Result, err error) settlement {
	if err != nil {
		if errors.Is(err, ErrNoHandler) {
			return settleRequeue
		}
		return settleDeadLetter
	}
	switch res.Status {
	case services.StatusSuccess, services.StatusAlreadyProcessed, services.StatusFailure:
		return settleAck
	}
	return settleDeadLetter
}

// Close shuts the publishing channel and the connection down.
func (c *Client) Close() error {
	if c.pubCh != nil {
		if err := c.pubCh.Close(); err != nil {
			return errors.Wrap(err, "failed to close channel")
		}
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
