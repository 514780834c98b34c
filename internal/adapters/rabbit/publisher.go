package rabbit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/ticketing"
)

const (
	Exchange = "ezt.events"

	ExitAlertKey = "ticket.exit.alert"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Publisher struct {
	ch       channel
	attempts int
	backoff  time.Duration
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	return newPublisher(ch), nil
}

func newPublisher(ch channel) *Publisher {
	return &Publisher{ch: ch, attempts: 3, backoff: 200 * time.Millisecond}
}

// Publish retries transient failures with a linear backoff.
func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	var err error
	for i := 0; i < p.attempts; i++ {
		if i > 0 {
			observability.RabbitPublishRetries.Inc()
			select {
			case <-ctx.Done():
				return errors.CombineErrors(err, ctx.Err())
			case <-time.After(time.Duration(i) * p.backoff):
			}
		}
		if err = p.ch.PublishWithContext(ctx, Exchange, key, false, false, msg); err == nil {
			return nil
		}
	}
	return errors.Wrapf(err, "rabbit: publish %s", key)
}

func (p *Publisher) PublishJSON(ctx context.Context, key string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "rabbit: marshal")
	}
	return p.Publish(ctx, key, amqp.Publishing{
		MessageId:    uuid.NewString(),
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         key,
		Body:         body,
	})
}

// Alerter sends injured and emergency exits to whoever is bound to
// ExitAlertKey, typically the on-site medical desk.
type Alerter struct {
	pub *Publisher
}

func NewAlerter(pub *Publisher) *Alerter {
	return &Alerter{pub: pub}
}

func (a *Alerter) Alert(ctx context.Context, alert ticketing.ExitAlert) error {
	return a.pub.PublishJSON(ctx, ExitAlertKey, alert)
}
