// Package outbox relays committed outbox records to the broker.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/robertarktes/event-ticketing/internal/adapters/crdb"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

type store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	GetUnpublishedOutbox(ctx context.Context, tx pgx.Tx, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, id uuid.UUID, publishedAt time.Time) error
}

type broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Publisher struct {
	repo      store
	rabbitPub broker
	logger    observability.Logger
	interval  time.Duration
	batch     int
	now       func() time.Time
}

func NewPublisher(repo store, rabbitPub broker, logger observability.Logger, interval time.Duration, batch int) *Publisher {
	return &Publisher{
		repo:      repo,
		rabbitPub: rabbitPub,
		logger:    logger,
		interval:  interval,
		batch:     batch,
		now:       time.Now,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// drain while full batches keep coming
			for {
				n, err := p.RelayOnce(ctx)
				if err != nil {
					p.logger.WithError(err).Error("outbox relay failed")
					break
				}
				if n < p.batch || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// RelayOnce publishes up to one batch in created order and returns how
// many records were marked published. A publish failure stops the batch
// so later records never overtake an earlier one; the rest stay NEW.
func (p *Publisher) RelayOnce(ctx context.Context) (int, error) {
	published := 0
	err := p.repo.WithTx(ctx, func(tx pgx.Tx) error {
		records, err := p.repo.GetUnpublishedOutbox(ctx, tx, p.batch)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			observability.OutboxLag.Set(p.now().Sub(records[0].CreatedAt).Seconds())
		} else {
			observability.OutboxLag.Set(0)
		}
		for _, rec := range records {
			msg := amqp.Publishing{
				MessageId:    rec.DedupeKey,
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    rec.CreatedAt,
				Type:         rec.EventType,
				Headers: amqp.Table{
					"aggregate_type": rec.AggregateType,
					"aggregate_id":   rec.AggregateID,
				},
				Body: rec.Payload,
			}
			if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
				p.logger.WithError(err).WithFields(map[string]interface{}{
					"outbox_id":  rec.ID.String(),
					"event_type": rec.EventType,
				}).Warn("outbox publish failed, will retry")
				return nil
			}
			if err := p.repo.MarkPublished(ctx, tx, rec.ID, p.now()); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	observability.OutboxPublished.Add(float64(published))
	return published, nil
}
