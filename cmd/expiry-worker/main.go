package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/robertarktes/event-ticketing/internal/adapters/crdb"
	"github.com/robertarktes/event-ticketing/internal/config"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/ticketing"
)

const batchSize = 100

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.ServiceName+"-expiry-worker", cfg.LogLevel)

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	svc := ticketing.NewService(ticketing.Deps{
		Store:  crdb.NewStore(crdb.NewRepository(pool)),
		Logger: logger,
	})

	worker := NewExpiryWorker(svc, logger, cfg.PendingPurchaseTTL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx, cfg.ExpiryInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown expiry worker")
}

type expirer interface {
	StalePurchases(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Purchase, error)
	ExpirePurchase(ctx context.Context, purchaseID int64) (bool, error)
}

// ExpiryWorker fails pending purchases that never received a payment
// proof and returns their stock to the ticket type.
type ExpiryWorker struct {
	svc     expirer
	logger  observability.Logger
	ttl     time.Duration
	backoff time.Duration
}

func NewExpiryWorker(svc expirer, logger observability.Logger, ttl time.Duration) *ExpiryWorker {
	return &ExpiryWorker{svc: svc, logger: logger, ttl: ttl, backoff: time.Second}
}

func (w *ExpiryWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.WithError(err).Error("failed to list stale purchases")
			}
		}
	}
}

// Sweep expires one batch and returns how many purchases were expired.
func (w *ExpiryWorker) Sweep(ctx context.Context) (int, error) {
	stale, err := w.svc.StalePurchases(ctx, w.ttl, batchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, p := range stale {
		ok, err := w.expireWithRetry(ctx, p.ID)
		if err != nil {
			w.logger.WithError(err).WithField("purchase_id", p.ID).Error("failed to expire purchase after retries")
			continue
		}
		if ok {
			expired++
			w.logger.WithFields(map[string]interface{}{
				"purchase_id":    p.ID,
				"ticket_type_id": p.TicketTypeID,
				"quantity":       p.Quantity,
			}).Info("purchase expired, stock released")
		}
	}
	return expired, nil
}

func (w *ExpiryWorker) expireWithRetry(ctx context.Context, purchaseID int64) (bool, error) {
	maxRetries := 3
	var err error
	for i := 0; i < maxRetries; i++ {
		var ok bool
		ok, err = w.svc.ExpirePurchase(ctx, purchaseID)
		if err == nil {
			return ok, nil
		}
		backoff := time.Duration(1<<i) * w.backoff
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return false, errors.Wrapf(err, "failed after %d retries", maxRetries)
}
