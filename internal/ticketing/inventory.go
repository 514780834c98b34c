package ticketing

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

// Ledger owns ticket-type stock. Both operations run inside the caller's
// transaction so the stock change commits or rolls back with the purchase
// change that caused it.
type Ledger struct {
	logger observability.Logger
}

func NewLedger(logger observability.Logger) *Ledger {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Ledger{logger: logger}
}

// Reserve takes n tickets from the type's remaining stock with a single
// conditional decrement, failing with domain.ErrInsufficientStock rather
// than going negative.
func (l *Ledger) Reserve(ctx context.Context, tx Tx, ticketTypeID int64, n int) error {
	if n < 1 {
		return errors.Wrap(domain.ErrInvalidInput, "quantity must be at least 1")
	}
	ok, err := tx.DecrementRemaining(ctx, ticketTypeID, n)
	if err != nil {
		return errors.Wrap(err, "reserve stock")
	}
	if !ok {
		observability.StockRejections.Inc()
		return errors.Wrapf(domain.ErrInsufficientStock, "ticket type %d: %d requested", ticketTypeID, n)
	}
	return nil
}

// Release returns n tickets to stock. Remaining never exceeds quantity.
func (l *Ledger) Release(ctx context.Context, tx Tx, ticketTypeID int64, n int) error {
	if n < 1 {
		return errors.Wrap(domain.ErrInvalidInput, "quantity must be at least 1")
	}
	ok, err := tx.IncrementRemaining(ctx, ticketTypeID, n)
	if err != nil {
		return errors.Wrap(err, "release stock")
	}
	if !ok {
		l.logger.WithFields(map[string]interface{}{
			"ticket_type_id": ticketTypeID,
			"quantity":       n,
		}).Warn("stock release would exceed ticket type quantity")
		return errors.Wrapf(domain.ErrConflict, "release of %d exceeds quantity of ticket type %d", n, ticketTypeID)
	}
	return nil
}
