// Package ticketing is the ticket lifecycle core: stock reservation, the
// purchase state machine, ticket issuance on approval, and gate scans.
// It reaches storage, files, mail and the broker only through the ports
// declared in ports.go.
package ticketing

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/robertarktes/event-ticketing/internal/observability"
)

const defaultApprovalLockTTL = 2 * time.Minute

type Deps struct {
	Store     Store
	Files     FileStore
	Notifier  Notifier
	Codec     CredentialCodec
	Documents DocumentRenderer
	// Locker and Catalog are optional.
	Locker  Locker
	Catalog Catalog
	Logger  observability.Logger
	Now     func() time.Time
}

// Service runs the purchase and approval flows and promoter event
// management.
type Service struct {
	store    Store
	ledger   *Ledger
	issuer   *Issuer
	files    FileStore
	notifier Notifier
	locker   Locker
	catalog  Catalog
	logger   observability.Logger
	now      func() time.Time
	lockTTL  time.Duration
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = observability.NewNopLogger()
	}
	return &Service{
		store:    d.Store,
		ledger:   NewLedger(d.Logger),
		issuer:   NewIssuer(d.Codec, d.Documents, d.Files),
		files:    d.Files,
		notifier: d.Notifier,
		locker:   d.Locker,
		catalog:  d.Catalog,
		logger:   d.Logger,
		now:      d.Now,
		lockTTL:  defaultApprovalLockTTL,
	}
}

func newOutboxMessage(aggregateType string, aggregateID int64, eventType string, payload interface{}) (OutboxMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, errors.Wrap(err, "outbox payload")
	}
	return OutboxMessage{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   strconv.FormatInt(aggregateID, 10),
		EventType:     eventType,
		Payload:       b,
	}, nil
}

func writeOutbox(ctx context.Context, tx Tx, aggregateType string, aggregateID int64, eventType string, payload interface{}) error {
	msg, err := newOutboxMessage(aggregateType, aggregateID, eventType, payload)
	if err != nil {
		return err
	}
	return tx.InsertOutbox(ctx, msg)
}
