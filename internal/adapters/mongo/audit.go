package mongo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/robertarktes/event-ticketing/internal/observability"
)

// AuditLogger keeps an append-only trail of domain events as relayed by
// the outbox.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

// Record stores one message. The message id is the document id, so
// redelivered messages are recorded once.
func (a *AuditLogger) Record(ctx context.Context, id, action string, at time.Time, payload []byte) error {
	entry, err := newAuditLog(id, action, at, payload)
	if err != nil {
		return err
	}
	_, err = a.coll.InsertOne(ctx, entry)
	if mongo.IsDuplicateKeyError(err) {
		a.logger.WithField("id", id).Debug("audit entry already recorded")
		return nil
	}
	if err != nil {
		a.logger.WithError(err).WithField("action", action).Error("failed to insert audit log")
		return errors.Wrap(err, "mongo: audit insert")
	}
	return nil
}

// History returns the entries whose payload names the given purchase,
// oldest first.
func (a *AuditLogger) History(ctx context.Context, purchaseID int64) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx, bson.M{"data.purchase_id": purchaseID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "mongo: audit find")
	}
	var out []AuditLog
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "mongo: audit decode")
	}
	return out, nil
}

func newAuditLog(id, action string, at time.Time, payload []byte) (AuditLog, error) {
	if id == "" {
		return AuditLog{}, errors.New("mongo: audit entry needs a message id")
	}
	data := bson.M{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &data); err != nil {
			return AuditLog{}, errors.Wrap(err, "mongo: audit payload")
		}
	}
	if at.IsZero() {
		at = time.Now()
	}
	return AuditLog{ID: id, Action: action, Timestamp: at.UTC(), Data: data}, nil
}
