package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/ticketing"
)

// CatalogRepository is the public listing of published events. It is a
// projection of the primary store and may lag it.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("catalog_events"),
		logger: logger,
	}
}

type EventDoc struct {
	ID            int64           `bson:"_id"`
	PromoterID    int64           `bson:"promoter_id"`
	Title         string          `bson:"title"`
	Description   string          `bson:"description"`
	Location      string          `bson:"location"`
	Venue         string          `bson:"venue"`
	Category      string          `bson:"category"`
	StartDate     time.Time       `bson:"start_date"`
	EndDate       time.Time       `bson:"end_date"`
	Status        string          `bson:"status"`
	MaxCapacity   int             `bson:"max_capacity"`
	PromoterName  string          `bson:"promoter_name"`
	PromoterEmail string          `bson:"promoter_email"`
	PromoterPhone string          `bson:"promoter_phone"`
	TicketTypes   []TicketTypeDoc `bson:"ticket_types"`
	CreatedAt     time.Time       `bson:"created_at"`
	UpdatedAt     time.Time       `bson:"updated_at"`
}

// TicketTypeDoc keeps the price as a decimal string so no precision is
// lost in the round trip.
type TicketTypeDoc struct {
	ID          int64     `bson:"id"`
	Name        string    `bson:"name"`
	Description string    `bson:"description"`
	Price       string    `bson:"price"`
	Quantity    int       `bson:"quantity"`
	Remaining   int       `bson:"remaining"`
	SaleStart   time.Time `bson:"sale_start"`
	SaleEnd     time.Time `bson:"sale_end"`
	Active      bool      `bson:"active"`
}

func (c *CatalogRepository) Upsert(ctx context.Context, e ticketing.CatalogEvent) error {
	doc := toEventDoc(e, time.Now().UTC())
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		c.logger.WithError(err).WithField("event_id", doc.ID).Error("failed to upsert catalog event")
		return errors.Wrap(err, "mongo: catalog upsert")
	}
	return nil
}

func (c *CatalogRepository) ListAvailable(ctx context.Context, now time.Time) ([]ticketing.CatalogEvent, error) {
	filter := bson.M{"status": string(domain.EventPublished), "end_date": bson.M{"$gt": now}}
	cur, err := c.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "start_date", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "mongo: catalog find")
	}
	var docs []EventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "mongo: catalog decode")
	}
	out := make([]ticketing.CatalogEvent, 0, len(docs))
	for _, d := range docs {
		ce, err := fromEventDoc(d)
		if err != nil {
			return nil, err
		}
		out = append(out, ce)
	}
	return out, nil
}

func toEventDoc(e ticketing.CatalogEvent, now time.Time) EventDoc {
	ev := e.Event
	doc := EventDoc{
		ID:            ev.ID,
		PromoterID:    ev.PromoterID,
		Title:         ev.Title,
		Description:   ev.Description,
		Location:      ev.Location,
		Venue:         ev.Venue,
		Category:      ev.Category,
		StartDate:     ev.StartDate.UTC(),
		EndDate:       ev.EndDate.UTC(),
		Status:        string(ev.Status),
		MaxCapacity:   ev.MaxCapacity,
		PromoterName:  ev.PromoterName,
		PromoterEmail: ev.PromoterEmail,
		PromoterPhone: ev.PromoterPhone,
		CreatedAt:     ev.CreatedAt.UTC(),
		UpdatedAt:     now,
	}
	for _, tt := range e.TicketTypes {
		doc.TicketTypes = append(doc.TicketTypes, TicketTypeDoc{
			ID:          tt.ID,
			Name:        tt.Name,
			Description: tt.Description,
			Price:       tt.Price.String(),
			Quantity:    tt.Quantity,
			Remaining:   tt.Remaining,
			SaleStart:   tt.SaleStart.UTC(),
			SaleEnd:     tt.SaleEnd.UTC(),
			Active:      tt.Active,
		})
	}
	return doc
}

func fromEventDoc(d EventDoc) (ticketing.CatalogEvent, error) {
	ce := ticketing.CatalogEvent{Event: domain.Event{
		ID:            d.ID,
		PromoterID:    d.PromoterID,
		Title:         d.Title,
		Description:   d.Description,
		Location:      d.Location,
		Venue:         d.Venue,
		Category:      d.Category,
		StartDate:     d.StartDate,
		EndDate:       d.EndDate,
		Status:        domain.EventStatus(d.Status),
		MaxCapacity:   d.MaxCapacity,
		PromoterName:  d.PromoterName,
		PromoterEmail: d.PromoterEmail,
		PromoterPhone: d.PromoterPhone,
		CreatedAt:     d.CreatedAt,
	}}
	for _, t := range d.TicketTypes {
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return ticketing.CatalogEvent{}, errors.Wrapf(err, "mongo: ticket type %d price", t.ID)
		}
		ce.TicketTypes = append(ce.TicketTypes, domain.TicketType{
			ID:          t.ID,
			EventID:     d.ID,
			Name:        t.Name,
			Description: t.Description,
			Price:       price,
			Quantity:    t.Quantity,
			Remaining:   t.Remaining,
			SaleStart:   t.SaleStart,
			SaleEnd:     t.SaleEnd,
			Active:      t.Active,
		})
	}
	return ce, nil
}
