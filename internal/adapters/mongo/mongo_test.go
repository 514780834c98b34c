package mongo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/ticketing"
)

func sampleEvent(id int64, status domain.EventStatus, end time.Time) ticketing.CatalogEvent {
	return ticketing.CatalogEvent{
		Event: domain.Event{
			ID:           id,
			PromoterID:   11,
			Title:        fmt.Sprintf("Event %d", id),
			Venue:        "Lugogo",
			StartDate:    end.Add(-6 * time.Hour),
			EndDate:      end,
			Status:       status,
			PromoterName: "Promo Ter",
		},
		TicketTypes: []domain.TicketType{{
			ID:        id * 10,
			EventID:   id,
			Name:      "Regular",
			Price:     decimal.RequireFromString("25000.50"),
			Quantity:  100,
			Remaining: 40,
			Active:    true,
		}},
	}
}

func TestEventDocRoundTrip(t *testing.T) {
	end := time.Date(2026, 7, 1, 23, 0, 0, 0, time.UTC)
	in := sampleEvent(3, domain.EventPublished, end)

	doc := toEventDoc(in, end)
	assert.Equal(t, "25000.5", doc.TicketTypes[0].Price)

	out, err := fromEventDoc(doc)
	require.NoError(t, err)
	assert.Equal(t, in.Event.Title, out.Event.Title)
	assert.Equal(t, "Promo Ter", out.Event.PromoterName)
	require.Len(t, out.TicketTypes, 1)
	assert.True(t, in.TicketTypes[0].Price.Equal(out.TicketTypes[0].Price))
	assert.Equal(t, int64(3), out.TicketTypes[0].EventID)
}

func TestFromEventDocBadPrice(t *testing.T) {
	_, err := fromEventDoc(EventDoc{ID: 1, TicketTypes: []TicketTypeDoc{{ID: 2, Price: "free"}}})
	assert.Error(t, err)
}

func TestNewAuditLog(t *testing.T) {
	entry, err := newAuditLog("m-1", "purchase.approved", time.Time{}, []byte(`{"purchase_id":7}`))
	require.NoError(t, err)
	assert.Equal(t, "purchase.approved", entry.Action)
	assert.EqualValues(t, 7, entry.Data["purchase_id"])
	assert.False(t, entry.Timestamp.IsZero())

	_, err = newAuditLog("", "x", time.Now(), nil)
	assert.Error(t, err)
	_, err = newAuditLog("m-2", "x", time.Now(), []byte("not json"))
	assert.Error(t, err)
}

func startMongo(t *testing.T) *mongo.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Terminate(ctx) })

	endpoint, err := c.Endpoint(ctx, "mongodb")
	require.NoError(t, err)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(endpoint))
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(ctx) })
	return client.Database("ezt_test")
}

func TestCatalogListAvailable(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()
	cat := NewCatalogRepository(db, observability.NewNopLogger())
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, cat.Upsert(ctx, sampleEvent(1, domain.EventPublished, now.Add(48*time.Hour))))
	require.NoError(t, cat.Upsert(ctx, sampleEvent(2, domain.EventDraft, now.Add(48*time.Hour))))
	require.NoError(t, cat.Upsert(ctx, sampleEvent(3, domain.EventPublished, now.Add(-time.Hour))))

	updated := sampleEvent(1, domain.EventPublished, now.Add(48*time.Hour))
	updated.TicketTypes[0].Remaining = 39
	require.NoError(t, cat.Upsert(ctx, updated))

	got, err := cat.ListAvailable(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].Event.ID)
	assert.Equal(t, 39, got[0].TicketTypes[0].Remaining)
}

func TestAuditRecordIsIdempotent(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()
	audit := NewAuditLogger(db, observability.NewNopLogger())
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, audit.Record(ctx, "m-1", "purchase.created", at, []byte(`{"purchase_id":7}`)))
	require.NoError(t, audit.Record(ctx, "m-1", "purchase.created", at, []byte(`{"purchase_id":7}`)))
	require.NoError(t, audit.Record(ctx, "m-2", "purchase.approved", at.Add(time.Minute), []byte(`{"purchase_id":7}`)))

	hist, err := audit.History(ctx, 7)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "purchase.created", hist[0].Action)
	assert.Equal(t, "purchase.approved", hist[1].Action)
}
