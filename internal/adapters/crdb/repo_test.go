package crdb_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/robertarktes/event-ticketing/internal/adapters/crdb"
	"github.com/robertarktes/event-ticketing/internal/credential"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/ticketdoc"
	"github.com/robertarktes/event-ticketing/internal/ticketing"
	"github.com/robertarktes/event-ticketing/internal/ticketing/ticketingtest"
)

func startCockroach(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { crdbContainer.Terminate(ctx) })

	host, err := crdbContainer.Host(ctx)
	require.NoError(t, err)
	port, err := crdbContainer.MappedPort(ctx, "26257")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgresql://root@%s:%s/defaultdb?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, crdb.Migrate(ctx, pool))
	return pool
}

func seedTicketType(t *testing.T, store *crdb.Store, quantity int) (domain.Event, domain.TicketType) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	ev, err := domain.NewEvent(1, "Integration Night", now.Add(48*time.Hour), now.Add(54*time.Hour), 100, now)
	require.NoError(t, err)
	ev.Status = domain.EventPublished
	var tt domain.TicketType
	err = store.WithTx(ctx, func(tx ticketing.Tx) error {
		if err := tx.InsertEvent(ctx, &ev); err != nil {
			return err
		}
		tt, err = domain.NewTicketType(ev, "Regular", decimal.NewFromInt(1000), quantity, now.Add(-time.Hour), now.Add(24*time.Hour), now)
		if err != nil {
			return err
		}
		return tx.InsertTicketType(ctx, &tt)
	})
	require.NoError(t, err)
	return ev, tt
}

func TestStore_ConcurrentReserve(t *testing.T) {
	pool := startCockroach(t)
	store := crdb.NewStore(crdb.NewRepository(pool))
	_, tt := seedTicketType(t, store, 1)
	ledger := ticketing.NewLedger(nil)

	const buyers = 2
	var wg sync.WaitGroup
	errs := make(chan error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.WithTx(context.Background(), func(tx ticketing.Tx) error {
				return ledger.Reserve(context.Background(), tx, tt.ID, 1)
			})
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrSerializationFailure),
			"unexpected error: %v", err)
	}
	assert.Equal(t, 1, ok, "exactly one reservation")

	got, err := store.Queries().GetTicketType(context.Background(), tt.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Remaining)
}

func TestStore_TicketPairIsUnique(t *testing.T) {
	pool := startCockroach(t)
	store := crdb.NewStore(crdb.NewRepository(pool))
	_, tt := seedTicketType(t, store, 5)
	ctx := context.Background()
	now := time.Now().UTC()

	p, err := domain.NewPurchase(tt, 1, "buyer@example.com", "+256700000000", nil, now)
	require.NoError(t, err)
	a := domain.Attendee{FirstName: "Amina", Email: "amina@example.com"}
	err = store.WithTx(ctx, func(tx ticketing.Tx) error {
		if err := tx.InsertPurchase(ctx, &p); err != nil {
			return err
		}
		if err := tx.InsertAttendee(ctx, &a); err != nil {
			return err
		}
		return tx.InsertTickets(ctx, []domain.Ticket{{PurchaseID: p.ID, AttendeeID: a.ID, State: domain.TicketIssued, CreatedAt: now}})
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx ticketing.Tx) error {
		return tx.InsertTickets(ctx, []domain.Ticket{{PurchaseID: p.ID, AttendeeID: a.ID, State: domain.TicketIssued, CreatedAt: now}})
	})
	assert.True(t, errors.Is(err, domain.ErrConflict), "got %v", err)
}

func TestStore_TicketTypeEdits(t *testing.T) {
	pool := startCockroach(t)
	store := crdb.NewStore(crdb.NewRepository(pool))
	ev, tt := seedTicketType(t, store, 5)
	ctx := context.Background()
	q := store.Queries()

	grown := tt
	grown.Quantity = 8
	ok, err := q.UpdateTicketType(ctx, grown, tt.Quantity)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := q.GetTicketType(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, got.Quantity)
	assert.Equal(t, 8, got.Remaining)

	ok, err = q.DecrementRemaining(ctx, tt.ID, 2)
	require.NoError(t, err)
	require.True(t, ok)

	// once sold, quantity is fixed but the price may change
	grown.Quantity = 20
	ok, err = q.UpdateTicketType(ctx, grown, 8)
	require.NoError(t, err)
	assert.False(t, ok)

	repriced := got
	repriced.Price = decimal.NewFromInt(1500)
	repriced.Active = false
	ok, err = q.UpdateTicketType(ctx, repriced, 8)
	require.NoError(t, err)
	require.True(t, ok)
	got, err = q.GetTicketType(ctx, tt.ID)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(1500)))
	assert.False(t, got.Active)
	assert.Equal(t, 8, got.Quantity)
	assert.Equal(t, 6, got.Remaining)

	// a stale quantity means someone else changed it first
	ok, err = q.UpdateTicketType(ctx, repriced, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	p, err := domain.NewPurchase(got, 2, "buyer@example.com", "+256700000000", nil, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, q.InsertPurchase(ctx, &p))
	ok, err = q.DeleteTicketType(ctx, tt.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	var spare domain.TicketType
	err = store.WithTx(ctx, func(tx ticketing.Tx) error {
		spare, err = domain.NewTicketType(ev, "Spare", decimal.Zero, 3, tt.SaleStart, tt.SaleEnd, time.Now().UTC())
		if err != nil {
			return err
		}
		return tx.InsertTicketType(ctx, &spare)
	})
	require.NoError(t, err)
	ok, err = q.DeleteTicketType(ctx, spare.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = q.GetTicketType(ctx, spare.ID)
	assert.True(t, errors.Is(err, domain.ErrTicketTypeNotFound), "got %v", err)
}

func TestStore_PromoterEvents(t *testing.T) {
	pool := startCockroach(t)
	store := crdb.NewStore(crdb.NewRepository(pool))
	ev, _ := seedTicketType(t, store, 5)
	ctx := context.Background()
	q := store.Queries()

	events, err := q.ListEventsByPromoter(ctx, ev.PromoterID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev.ID, events[0].ID)

	events, err = q.ListEventsByPromoter(ctx, ev.PromoterID+1)
	require.NoError(t, err)
	assert.Empty(t, events)

	edited := ev
	edited.Venue = "Lugogo Grounds"
	edited.MaxCapacity = 250
	ok, err := q.UpdateEvent(ctx, edited)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := q.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lugogo Grounds", got.Venue)
	assert.Equal(t, 250, got.MaxCapacity)

	edited.Status = domain.EventDraft
	ok, err = q.UpdateEvent(ctx, edited)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ApproveAndScan(t *testing.T) {
	pool := startCockroach(t)
	store := crdb.NewStore(crdb.NewRepository(pool))
	ev, tt := seedTicketType(t, store, 5)
	ctx := context.Background()

	codec, err := credential.NewCodec([]byte("integration-credential-secret"))
	require.NoError(t, err)
	files := ticketingtest.NewFiles()
	svc := ticketing.NewService(ticketing.Deps{
		Store:     store,
		Files:     files,
		Codec:     codec,
		Documents: ticketdoc.NewRenderer(),
	})

	p, err := svc.CreatePurchase(ctx, ticketing.PurchaseInput{
		TicketTypeID:   tt.ID,
		Quantity:       1,
		PurchaserEmail: "buyer@example.com",
		PurchaserPhone: "+256700000000",
	})
	require.NoError(t, err)
	assert.True(t, p.TotalAmount.Equal(decimal.NewFromInt(1000)), "total %s", p.TotalAmount)

	promoter := ticketing.Actor{ID: ev.PromoterID, Name: "Promo Ter"}
	res, err := svc.Approve(ctx, promoter, p.ID)
	require.NoError(t, err)
	require.Len(t, res.Tickets, 1)
	_, err = svc.Approve(ctx, promoter, p.ID)
	assert.True(t, errors.Is(err, domain.ErrAlreadyApproved), "got %v", err)

	tk := res.Tickets[0]
	cred, err := codec.Render(credential.Payload{PurchaseID: tk.PurchaseID, AttendeeID: tk.AttendeeID})
	require.NoError(t, err)
	// sub-microsecond parts are dropped before anything is stored
	entryAt := ev.StartDate.Add(time.Hour + 700*time.Nanosecond)
	val := ticketing.NewValidator(store, codec, nil, nil).WithClock(func() time.Time { return entryAt })

	_, err = val.ScanExit(ctx, cred, "gate-1", domain.ExitNormal, "")
	assert.True(t, errors.Is(err, domain.ErrNotYetEntered), "got %v", err)
	entry, err := val.ScanEntry(ctx, cred, "gate-1")
	require.NoError(t, err)
	assert.Equal(t, "Guest", entry.Attendee.FirstName)
	_, err = val.ScanEntry(ctx, cred, "gate-2")
	assert.True(t, errors.Is(err, domain.ErrAlreadyUsed), "got %v", err)

	val.WithClock(func() time.Time { return ev.StartDate.Add(3*time.Hour + 300*time.Nanosecond) })
	exit, err := val.ScanExit(ctx, cred, "gate-1", domain.ExitInjured, "sprained wrist")
	require.NoError(t, err)
	require.NotNil(t, exit.Ticket.TimeSpent)
	assert.Equal(t, 2*time.Hour, *exit.Ticket.TimeSpent)

	stored, err := store.Queries().GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketExited, stored.State)
	assert.Equal(t, domain.ExitInjured, stored.ExitReason)
	require.NotNil(t, stored.TimeSpent)
	assert.Equal(t, stored.ExitTime.Sub(*stored.UsedAt), *stored.TimeSpent)
}
