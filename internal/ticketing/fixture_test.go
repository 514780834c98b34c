package ticketing_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/robertarktes/event-ticketing/internal/credential"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/ticketdoc"
	"github.com/robertarktes/event-ticketing/internal/ticketing"
	"github.com/robertarktes/event-ticketing/internal/ticketing/ticketingtest"
)

var (
	promoter = ticketing.Actor{ID: 11, Name: "Promo Ter", Email: "promo@example.com"}
	stranger = ticketing.Actor{ID: 99, Name: "Someone Else"}
	buyer    = ticketing.Viewer{Email: "buyer@example.com"}
	t0       = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
)

type fixture struct {
	store    *ticketingtest.Store
	files    *ticketingtest.Files
	notifier *ticketingtest.Notifier
	alerter  *ticketingtest.Alerter
	locker   *ticketingtest.Locker
	codec    *credential.Codec
	svc      *ticketing.Service
	val      *ticketing.Validator
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := credential.NewCodec([]byte("fixture-credential-secret"))
	require.NoError(t, err)

	f := &fixture{
		store:    ticketingtest.NewStore(),
		files:    ticketingtest.NewFiles(),
		notifier: &ticketingtest.Notifier{},
		alerter:  &ticketingtest.Alerter{},
		locker:   ticketingtest.NewLocker(),
		codec:    codec,
		now:      t0,
	}
	clock := func() time.Time { return f.now }
	f.svc = ticketing.NewService(ticketing.Deps{
		Store:     f.store,
		Files:     f.files,
		Notifier:  f.notifier,
		Codec:     codec,
		Documents: ticketdoc.NewRenderer(),
		Locker:    f.locker,
		Now:       clock,
	})
	f.val = ticketing.NewValidator(f.store, codec, f.alerter, nil).WithClock(clock)
	return f
}

// seed creates a published event starting ten days out with one ticket
// type on sale now.
func (f *fixture) seed(t *testing.T, quantity int, price string) (domain.Event, domain.TicketType) {
	t.Helper()
	ctx := context.Background()
	start := t0.Add(10 * 24 * time.Hour)
	ev, err := f.svc.CreateEvent(ctx, promoter, ticketing.EventInput{
		Title:        "Kampala Jazz Night",
		Venue:        "Serena Gardens",
		Location:     "Kampala",
		StartDate:    start,
		EndDate:      start.Add(6 * time.Hour),
		MaxCapacity:  500,
		ContactPhone: "+256700000001",
	})
	require.NoError(t, err)
	ev, err = f.svc.PublishEvent(ctx, promoter, ev.ID)
	require.NoError(t, err)

	tt, err := f.svc.CreateTicketType(ctx, promoter, ev.ID, ticketing.TicketTypeInput{
		Name:      "Regular",
		Price:     decimal.RequireFromString(price),
		Quantity:  quantity,
		SaleStart: t0.Add(-24 * time.Hour),
		SaleEnd:   start.Add(-time.Hour),
	})
	require.NoError(t, err)
	return ev, tt
}

func (f *fixture) buy(t *testing.T, tt domain.TicketType, quantity int, attendees ...ticketing.AttendeeInput) domain.Purchase {
	t.Helper()
	p, err := f.svc.CreatePurchase(context.Background(), ticketing.PurchaseInput{
		TicketTypeID:   tt.ID,
		Quantity:       quantity,
		PurchaserEmail: "buyer@example.com",
		PurchaserPhone: "+256700000002",
		Attendees:      attendees,
	})
	require.NoError(t, err)
	return p
}

// approved runs a purchase through proof and approval and returns the
// credential of its first ticket.
func (f *fixture) approved(t *testing.T, tt domain.TicketType) (ticketing.ApprovalResult, string) {
	t.Helper()
	ctx := context.Background()
	p := f.buy(t, tt, 1)
	_, err := f.svc.SubmitProof(ctx, p.ID, "https://files.test/proof.png")
	require.NoError(t, err)
	res, err := f.svc.Approve(ctx, promoter, p.ID)
	require.NoError(t, err)
	require.Len(t, res.Tickets, 1)
	return res, f.credentialFor(t, res.Tickets[0])
}

func (f *fixture) credentialFor(t *testing.T, tk domain.Ticket) string {
	t.Helper()
	s, err := f.codec.Render(credential.Payload{PurchaseID: tk.PurchaseID, AttendeeID: tk.AttendeeID})
	require.NoError(t, err)
	return s
}

func (f *fixture) outboxTypes() []string {
	var types []string
	for _, m := range f.store.Outbox() {
		types = append(types, m.EventType)
	}
	return types
}

func nopLogger() observability.Logger {
	return observability.NewNopLogger()
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
