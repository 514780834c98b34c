// Package ticketingtest provides an in-memory ticketing.Store and fakes
// for the other ports. Transactions are serialized on one mutex and work
// on a copy of the state that replaces the original only on commit.
package ticketingtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/ticketing"
)

type link struct {
	purchaseID int64
	attendeeID int64
}

type state struct {
	seq         int64
	events      map[int64]domain.Event
	ticketTypes map[int64]domain.TicketType
	purchases   map[int64]domain.Purchase
	attendees   map[int64]domain.Attendee
	links       []link
	tickets     map[int64]domain.Ticket
	outbox      []ticketing.OutboxMessage
}

func newState() *state {
	return &state{
		events:      map[int64]domain.Event{},
		ticketTypes: map[int64]domain.TicketType{},
		purchases:   map[int64]domain.Purchase{},
		attendees:   map[int64]domain.Attendee{},
		tickets:     map[int64]domain.Ticket{},
	}
}

func (s *state) clone() *state {
	c := &state{
		seq:         s.seq,
		events:      make(map[int64]domain.Event, len(s.events)),
		ticketTypes: make(map[int64]domain.TicketType, len(s.ticketTypes)),
		purchases:   make(map[int64]domain.Purchase, len(s.purchases)),
		attendees:   make(map[int64]domain.Attendee, len(s.attendees)),
		links:       append([]link(nil), s.links...),
		tickets:     make(map[int64]domain.Ticket, len(s.tickets)),
		outbox:      append([]ticketing.OutboxMessage(nil), s.outbox...),
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.ticketTypes {
		c.ticketTypes[k] = v
	}
	for k, v := range s.purchases {
		c.purchases[k] = v
	}
	for k, v := range s.attendees {
		c.attendees[k] = v
	}
	for k, v := range s.tickets {
		c.tickets[k] = v
	}
	return c
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

type Store struct {
	mu sync.Mutex
	st *state

	// FailTx, when set, is returned by the next WithTx after fn succeeds,
	// simulating a failed commit.
	FailTx error
}

func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx ticketing.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(&tx{store: s, st: work}); err != nil {
		return err
	}
	if s.FailTx != nil {
		err := s.FailTx
		s.FailTx = nil
		return err
	}
	s.st = work
	return nil
}

func (s *Store) Queries() ticketing.Tx {
	return &tx{store: s}
}

// Outbox returns the committed outbox messages.
func (s *Store) Outbox() []ticketing.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ticketing.OutboxMessage(nil), s.st.outbox...)
}

// PutTicket stores t as is, bypassing the uniqueness check, to set up
// anomalies.
func (s *Store) PutTicket(t domain.Ticket) domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.st.nextID()
	}
	s.st.tickets[t.ID] = t
	return t
}

// tx operates on st inside WithTx; outside a transaction st is nil and
// every call locks the store and works on the committed state.
type tx struct {
	store *Store
	st    *state
}

func (t *tx) do(fn func(st *state) error) error {
	if t.st != nil {
		return fn(t.st)
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return fn(t.store.st)
}

func (t *tx) InsertEvent(ctx context.Context, ev *domain.Event) error {
	return t.do(func(st *state) error {
		ev.ID = st.nextID()
		st.events[ev.ID] = *ev
		return nil
	})
}

func (t *tx) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	var ev domain.Event
	err := t.do(func(st *state) error {
		var ok bool
		if ev, ok = st.events[id]; !ok {
			return domain.ErrEventNotFound
		}
		return nil
	})
	return ev, err
}

func (t *tx) SetEventStatus(ctx context.Context, id int64, from, to domain.EventStatus) (bool, error) {
	var ok bool
	err := t.do(func(st *state) error {
		ev, found := st.events[id]
		if !found || ev.Status != from {
			return nil
		}
		ev.Status = to
		st.events[id] = ev
		ok = true
		return nil
	})
	return ok, err
}

func (t *tx) ListPublishedEvents(ctx context.Context, endingAfter time.Time) ([]domain.Event, error) {
	var out []domain.Event
	err := t.do(func(st *state) error {
		for _, ev := range st.events {
			if ev.Status == domain.EventPublished && ev.EndDate.After(endingAfter) {
				out = append(out, ev)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, err
}

func (t *tx) ListEventsByPromoter(ctx context.Context, promoterID int64) ([]domain.Event, error) {
	var out []domain.Event
	err := t.do(func(st *state) error {
		for _, ev := range st.events {
			if ev.PromoterID == promoterID {
				out = append(out, ev)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, err
}

func (t *tx) UpdateEvent(ctx context.Context, ev domain.Event) (bool, error) {
	var ok bool
	err := t.do(func(st *state) error {
		cur, found := st.events[ev.ID]
		if !found || cur.Status != ev.Status {
			return nil
		}
		cur.Title = ev.Title
		cur.Description = ev.Description
		cur.Location = ev.Location
		cur.Venue = ev.Venue
		cur.Category = ev.Category
		cur.StartDate = ev.StartDate
		cur.EndDate = ev.EndDate
		cur.MaxCapacity = ev.MaxCapacity
		cur.PromoterPhone = ev.PromoterPhone
		st.events[ev.ID] = cur
		ok = true
		return nil
	})
	return ok, err
}

func (t *tx) InsertTicketType(ctx context.Context, tt *domain.TicketType) error {
	return t.do(func(st *state) error {
		if _, ok := st.events[tt.EventID]; !ok {
			return domain.ErrEventNotFound
		}
		tt.ID = st.nextID()
		st.ticketTypes[tt.ID] = *tt
		return nil
	})
}

func (t *tx) GetTicketType(ctx context.Context, id int64) (domain.TicketType, error) {
	var tt domain.TicketType
	err := t.do(func(st *state) error {
		var ok bool
		if tt, ok = st.ticketTypes[id]; !ok {
			return domain.ErrTicketTypeNotFound
		}
		return nil
	})
	return tt, err
}

func (t *tx) ListTicketTypes(ctx context.Context, eventID int64) ([]domain.TicketType, error) {
	var out []domain.TicketType
	err := t.do(func(st *state) error {
		for _, tt := range st.ticketTypes {
			if tt.EventID == eventID {
				out = append(out, tt)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (t *tx) UpdateTicketType(ctx context.Context, tt domain.TicketType, prevQuantity int) (bool, error) {
	var ok bool
	err := t.do(func(st *state) error {
		cur, found := st.ticketTypes[tt.ID]
		if !found || cur.Quantity != prevQuantity {
			return nil
		}
		if tt.Quantity != cur.Quantity && cur.Remaining != cur.Quantity {
			return nil
		}
		cur.Remaining += tt.Quantity - cur.Quantity
		cur.Quantity = tt.Quantity
		cur.Name = tt.Name
		cur.Description = tt.Description
		cur.Price = tt.Price
		cur.Active = tt.Active
		cur.SaleStart = tt.SaleStart
		cur.SaleEnd = tt.SaleEnd
		st.ticketTypes[tt.ID] = cur
		ok = true
		return nil
	})
	return ok, err
}

func (t *tx) DeleteTicketType(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := t.do(func(st *state) error {
		if _, found := st.ticketTypes[id]; !found {
			return nil
		}
		for _, p := range st.purchases {
			if p.TicketTypeID == id {
				return nil
			}
		}
		delete(st.ticketTypes, id)
		ok = true
		return nil
	})
	return ok, err
}

func (t *tx) DecrementRemaining(ctx context.Context, id int64, n int) (bool, error) {
	var ok bool
	err := t.do(func(st *state) error {
		tt, found := st.ticketTypes[id]
		if !found || tt.Remaining < n {
			return nil
		}
		tt.Remaining -= n
		st.ticketTypes[id] = tt
		ok = true
		return nil
	})
	return ok, err
}

func (t *tx) IncrementRemaining(ctx context.Context, id int64, n int) (bool, error) {
	var ok bool
	err := t.do(func(st *state) error {
		tt, found := st.ticketTypes[id]
		if !found || tt.Remaining+n > tt.Quantity {
			return nil
		}
		tt.Remaining += n
		st.ticketTypes[id] = tt
		ok = true
		return nil
	})
	return ok, err
}

func (t *tx) InsertPurchase(ctx context.Context, p *domain.Purchase) error {
	return t.do(func(st *state) error {
		if _, ok := st.ticketTypes[p.TicketTypeID]; !ok {
			return domain.ErrTicketTypeNotFound
		}
		p.ID = st.nextID()
		st.purchases[p.ID] = *p
		return nil
	})
}

func (t *tx) GetPurchase(ctx context.Context, id int64) (domain.Purchase, error) {
	var p domain.Purchase
	err := t.do(func(st *state) error {
		var ok bool
		if p, ok = st.purchases[id]; !ok {
			return domain.ErrPurchaseNotFound
		}
		return nil
	})
	return p, err
}

func (t *tx) UpdatePurchase(ctx context.Context, p domain.Purchase, from domain.PurchaseStatus) (bool, error) {
	var ok bool
	err := t.do(func(st *state) error {
		cur, found := st.purchases[p.ID]
		if !found || cur.Status != from {
			return nil
		}
		// quantity, total and ticket type are fixed at creation
		p.Quantity = cur.Quantity
		p.TotalAmount = cur.TotalAmount
		p.TicketTypeID = cur.TicketTypeID
		st.purchases[p.ID] = p
		ok = true
		return nil
	})
	return ok, err
}

func (t *tx) ListAwaitingApproval(ctx context.Context, promoterID int64) ([]ticketing.PendingApproval, error) {
	var out []ticketing.PendingApproval
	err := t.do(func(st *state) error {
		for _, p := range st.purchases {
			if !p.AwaitingApproval() {
				continue
			}
			tt := st.ticketTypes[p.TicketTypeID]
			ev := st.events[tt.EventID]
			if ev.PromoterID != promoterID {
				continue
			}
			out = append(out, ticketing.PendingApproval{
				Purchase:       p,
				EventID:        ev.ID,
				EventTitle:     ev.Title,
				TicketTypeName: tt.Name,
			})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Purchase.CreatedAt.After(out[j].Purchase.CreatedAt) })
	return out, err
}

func (t *tx) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Purchase, error) {
	var out []domain.Purchase
	err := t.do(func(st *state) error {
		for _, p := range st.purchases {
			if p.Status == domain.PurchasePending && p.PaymentProofURL == "" && p.CreatedAt.Before(createdBefore) {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (t *tx) NextAttendeeID(ctx context.Context) (int64, error) {
	var id int64
	err := t.do(func(st *state) error {
		id = st.nextID()
		return nil
	})
	return id, err
}

func (t *tx) InsertAttendee(ctx context.Context, a *domain.Attendee) error {
	return t.do(func(st *state) error {
		if a.ID == 0 {
			a.ID = st.nextID()
		}
		if _, dup := st.attendees[a.ID]; dup {
			return errors.Wrapf(domain.ErrConflict, "attendee %d exists", a.ID)
		}
		st.attendees[a.ID] = *a
		return nil
	})
}

func (t *tx) GetAttendee(ctx context.Context, id int64) (domain.Attendee, error) {
	var a domain.Attendee
	err := t.do(func(st *state) error {
		var ok bool
		if a, ok = st.attendees[id]; !ok {
			return errors.Wrapf(domain.ErrNotFound, "attendee %d", id)
		}
		return nil
	})
	return a, err
}

func (t *tx) LinkAttendee(ctx context.Context, purchaseID, attendeeID int64) error {
	return t.do(func(st *state) error {
		for _, l := range st.links {
			if l.purchaseID == purchaseID && l.attendeeID == attendeeID {
				return errors.Wrap(domain.ErrConflict, "attendee already linked")
			}
		}
		st.links = append(st.links, link{purchaseID: purchaseID, attendeeID: attendeeID})
		return nil
	})
}

func (t *tx) ListPurchaseAttendees(ctx context.Context, purchaseID int64) ([]domain.Attendee, error) {
	var out []domain.Attendee
	err := t.do(func(st *state) error {
		for _, l := range st.links {
			if l.purchaseID == purchaseID {
				out = append(out, st.attendees[l.attendeeID])
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (t *tx) InsertTickets(ctx context.Context, tickets []domain.Ticket) error {
	return t.do(func(st *state) error {
		for _, nt := range tickets {
			for _, existing := range st.tickets {
				if existing.PurchaseID == nt.PurchaseID && existing.AttendeeID == nt.AttendeeID {
					return errors.Wrapf(domain.ErrConflict, "ticket for purchase %d attendee %d exists", nt.PurchaseID, nt.AttendeeID)
				}
			}
		}
		for i := range tickets {
			tickets[i].ID = st.nextID()
			st.tickets[tickets[i].ID] = tickets[i]
		}
		return nil
	})
}

func (t *tx) GetTicket(ctx context.Context, id int64) (domain.Ticket, error) {
	var tk domain.Ticket
	err := t.do(func(st *state) error {
		var ok bool
		if tk, ok = st.tickets[id]; !ok {
			return domain.ErrTicketNotFound
		}
		return nil
	})
	return tk, err
}

func (t *tx) FindTickets(ctx context.Context, purchaseID, attendeeID int64) ([]domain.Ticket, error) {
	var out []domain.Ticket
	err := t.do(func(st *state) error {
		for _, tk := range st.tickets {
			if tk.PurchaseID == purchaseID && tk.AttendeeID == attendeeID {
				out = append(out, tk)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (t *tx) ListTickets(ctx context.Context, purchaseID int64) ([]domain.Ticket, error) {
	var out []domain.Ticket
	err := t.do(func(st *state) error {
		for _, tk := range st.tickets {
			if tk.PurchaseID == purchaseID {
				out = append(out, tk)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (t *tx) MarkEntered(ctx context.Context, tk domain.Ticket) (bool, error) {
	return t.markFrom(domain.TicketIssued, tk)
}

func (t *tx) MarkExited(ctx context.Context, tk domain.Ticket) (bool, error) {
	return t.markFrom(domain.TicketEntered, tk)
}

func (t *tx) markFrom(from domain.TicketState, tk domain.Ticket) (bool, error) {
	var ok bool
	err := t.do(func(st *state) error {
		cur, found := st.tickets[tk.ID]
		if !found || cur.State != from {
			return nil
		}
		st.tickets[tk.ID] = tk
		ok = true
		return nil
	})
	return ok, err
}

func (t *tx) InsertOutbox(ctx context.Context, msg ticketing.OutboxMessage) error {
	return t.do(func(st *state) error {
		st.outbox = append(st.outbox, msg)
		return nil
	})
}
