package ticketing

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/robertarktes/event-ticketing/internal/domain"
)

type EventInput struct {
	Title        string
	Description  string
	Location     string
	Venue        string
	Category     string
	StartDate    time.Time
	EndDate      time.Time
	MaxCapacity  int
	ContactPhone string
}

type TicketTypeInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Quantity    int
	SaleStart   time.Time
	SaleEnd     time.Time
}

type TicketTypeSummary struct {
	TicketType domain.TicketType
	Sold       int
	Remaining  int
	Revenue    decimal.Decimal
}

type EventSummary struct {
	Event          domain.Event
	TicketTypes    []TicketTypeSummary
	TotalSold      int
	TotalRemaining int
	TotalRevenue   decimal.Decimal
}

type PromoterContacts struct {
	EventID int64
	Name    string
	Email   string
	Phone   string
}

func (s *Service) CreateEvent(ctx context.Context, actor Actor, in EventInput) (domain.Event, error) {
	ev, err := domain.NewEvent(actor.ID, in.Title, in.StartDate, in.EndDate, in.MaxCapacity, s.now().UTC())
	if err != nil {
		return domain.Event{}, err
	}
	ev.Description = in.Description
	ev.Location = in.Location
	ev.Venue = in.Venue
	ev.Category = in.Category
	ev.PromoterName = actor.Name
	ev.PromoterEmail = actor.Email
	ev.PromoterPhone = in.ContactPhone

	err = s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.InsertEvent(ctx, &ev); err != nil {
			return err
		}
		return writeOutbox(ctx, tx, "event", ev.ID, "event.created", eventMessage(ev))
	})
	if err != nil {
		return domain.Event{}, errors.Wrap(err, "create event")
	}
	s.refreshCatalog(ctx, ev.ID)
	return ev, nil
}

func (s *Service) PublishEvent(ctx context.Context, actor Actor, eventID int64) (domain.Event, error) {
	var ev domain.Event
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		ev, err = ownedEvent(ctx, tx, actor, eventID)
		if err != nil {
			return err
		}
		from := ev.Status
		if err := ev.Publish(); err != nil {
			return err
		}
		ok, err := tx.SetEventStatus(ctx, ev.ID, from, ev.Status)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrap(domain.ErrConflict, "event status changed concurrently")
		}
		return writeOutbox(ctx, tx, "event", ev.ID, "event.published", eventMessage(ev))
	})
	if err != nil {
		return domain.Event{}, err
	}
	s.refreshCatalog(ctx, ev.ID)
	return ev, nil
}

func (s *Service) CreateTicketType(ctx context.Context, actor Actor, eventID int64, in TicketTypeInput) (domain.TicketType, error) {
	var tt domain.TicketType
	err := s.store.WithTx(ctx, func(tx Tx) error {
		ev, err := ownedEvent(ctx, tx, actor, eventID)
		if err != nil {
			return err
		}
		tt, err = domain.NewTicketType(ev, in.Name, in.Price, in.Quantity, in.SaleStart, in.SaleEnd, s.now().UTC())
		if err != nil {
			return err
		}
		tt.Description = in.Description
		return tx.InsertTicketType(ctx, &tt)
	})
	if err != nil {
		return domain.TicketType{}, err
	}
	s.refreshCatalog(ctx, eventID)
	return tt, nil
}

// PromoterEvent is an event as its owner sees it, drafts included.
type PromoterEvent struct {
	Event       domain.Event
	TicketTypes []domain.TicketType
}

// ListPromoterEvents returns the actor's events, newest first.
func (s *Service) ListPromoterEvents(ctx context.Context, actor Actor) ([]domain.Event, error) {
	events, err := s.store.Queries().ListEventsByPromoter(ctx, actor.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list promoter events")
	}
	return events, nil
}

func (s *Service) PromoterEvent(ctx context.Context, actor Actor, eventID int64) (PromoterEvent, error) {
	q := s.store.Queries()
	ev, err := ownedEvent(ctx, q, actor, eventID)
	if err != nil {
		return PromoterEvent{}, err
	}
	types, err := q.ListTicketTypes(ctx, eventID)
	if err != nil {
		return PromoterEvent{}, err
	}
	return PromoterEvent{Event: ev, TicketTypes: types}, nil
}

// UpdateEvent edits a draft or published event. A new start date may not
// fall before the end of any ticket type's sale window.
func (s *Service) UpdateEvent(ctx context.Context, actor Actor, eventID int64, c domain.EventChanges) (domain.Event, error) {
	var ev domain.Event
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		ev, err = ownedEvent(ctx, tx, actor, eventID)
		if err != nil {
			return err
		}
		if err := ev.Apply(c); err != nil {
			return err
		}
		if c.StartDate != nil {
			types, err := tx.ListTicketTypes(ctx, eventID)
			if err != nil {
				return err
			}
			for _, tt := range types {
				if tt.SaleEnd.After(ev.StartDate) {
					return errors.Wrapf(domain.ErrInvalidInput, "ticket type %q sells until after the new start date", tt.Name)
				}
			}
		}
		ok, err := tx.UpdateEvent(ctx, ev)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrap(domain.ErrConflict, "event status changed concurrently")
		}
		return writeOutbox(ctx, tx, "event", ev.ID, "event.updated", eventMessage(ev))
	})
	if err != nil {
		return domain.Event{}, err
	}
	s.refreshCatalog(ctx, ev.ID)
	return ev, nil
}

// UpdateTicketType edits price, availability, description and the sale
// window. Purchases already made keep their total.
func (s *Service) UpdateTicketType(ctx context.Context, actor Actor, ticketTypeID int64, c domain.TicketTypeChanges) (domain.TicketType, error) {
	var tt domain.TicketType
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		tt, err = tx.GetTicketType(ctx, ticketTypeID)
		if err != nil {
			return err
		}
		ev, err := ownedEvent(ctx, tx, actor, tt.EventID)
		if err != nil {
			return err
		}
		prevQuantity := tt.Quantity
		if err := tt.Apply(ev, c); err != nil {
			return err
		}
		ok, err := tx.UpdateTicketType(ctx, tt, prevQuantity)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrap(domain.ErrConflict, "ticket type sold concurrently, quantity is fixed")
		}
		if tt, err = tx.GetTicketType(ctx, ticketTypeID); err != nil {
			return err
		}
		return writeOutbox(ctx, tx, "ticket_type", tt.ID, "ticket_type.updated", ticketTypeMessage(tt))
	})
	if err != nil {
		return domain.TicketType{}, err
	}
	s.refreshCatalog(ctx, tt.EventID)
	return tt, nil
}

// DeleteTicketType removes a ticket type nobody has bought. Types with
// purchases can only be deactivated.
func (s *Service) DeleteTicketType(ctx context.Context, actor Actor, ticketTypeID int64) error {
	var tt domain.TicketType
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		tt, err = tx.GetTicketType(ctx, ticketTypeID)
		if err != nil {
			return err
		}
		if _, err := ownedEvent(ctx, tx, actor, tt.EventID); err != nil {
			return err
		}
		ok, err := tx.DeleteTicketType(ctx, ticketTypeID)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrap(domain.ErrConflict, "ticket type has purchases, deactivate it instead")
		}
		return writeOutbox(ctx, tx, "ticket_type", tt.ID, "ticket_type.deleted", ticketTypeMessage(tt))
	})
	if err != nil {
		return err
	}
	s.refreshCatalog(ctx, tt.EventID)
	return nil
}

// EventSummary reports sales per ticket type for the owning promoter.
func (s *Service) EventSummary(ctx context.Context, actor Actor, eventID int64) (EventSummary, error) {
	q := s.store.Queries()
	ev, err := ownedEvent(ctx, q, actor, eventID)
	if err != nil {
		return EventSummary{}, err
	}
	types, err := q.ListTicketTypes(ctx, eventID)
	if err != nil {
		return EventSummary{}, err
	}
	sum := EventSummary{Event: ev, TotalRevenue: decimal.Zero}
	for _, tt := range types {
		sold := tt.Sold()
		revenue := tt.Price.Mul(decimal.NewFromInt(int64(sold)))
		sum.TicketTypes = append(sum.TicketTypes, TicketTypeSummary{
			TicketType: tt,
			Sold:       sold,
			Remaining:  tt.Remaining,
			Revenue:    revenue,
		})
		sum.TotalSold += sold
		sum.TotalRemaining += tt.Remaining
		sum.TotalRevenue = sum.TotalRevenue.Add(revenue)
	}
	return sum, nil
}

// OnSaleTicketTypes lists the types of a published event that can be
// bought right now.
func (s *Service) OnSaleTicketTypes(ctx context.Context, eventID int64) ([]domain.TicketType, error) {
	q := s.store.Queries()
	if _, err := publishedEvent(ctx, q, eventID); err != nil {
		return nil, err
	}
	types, err := q.ListTicketTypes(ctx, eventID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	onSale := make([]domain.TicketType, 0, len(types))
	for _, tt := range types {
		if tt.OnSale(now) && tt.Remaining > 0 {
			onSale = append(onSale, tt)
		}
	}
	return onSale, nil
}

func (s *Service) PromoterContacts(ctx context.Context, eventID int64) (PromoterContacts, error) {
	ev, err := publishedEvent(ctx, s.store.Queries(), eventID)
	if err != nil {
		return PromoterContacts{}, err
	}
	return PromoterContacts{
		EventID: ev.ID,
		Name:    ev.PromoterName,
		Email:   ev.PromoterEmail,
		Phone:   ev.PromoterPhone,
	}, nil
}

// AvailableEvents lists published events that have not ended. It reads
// the catalog when one is configured.
func (s *Service) AvailableEvents(ctx context.Context) ([]CatalogEvent, error) {
	now := s.now()
	if s.catalog != nil {
		return s.catalog.ListAvailable(ctx, now)
	}
	q := s.store.Queries()
	events, err := q.ListPublishedEvents(ctx, now)
	if err != nil {
		return nil, err
	}
	out := make([]CatalogEvent, 0, len(events))
	for _, ev := range events {
		types, err := q.ListTicketTypes(ctx, ev.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, CatalogEvent{Event: ev, TicketTypes: types})
	}
	return out, nil
}

// refreshCatalog is best effort; the catalog catches up on the next
// change to the event.
func (s *Service) refreshCatalog(ctx context.Context, eventID int64) {
	if s.catalog == nil {
		return
	}
	log := s.logger.WithField("event_id", eventID)
	q := s.store.Queries()
	ev, err := q.GetEvent(ctx, eventID)
	if err != nil {
		log.WithError(err).Warn("catalog refresh: load event")
		return
	}
	types, err := q.ListTicketTypes(ctx, eventID)
	if err != nil {
		log.WithError(err).Warn("catalog refresh: load ticket types")
		return
	}
	if err := s.catalog.Upsert(ctx, CatalogEvent{Event: ev, TicketTypes: types}); err != nil {
		log.WithError(err).Warn("catalog refresh: upsert")
	}
}

func ownedEvent(ctx context.Context, q Tx, actor Actor, eventID int64) (domain.Event, error) {
	ev, err := q.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	if ev.PromoterID != actor.ID {
		return domain.Event{}, errors.Wrapf(domain.ErrForbidden, "event %d belongs to another promoter", eventID)
	}
	return ev, nil
}

// publishedEvent hides drafts behind not-found.
func publishedEvent(ctx context.Context, q Tx, eventID int64) (domain.Event, error) {
	ev, err := q.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	if ev.Status != domain.EventPublished {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return ev, nil
}

type eventPayload struct {
	EventID    int64     `json:"event_id"`
	PromoterID int64     `json:"promoter_id"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
}

func eventMessage(ev domain.Event) eventPayload {
	return eventPayload{
		EventID:    ev.ID,
		PromoterID: ev.PromoterID,
		Title:      ev.Title,
		Status:     string(ev.Status),
		StartDate:  ev.StartDate,
		EndDate:    ev.EndDate,
	}
}

type ticketTypePayload struct {
	TicketTypeID int64           `json:"ticket_type_id"`
	EventID      int64           `json:"event_id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
	Remaining    int             `json:"remaining"`
	Active       bool            `json:"active"`
}

func ticketTypeMessage(tt domain.TicketType) ticketTypePayload {
	return ticketTypePayload{
		TicketTypeID: tt.ID,
		EventID:      tt.EventID,
		Name:         tt.Name,
		Price:        tt.Price,
		Quantity:     tt.Quantity,
		Remaining:    tt.Remaining,
		Active:       tt.Active,
	}
}
