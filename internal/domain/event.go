package domain

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

func NewEvent(promoterID int64, title string, start, end time.Time, maxCapacity int, now time.Time) (Event, error) {
	if title == "" {
		return Event{}, errors.Wrap(ErrInvalidInput, "title is required")
	}
	if !start.Before(end) {
		return Event{}, errors.Wrap(ErrInvalidInput, "event must end after it starts")
	}
	return Event{
		PromoterID:  promoterID,
		Title:       title,
		StartDate:   start,
		EndDate:     end,
		Status:      EventDraft,
		MaxCapacity: maxCapacity,
		CreatedAt:   now,
	}, nil
}

func (e *Event) Publish() error {
	if e.Status != EventDraft {
		return errors.Wrapf(ErrInvalidTransition, "cannot publish a %s event", e.Status)
	}
	e.Status = EventPublished
	return nil
}

// NewTicketType validates the sale window against the event; remaining
// starts equal to quantity.
func NewTicketType(ev Event, name string, price decimal.Decimal, quantity int, saleStart, saleEnd time.Time, now time.Time) (TicketType, error) {
	if name == "" {
		return TicketType{}, errors.Wrap(ErrInvalidInput, "name is required")
	}
	if price.IsNegative() {
		return TicketType{}, errors.Wrap(ErrInvalidInput, "price must not be negative")
	}
	if quantity < 1 {
		return TicketType{}, errors.Wrap(ErrInvalidInput, "quantity must be at least 1")
	}
	if !saleStart.Before(saleEnd) {
		return TicketType{}, errors.Wrap(ErrInvalidInput, "sale end date must be after start date")
	}
	if saleEnd.After(ev.StartDate) {
		return TicketType{}, errors.Wrap(ErrInvalidInput, "ticket sales must end before event starts")
	}
	return TicketType{
		EventID:   ev.ID,
		Name:      name,
		Price:     price,
		Quantity:  quantity,
		Remaining: quantity,
		SaleStart: saleStart,
		SaleEnd:   saleEnd,
		Active:    true,
		CreatedAt: now,
	}, nil
}

// EventChanges carries the fields a promoter may edit. Nil means keep.
type EventChanges struct {
	Title        *string
	Description  *string
	Location     *string
	Venue        *string
	Category     *string
	ContactPhone *string
	StartDate    *time.Time
	EndDate      *time.Time
	MaxCapacity  *int
}

// Apply edits a draft or published event. Nothing changes on error.
func (e *Event) Apply(c EventChanges) error {
	if e.Status != EventDraft && e.Status != EventPublished {
		return errors.Wrapf(ErrInvalidTransition, "cannot edit a %s event", e.Status)
	}
	next := *e
	setString(&next.Title, c.Title)
	setString(&next.Description, c.Description)
	setString(&next.Location, c.Location)
	setString(&next.Venue, c.Venue)
	setString(&next.Category, c.Category)
	setString(&next.PromoterPhone, c.ContactPhone)
	if c.StartDate != nil {
		next.StartDate = *c.StartDate
	}
	if c.EndDate != nil {
		next.EndDate = *c.EndDate
	}
	if c.MaxCapacity != nil {
		next.MaxCapacity = *c.MaxCapacity
	}

	if strings.TrimSpace(next.Title) == "" {
		return errors.Wrap(ErrInvalidInput, "title is required")
	}
	if !next.StartDate.Before(next.EndDate) {
		return errors.Wrap(ErrInvalidInput, "event must end after it starts")
	}
	if next.MaxCapacity < 0 {
		return errors.Wrap(ErrInvalidInput, "max capacity must not be negative")
	}
	*e = next
	return nil
}

// TicketTypeChanges carries the editable ticket type fields. Nil means keep.
type TicketTypeChanges struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Quantity    *int
	Active      *bool
	SaleStart   *time.Time
	SaleEnd     *time.Time
}

// Apply edits t against its event. Quantity can only change while nothing
// is sold, and remaining follows it. Existing purchases keep the total they
// were priced at.
func (t *TicketType) Apply(ev Event, c TicketTypeChanges) error {
	next := *t
	setString(&next.Name, c.Name)
	setString(&next.Description, c.Description)
	if c.Price != nil {
		next.Price = *c.Price
	}
	if c.Active != nil {
		next.Active = *c.Active
	}
	if c.SaleStart != nil {
		next.SaleStart = *c.SaleStart
	}
	if c.SaleEnd != nil {
		next.SaleEnd = *c.SaleEnd
	}
	if c.Quantity != nil && *c.Quantity != t.Quantity {
		if t.Sold() > 0 {
			return errors.Wrapf(ErrConflict, "%d tickets already sold, quantity is fixed", t.Sold())
		}
		if *c.Quantity < 1 {
			return errors.Wrap(ErrInvalidInput, "quantity must be at least 1")
		}
		next.Quantity = *c.Quantity
		next.Remaining = *c.Quantity
	}

	if strings.TrimSpace(next.Name) == "" {
		return errors.Wrap(ErrInvalidInput, "name is required")
	}
	if next.Price.IsNegative() {
		return errors.Wrap(ErrInvalidInput, "price must not be negative")
	}
	if !next.SaleStart.Before(next.SaleEnd) {
		return errors.Wrap(ErrInvalidInput, "sale end date must be after start date")
	}
	if next.SaleEnd.After(ev.StartDate) {
		return errors.Wrap(ErrInvalidInput, "ticket sales must end before event starts")
	}
	*t = next
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}
