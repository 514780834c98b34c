package ticketing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/robertarktes/event-ticketing/internal/credential"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/ticketdoc"
)

// Store is the primary persistent store. WithTx runs fn in one
// serializable transaction; Queries runs each call on its own.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Queries() Tx
}

// Tx is the set of operations the core performs against the store.
// Methods returning (bool, error) are conditional writes: false means the
// row was not in the expected state and nothing changed.
type Tx interface {
	InsertEvent(ctx context.Context, ev *domain.Event) error
	GetEvent(ctx context.Context, id int64) (domain.Event, error)
	SetEventStatus(ctx context.Context, id int64, from, to domain.EventStatus) (bool, error)
	ListPublishedEvents(ctx context.Context, endingAfter time.Time) ([]domain.Event, error)
	ListEventsByPromoter(ctx context.Context, promoterID int64) ([]domain.Event, error)
	// UpdateEvent writes the editable columns only if the status is unchanged.
	UpdateEvent(ctx context.Context, ev domain.Event) (bool, error)

	InsertTicketType(ctx context.Context, tt *domain.TicketType) error
	GetTicketType(ctx context.Context, id int64) (domain.TicketType, error)
	ListTicketTypes(ctx context.Context, eventID int64) ([]domain.TicketType, error)
	// UpdateTicketType writes tt only if the stored quantity is still
	// prevQuantity. A quantity change also requires nothing sold; remaining
	// moves by the same delta.
	UpdateTicketType(ctx context.Context, tt domain.TicketType, prevQuantity int) (bool, error)
	// DeleteTicketType removes the row only if no purchase references it.
	DeleteTicketType(ctx context.Context, id int64) (bool, error)
	// DecrementRemaining succeeds only when remaining >= n.
	DecrementRemaining(ctx context.Context, ticketTypeID int64, n int) (bool, error)
	// IncrementRemaining succeeds only when remaining+n <= quantity.
	IncrementRemaining(ctx context.Context, ticketTypeID int64, n int) (bool, error)

	InsertPurchase(ctx context.Context, p *domain.Purchase) error
	GetPurchase(ctx context.Context, id int64) (domain.Purchase, error)
	// UpdatePurchase writes p only if the stored status is still from.
	UpdatePurchase(ctx context.Context, p domain.Purchase, from domain.PurchaseStatus) (bool, error)
	ListAwaitingApproval(ctx context.Context, promoterID int64) ([]PendingApproval, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Purchase, error)

	NextAttendeeID(ctx context.Context) (int64, error)
	// InsertAttendee keeps a preassigned ID, otherwise assigns one.
	InsertAttendee(ctx context.Context, a *domain.Attendee) error
	GetAttendee(ctx context.Context, id int64) (domain.Attendee, error)
	LinkAttendee(ctx context.Context, purchaseID, attendeeID int64) error
	ListPurchaseAttendees(ctx context.Context, purchaseID int64) ([]domain.Attendee, error)

	// InsertTickets fails with domain.ErrConflict if any (purchase,
	// attendee) pair already holds a ticket.
	InsertTickets(ctx context.Context, tickets []domain.Ticket) error
	GetTicket(ctx context.Context, id int64) (domain.Ticket, error)
	// FindTickets returns every ticket for the pair, lowest id first.
	FindTickets(ctx context.Context, purchaseID, attendeeID int64) ([]domain.Ticket, error)
	ListTickets(ctx context.Context, purchaseID int64) ([]domain.Ticket, error)
	// MarkEntered records the entry only if the ticket is still issued.
	MarkEntered(ctx context.Context, t domain.Ticket) (bool, error)
	// MarkExited records the exit only if the ticket is entered.
	MarkExited(ctx context.Context, t domain.Ticket) (bool, error)

	InsertOutbox(ctx context.Context, msg OutboxMessage) error
}

// OutboxMessage is written in the same transaction as the change it
// announces and relayed to the broker later.
type OutboxMessage struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type PendingApproval struct {
	Purchase       domain.Purchase
	EventID        int64
	EventTitle     string
	TicketTypeName string
}

// FileStore turns bytes into a public URL.
type FileStore interface {
	Store(ctx context.Context, data []byte, contentType string) (string, error)
}

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Notification struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type ExitAlert struct {
	TicketID    int64     `json:"ticket_id"`
	EventID     int64     `json:"event_id"`
	EventTitle  string    `json:"event_title"`
	Attendee    string    `json:"attendee"`
	Reason      string    `json:"reason"`
	InjuryNotes string    `json:"injury_notes,omitempty"`
	Scanner     string    `json:"scanner"`
	At          time.Time `json:"at"`
}

type Alerter interface {
	Alert(ctx context.Context, a ExitAlert) error
}

// Locker is a best-effort mutual exclusion; correctness never depends
// on it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Catalog is the public read model of published events.
type Catalog interface {
	Upsert(ctx context.Context, e CatalogEvent) error
	ListAvailable(ctx context.Context, now time.Time) ([]CatalogEvent, error)
}

type CatalogEvent struct {
	Event       domain.Event
	TicketTypes []domain.TicketType
}

type CredentialCodec interface {
	Render(p credential.Payload) (string, error)
	Parse(s string) (credential.Payload, error)
}

type DocumentRenderer interface {
	Render(t ticketdoc.Ticket) ([]byte, error)
}

// Actor is the authenticated caller.
type Actor struct {
	ID    int64
	Name  string
	Email string
}
