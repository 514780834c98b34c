package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventPublished EventStatus = "published"
	EventCancelled EventStatus = "cancelled"
	EventCompleted EventStatus = "completed"
)

type Event struct {
	ID          int64
	PromoterID  int64
	Title       string
	Description string
	Location    string
	Venue       string
	Category    string
	StartDate   time.Time
	EndDate     time.Time
	Status      EventStatus
	MaxCapacity int
	CreatedAt   time.Time

	// Contact details shown to buyers; captured from the promoter's
	// account when the event is created.
	PromoterName  string
	PromoterEmail string
	PromoterPhone string
}

// Ended reports whether the event's end date lies before now.
func (e Event) Ended(now time.Time) bool {
	return e.EndDate.Before(now)
}

type TicketType struct {
	ID          int64
	EventID     int64
	Name        string
	Description string
	Price       decimal.Decimal
	Quantity    int
	Remaining   int
	SaleStart   time.Time
	SaleEnd     time.Time
	Active      bool
	CreatedAt   time.Time
}

func (t TicketType) OnSale(now time.Time) bool {
	return t.Active && !now.Before(t.SaleStart) && !now.After(t.SaleEnd)
}

func (t TicketType) Sold() int {
	return t.Quantity - t.Remaining
}

type Attendee struct {
	ID        int64
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

func (a Attendee) FullName() string {
	if a.LastName == "" {
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}

// GuestAttendee builds the single attendee issued for a purchase that
// named nobody.
func GuestAttendee(id int64, email, phone string) Attendee {
	return Attendee{ID: id, FirstName: "Guest", Email: email, Phone: phone}
}

type Purchase struct {
	ID                   int64
	TicketTypeID         int64
	UserID               *int64
	Quantity             int
	TotalAmount          decimal.Decimal
	Status               PurchaseStatus
	PaymentMethod        PaymentMethod
	TransactionReference string
	PurchaserEmail       string
	PurchaserPhone       string
	PaymentProofURL      string
	ApprovedBy           *int64
	ApprovalDate         *time.Time
	TicketDocumentURL    string
	CreatedAt            time.Time
}

// Approved mirrors the promoter-approval flag: a purchase is approved
// exactly when it reached the completed state through approval.
func (p Purchase) Approved() bool {
	return p.Status == PurchaseCompleted && p.ApprovalDate != nil
}

// AwaitingApproval reports whether the purchase belongs in the
// promoter's approval queue.
func (p Purchase) AwaitingApproval() bool {
	return p.Status == PurchasePending && p.PaymentProofURL != ""
}

type Ticket struct {
	ID          int64
	PurchaseID  int64
	AttendeeID  int64
	DocumentURL string
	State       TicketState
	UsedAt      *time.Time
	EntryBy     string
	ExitTime    *time.Time
	ExitBy      string
	TimeSpent   *time.Duration
	ExitReason  ExitReason
	InjuryNotes string
	CreatedAt   time.Time
}

// IsUsed is the entry flag.
func (t Ticket) IsUsed() bool {
	return t.UsedAt != nil
}
