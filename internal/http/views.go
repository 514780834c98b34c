package http

import (
	"time"

	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/ticketing"
)

type eventView struct {
	ID          int64     `json:"id"`
	PromoterID  int64     `json:"promoter_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Venue       string    `json:"venue,omitempty"`
	Category    string    `json:"category,omitempty"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Status      string    `json:"status"`
	MaxCapacity int       `json:"max_capacity"`
}

func toEventView(e domain.Event) eventView {
	return eventView{
		ID:          e.ID,
		PromoterID:  e.PromoterID,
		Title:       e.Title,
		Description: e.Description,
		Location:    e.Location,
		Venue:       e.Venue,
		Category:    e.Category,
		StartDate:   e.StartDate,
		EndDate:     e.EndDate,
		Status:      string(e.Status),
		MaxCapacity: e.MaxCapacity,
	}
}

type ticketTypeView struct {
	ID          int64     `json:"id"`
	EventID     int64     `json:"event_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Price       string    `json:"price"`
	Quantity    int       `json:"quantity"`
	Remaining   int       `json:"remaining"`
	SaleStart   time.Time `json:"sale_start"`
	SaleEnd     time.Time `json:"sale_end"`
	Active      bool      `json:"active"`
}

func toTicketTypeView(t domain.TicketType) ticketTypeView {
	return ticketTypeView{
		ID:          t.ID,
		EventID:     t.EventID,
		Name:        t.Name,
		Description: t.Description,
		Price:       t.Price.StringFixed(2),
		Quantity:    t.Quantity,
		Remaining:   t.Remaining,
		SaleStart:   t.SaleStart,
		SaleEnd:     t.SaleEnd,
		Active:      t.Active,
	}
}

func toTicketTypeViews(types []domain.TicketType) []ticketTypeView {
	out := make([]ticketTypeView, 0, len(types))
	for _, t := range types {
		out = append(out, toTicketTypeView(t))
	}
	return out
}

type catalogEventView struct {
	eventView
	TicketTypes []ticketTypeView `json:"ticket_types"`
}

type purchaseView struct {
	ID                   int64      `json:"id"`
	TicketTypeID         int64      `json:"ticket_type_id"`
	Quantity             int        `json:"quantity"`
	TotalAmount          string     `json:"total_amount"`
	Status               string     `json:"status"`
	IsApproved           bool       `json:"is_approved_by_promoter"`
	PaymentMethod        string     `json:"payment_method,omitempty"`
	TransactionReference string     `json:"transaction_reference,omitempty"`
	PurchaserEmail       string     `json:"purchaser_email"`
	PurchaserPhone       string     `json:"purchaser_phone,omitempty"`
	PaymentProofURL      string     `json:"payment_proof_url,omitempty"`
	ApprovedBy           *int64     `json:"approved_by,omitempty"`
	ApprovalDate         *time.Time `json:"approval_date,omitempty"`
	TicketDocumentURL    string     `json:"ticket_pdf_url,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

func toPurchaseView(p domain.Purchase) purchaseView {
	return purchaseView{
		ID:                   p.ID,
		TicketTypeID:         p.TicketTypeID,
		Quantity:             p.Quantity,
		TotalAmount:          p.TotalAmount.StringFixed(2),
		Status:               string(p.Status),
		IsApproved:           p.Approved(),
		PaymentMethod:        string(p.PaymentMethod),
		TransactionReference: p.TransactionReference,
		PurchaserEmail:       p.PurchaserEmail,
		PurchaserPhone:       p.PurchaserPhone,
		PaymentProofURL:      p.PaymentProofURL,
		ApprovedBy:           p.ApprovedBy,
		ApprovalDate:         p.ApprovalDate,
		TicketDocumentURL:    p.TicketDocumentURL,
		CreatedAt:            p.CreatedAt,
	}
}

type attendeeView struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

func toAttendeeView(a domain.Attendee) attendeeView {
	return attendeeView{ID: a.ID, FirstName: a.FirstName, LastName: a.LastName, Email: a.Email, Phone: a.Phone}
}

type ticketView struct {
	ID          int64      `json:"id"`
	PurchaseID  int64      `json:"purchase_id"`
	AttendeeID  int64      `json:"attendee_id"`
	DocumentURL string     `json:"pdf_file,omitempty"`
	State       string     `json:"state"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
	EntryBy     string     `json:"entry_scanned_by,omitempty"`
	ExitTime    *time.Time `json:"exit_time,omitempty"`
	ExitBy      string     `json:"exit_scanned_by,omitempty"`
	TimeSpent   *float64   `json:"time_spent_seconds,omitempty"`
	ExitReason  string     `json:"exit_reason,omitempty"`
	InjuryNotes string     `json:"injury_notes,omitempty"`
}

func toTicketView(t domain.Ticket) ticketView {
	v := ticketView{
		ID:          t.ID,
		PurchaseID:  t.PurchaseID,
		AttendeeID:  t.AttendeeID,
		DocumentURL: t.DocumentURL,
		State:       string(t.State),
		UsedAt:      t.UsedAt,
		EntryBy:     t.EntryBy,
		ExitTime:    t.ExitTime,
		ExitBy:      t.ExitBy,
		ExitReason:  string(t.ExitReason),
		InjuryNotes: t.InjuryNotes,
	}
	if t.TimeSpent != nil {
		secs := t.TimeSpent.Seconds()
		v.TimeSpent = &secs
	}
	return v
}

func toTicketViews(tickets []domain.Ticket) []ticketView {
	out := make([]ticketView, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, toTicketView(t))
	}
	return out
}

type purchaseDetailView struct {
	Purchase   purchaseView   `json:"purchase"`
	TicketType ticketTypeView `json:"ticket_type"`
	Attendees  []attendeeView `json:"attendees"`
	Tickets    []ticketView   `json:"tickets"`
}

func toPurchaseDetailView(d ticketing.PurchaseDetail) purchaseDetailView {
	v := purchaseDetailView{
		Purchase:   toPurchaseView(d.Purchase),
		TicketType: toTicketTypeView(d.TicketType),
		Attendees:  make([]attendeeView, 0, len(d.Attendees)),
		Tickets:    toTicketViews(d.Tickets),
	}
	for _, a := range d.Attendees {
		v.Attendees = append(v.Attendees, toAttendeeView(a))
	}
	return v
}

type pendingApprovalView struct {
	Purchase       purchaseView `json:"purchase"`
	EventID        int64        `json:"event_id"`
	EventTitle     string       `json:"event_title"`
	TicketTypeName string       `json:"ticket_type_name"`
}

type ticketTypeSummaryView struct {
	TicketType ticketTypeView `json:"ticket_type"`
	Sold       int            `json:"sold"`
	Remaining  int            `json:"remaining"`
	Revenue    string         `json:"revenue"`
}

type eventSummaryView struct {
	Event          eventView               `json:"event"`
	TicketTypes    []ticketTypeSummaryView `json:"ticket_types"`
	TotalSold      int                     `json:"total_sold"`
	TotalRemaining int                     `json:"total_remaining"`
	TotalRevenue   string                  `json:"total_revenue"`
}

func toEventSummaryView(s ticketing.EventSummary) eventSummaryView {
	v := eventSummaryView{
		Event:          toEventView(s.Event),
		TicketTypes:    make([]ticketTypeSummaryView, 0, len(s.TicketTypes)),
		TotalSold:      s.TotalSold,
		TotalRemaining: s.TotalRemaining,
		TotalRevenue:   s.TotalRevenue.StringFixed(2),
	}
	for _, t := range s.TicketTypes {
		v.TicketTypes = append(v.TicketTypes, ticketTypeSummaryView{
			TicketType: toTicketTypeView(t.TicketType),
			Sold:       t.Sold,
			Remaining:  t.Remaining,
			Revenue:    t.Revenue.StringFixed(2),
		})
	}
	return v
}

// scanResponse is the body of every scan reply, accepted or not.
type scanResponse struct {
	Valid      bool        `json:"valid"`
	Reason     string      `json:"reason"`
	Ticket     *ticketView `json:"ticket,omitempty"`
	Attendee   string      `json:"attendee,omitempty"`
	Event      string      `json:"event,omitempty"`
	TicketType string      `json:"ticket_type,omitempty"`
}
