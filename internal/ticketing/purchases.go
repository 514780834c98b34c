package ticketing

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

type AttendeeInput struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

type PurchaseInput struct {
	TicketTypeID   int64
	Quantity       int
	PurchaserEmail string
	PurchaserPhone string
	PaymentMethod  string
	UserID         *int64
	Attendees      []AttendeeInput
}

type PurchaseDetail struct {
	Purchase   domain.Purchase
	TicketType domain.TicketType
	Attendees  []domain.Attendee
	Tickets    []domain.Ticket
}

// CreatePurchase reserves stock and records the pending purchase with its
// attendees in one transaction. Nothing is persisted when the
// reservation fails.
func (s *Service) CreatePurchase(ctx context.Context, in PurchaseInput) (domain.Purchase, error) {
	if len(in.Attendees) > in.Quantity {
		return domain.Purchase{}, errors.Wrapf(domain.ErrInvalidInput, "%d attendees for %d tickets", len(in.Attendees), in.Quantity)
	}
	attendees := make([]domain.Attendee, 0, len(in.Attendees))
	for i, a := range in.Attendees {
		if strings.TrimSpace(a.FirstName) == "" || a.Email == "" {
			return domain.Purchase{}, errors.Wrapf(domain.ErrInvalidInput, "attendee %d needs a first name and email", i+1)
		}
		attendees = append(attendees, domain.Attendee{
			FirstName: strings.TrimSpace(a.FirstName),
			LastName:  strings.TrimSpace(a.LastName),
			Email:     a.Email,
			Phone:     a.Phone,
		})
	}
	var method domain.PaymentMethod
	if in.PaymentMethod != "" {
		m, err := domain.ParsePaymentMethod(in.PaymentMethod)
		if err != nil {
			return domain.Purchase{}, err
		}
		method = m
	}

	now := s.now().UTC()
	var p domain.Purchase
	err := s.store.WithTx(ctx, func(tx Tx) error {
		tt, err := tx.GetTicketType(ctx, in.TicketTypeID)
		if err != nil {
			return err
		}
		if !tt.OnSale(now) {
			return errors.Wrapf(domain.ErrSaleClosed, "ticket type %d", tt.ID)
		}
		p, err = domain.NewPurchase(tt, in.Quantity, in.PurchaserEmail, in.PurchaserPhone, in.UserID, now)
		if err != nil {
			return err
		}
		p.PaymentMethod = method

		if err := s.ledger.Reserve(ctx, tx, tt.ID, p.Quantity); err != nil {
			return err
		}
		if err := tx.InsertPurchase(ctx, &p); err != nil {
			return err
		}
		for i := range attendees {
			if err := tx.InsertAttendee(ctx, &attendees[i]); err != nil {
				return err
			}
			if err := tx.LinkAttendee(ctx, p.ID, attendees[i].ID); err != nil {
				return err
			}
		}
		return writeOutbox(ctx, tx, "purchase", p.ID, "purchase.created", s.purchaseMessage(p, nil, ""))
	})
	if err != nil {
		return domain.Purchase{}, err
	}
	observability.PurchasesCreated.Inc()
	s.logger.WithFields(map[string]interface{}{
		"purchase_id":    p.ID,
		"ticket_type_id": p.TicketTypeID,
		"quantity":       p.Quantity,
	}).Info("purchase created")
	return p, nil
}

// InitiatePayment picks the provider and issues a fresh transaction
// reference. The purchase stays pending.
func (s *Service) InitiatePayment(ctx context.Context, purchaseID int64, method string) (domain.Purchase, error) {
	m, err := domain.ParsePaymentMethod(method)
	if err != nil {
		return domain.Purchase{}, err
	}
	return s.transition(ctx, purchaseID, "purchase.payment_initiated", func(p *domain.Purchase) error {
		return p.InitiatePayment(m)
	})
}

// SubmitProof attaches a payment proof URL, which places the purchase in
// the promoter's approval queue.
func (s *Service) SubmitProof(ctx context.Context, purchaseID int64, proofURL string) (domain.Purchase, error) {
	return s.transition(ctx, purchaseID, "purchase.proof_submitted", func(p *domain.Purchase) error {
		return p.AttachProof(proofURL)
	})
}

// UploadProof stores the proof image and then attaches it. The purchase is
// checked first so closed purchases do not leave uploads behind.
func (s *Service) UploadProof(ctx context.Context, purchaseID int64, data []byte, contentType string) (domain.Purchase, error) {
	p, err := s.store.Queries().GetPurchase(ctx, purchaseID)
	if err != nil {
		return domain.Purchase{}, err
	}
	if _, err := p.Status.Next(domain.ActionSubmitProof); err != nil {
		return domain.Purchase{}, err
	}
	if len(data) == 0 {
		return domain.Purchase{}, errors.Wrap(domain.ErrInvalidInput, "payment proof is empty")
	}
	url, err := s.files.Store(ctx, data, contentType)
	if err != nil {
		return domain.Purchase{}, errors.Mark(errors.Wrap(err, "store payment proof"), domain.ErrStorageFailure)
	}
	return s.SubmitProof(ctx, purchaseID, url)
}

// Viewer identifies who is asking for a purchase: a signed-in user, the
// purchaser's email, or both.
type Viewer struct {
	Actor *Actor
	Email string
}

// canSee reports whether v may read p. The buyer account, the promoter of
// the event and anyone quoting the purchaser email qualify.
func (v Viewer) canSee(p domain.Purchase, ev domain.Event) bool {
	if v.Actor != nil {
		if p.UserID != nil && *p.UserID == v.Actor.ID {
			return true
		}
		if ev.PromoterID == v.Actor.ID {
			return true
		}
	}
	email := strings.TrimSpace(v.Email)
	return email != "" && strings.EqualFold(email, p.PurchaserEmail)
}

// GetPurchase returns the purchase with its attendees and tickets. A
// viewer who may not see it gets domain.ErrPurchaseNotFound, the same as
// for an id that does not exist.
func (s *Service) GetPurchase(ctx context.Context, purchaseID int64, viewer Viewer) (PurchaseDetail, error) {
	q := s.store.Queries()
	p, err := q.GetPurchase(ctx, purchaseID)
	if err != nil {
		return PurchaseDetail{}, err
	}
	tt, err := q.GetTicketType(ctx, p.TicketTypeID)
	if err != nil {
		return PurchaseDetail{}, err
	}
	ev, err := q.GetEvent(ctx, tt.EventID)
	if err != nil {
		return PurchaseDetail{}, err
	}
	if !viewer.canSee(p, ev) {
		return PurchaseDetail{}, domain.ErrPurchaseNotFound
	}
	attendees, err := q.ListPurchaseAttendees(ctx, p.ID)
	if err != nil {
		return PurchaseDetail{}, err
	}
	tickets, err := q.ListTickets(ctx, p.ID)
	if err != nil {
		return PurchaseDetail{}, err
	}
	return PurchaseDetail{Purchase: p, TicketType: tt, Attendees: attendees, Tickets: tickets}, nil
}

// PendingApprovals is the promoter's queue: pending purchases with a
// proof, for events the promoter owns.
func (s *Service) PendingApprovals(ctx context.Context, actor Actor) ([]PendingApproval, error) {
	return s.store.Queries().ListAwaitingApproval(ctx, actor.ID)
}

// StalePurchases lists pending purchases created more than olderThan ago
// that never received a proof.
func (s *Service) StalePurchases(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Purchase, error) {
	return s.store.Queries().ListStalePending(ctx, s.now().Add(-olderThan), limit)
}

// ExpirePurchase fails an abandoned pending purchase and returns its
// stock. It reports false when the purchase moved on in the meantime.
func (s *Service) ExpirePurchase(ctx context.Context, purchaseID int64) (bool, error) {
	expired := false
	err := s.store.WithTx(ctx, func(tx Tx) error {
		p, err := tx.GetPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		if p.Status != domain.PurchasePending || p.PaymentProofURL != "" {
			return nil
		}
		if err := p.Expire(); err != nil {
			return err
		}
		ok, err := tx.UpdatePurchase(ctx, p, domain.PurchasePending)
		if err != nil || !ok {
			return err
		}
		if err := s.ledger.Release(ctx, tx, p.TicketTypeID, p.Quantity); err != nil {
			return err
		}
		expired = true
		return writeOutbox(ctx, tx, "purchase", p.ID, "purchase.expired", s.purchaseMessage(p, nil, ""))
	})
	return expired, err
}

// transition applies fn to the stored purchase and writes it back only
// if nobody changed its status in between.
func (s *Service) transition(ctx context.Context, purchaseID int64, eventType string, fn func(p *domain.Purchase) error) (domain.Purchase, error) {
	var p domain.Purchase
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		p, err = tx.GetPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		from := p.Status
		if err := fn(&p); err != nil {
			return err
		}
		ok, err := tx.UpdatePurchase(ctx, p, from)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrap(domain.ErrConflict, "purchase changed concurrently")
		}
		return writeOutbox(ctx, tx, "purchase", p.ID, eventType, s.purchaseMessage(p, nil, ""))
	})
	if err != nil {
		return domain.Purchase{}, err
	}
	return p, nil
}

type purchasePayload struct {
	PurchaseID           int64     `json:"purchase_id"`
	TicketTypeID         int64     `json:"ticket_type_id"`
	Quantity             int       `json:"quantity"`
	TotalAmount          string    `json:"total_amount"`
	Status               string    `json:"status"`
	PaymentMethod        string    `json:"payment_method,omitempty"`
	TransactionReference string    `json:"transaction_reference,omitempty"`
	PurchaserEmail       string    `json:"purchaser_email"`
	ActorID              *int64    `json:"actor_id,omitempty"`
	Reason               string    `json:"reason,omitempty"`
	At                   time.Time `json:"at"`
}

func (s *Service) purchaseMessage(p domain.Purchase, actorID *int64, reason string) purchasePayload {
	return purchasePayload{
		PurchaseID:           p.ID,
		TicketTypeID:         p.TicketTypeID,
		Quantity:             p.Quantity,
		TotalAmount:          p.TotalAmount.StringFixed(2),
		Status:               string(p.Status),
		PaymentMethod:        string(p.PaymentMethod),
		TransactionReference: p.TransactionReference,
		PurchaserEmail:       p.PurchaserEmail,
		ActorID:              actorID,
		Reason:               reason,
		At:                   s.now().UTC(),
	}
}
