package ticketing

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

type ApprovalResult struct {
	Purchase domain.Purchase
	Tickets  []domain.Ticket
	// NotificationErr is set when the purchaser could not be emailed. The
	// approval itself stands.
	NotificationErr error
}

type RejectionResult struct {
	Purchase        domain.Purchase
	NotificationErr error
}

// Approve confirms payment for a pending purchase and issues its tickets.
// All documents are rendered and uploaded before anything is written;
// the status change, any synthesized attendee, every ticket and the
// outbox record then commit in one transaction. A second approval fails
// with domain.ErrAlreadyApproved and issues nothing.
func (s *Service) Approve(ctx context.Context, actor Actor, purchaseID int64) (ApprovalResult, error) {
	res, err := s.approve(ctx, actor, purchaseID)
	observability.ApprovalsTotal.WithLabelValues(approvalOutcome(err)).Inc()
	return res, err
}

func (s *Service) approve(ctx context.Context, actor Actor, purchaseID int64) (ApprovalResult, error) {
	log := s.logger.WithFields(map[string]interface{}{
		"purchase_id": purchaseID,
		"promoter_id": actor.ID,
	})
	q := s.store.Queries()
	p, tt, ev, err := s.ownedPurchase(ctx, q, actor, purchaseID)
	if err != nil {
		return ApprovalResult{}, err
	}
	if _, err := p.Status.Next(domain.ActionApprove); err != nil {
		return ApprovalResult{}, err
	}

	if s.locker != nil {
		key := "approval:" + strconv.FormatInt(purchaseID, 10)
		ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
		switch {
		case err != nil:
			log.WithError(err).Warn("approval lock unavailable, continuing without it")
		case !ok:
			return ApprovalResult{}, domain.ErrApprovalInProgress
		default:
			defer func() {
				if err := s.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
					log.WithError(err).Warn("approval unlock")
				}
			}()
		}
	}

	attendees, err := q.ListPurchaseAttendees(ctx, p.ID)
	if err != nil {
		return ApprovalResult{}, err
	}
	var guest *domain.Attendee
	if len(attendees) == 0 {
		id, err := q.NextAttendeeID(ctx)
		if err != nil {
			return ApprovalResult{}, err
		}
		g := domain.GuestAttendee(id, p.PurchaserEmail, p.PurchaserPhone)
		guest = &g
		attendees = []domain.Attendee{g}
	}

	approvedAt := s.now().UTC()
	issued, err := s.issuer.Issue(ctx, IssueRequest{
		Purchase:   p,
		Event:      ev,
		TicketType: tt,
		Attendees:  attendees,
		Approver:   actor,
		ApprovedAt: approvedAt,
	})
	if err != nil {
		log.WithError(err).Error("ticket issuance failed, purchase left pending")
		return ApprovalResult{}, err
	}
	tickets := make([]domain.Ticket, len(issued))
	for i := range issued {
		tickets[i] = issued[i].Ticket
	}

	err = s.store.WithTx(ctx, func(tx Tx) error {
		cur, err := tx.GetPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		from := cur.Status
		if err := cur.Approve(actor.ID, approvedAt); err != nil {
			return err
		}
		cur.TicketDocumentURL = tickets[0].DocumentURL
		if guest != nil {
			if err := tx.InsertAttendee(ctx, guest); err != nil {
				return err
			}
			if err := tx.LinkAttendee(ctx, cur.ID, guest.ID); err != nil {
				return err
			}
		}
		ok, err := tx.UpdatePurchase(ctx, cur, from)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrAlreadyApproved
		}
		if err := tx.InsertTickets(ctx, tickets); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return errors.Mark(err, domain.ErrAlreadyApproved)
			}
			return err
		}
		p = cur
		return writeOutbox(ctx, tx, "purchase", cur.ID, "purchase.approved", s.purchaseMessage(cur, &actor.ID, ""))
	})
	if err != nil {
		urls := make([]string, len(tickets))
		for i, t := range tickets {
			urls[i] = t.DocumentURL
		}
		log.WithError(err).WithField("orphaned_documents", urls).Warn("approval not committed")
		return ApprovalResult{}, err
	}
	observability.TicketsIssued.Add(float64(len(tickets)))
	log.WithField("tickets", len(tickets)).Info("purchase approved")

	for i := range issued {
		issued[i].Ticket = tickets[i]
	}
	res := ApprovalResult{Purchase: p, Tickets: tickets}
	if err := s.notifyApproved(ctx, p, ev, tt, issued); err != nil {
		log.WithError(err).Warn("approval notification failed")
		res.NotificationErr = err
	}
	return res, nil
}

// Reject turns down a pending purchase. The purchase stays pending so the
// buyer can submit a new proof; the rejection is recorded in the outbox.
func (s *Service) Reject(ctx context.Context, actor Actor, purchaseID int64, reason string) (RejectionResult, error) {
	var p domain.Purchase
	var ev domain.Event
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		p, _, ev, err = s.ownedPurchase(ctx, tx, actor, purchaseID)
		if err != nil {
			return err
		}
		if err := p.CheckReject(); err != nil {
			return err
		}
		return writeOutbox(ctx, tx, "purchase", p.ID, "purchase.rejected", s.purchaseMessage(p, &actor.ID, reason))
	})
	if err != nil {
		observability.ApprovalsTotal.WithLabelValues("rejected_error").Inc()
		return RejectionResult{}, err
	}
	observability.ApprovalsTotal.WithLabelValues("rejected").Inc()

	res := RejectionResult{Purchase: p}
	if err := s.notifyRejected(ctx, p, ev, reason); err != nil {
		s.logger.WithError(err).WithField("purchase_id", p.ID).Warn("rejection notification failed")
		res.NotificationErr = err
	}
	return res, nil
}

func (s *Service) ownedPurchase(ctx context.Context, q Tx, actor Actor, purchaseID int64) (domain.Purchase, domain.TicketType, domain.Event, error) {
	p, err := q.GetPurchase(ctx, purchaseID)
	if err != nil {
		return domain.Purchase{}, domain.TicketType{}, domain.Event{}, err
	}
	tt, err := q.GetTicketType(ctx, p.TicketTypeID)
	if err != nil {
		return domain.Purchase{}, domain.TicketType{}, domain.Event{}, err
	}
	ev, err := ownedEvent(ctx, q, actor, tt.EventID)
	if err != nil {
		return domain.Purchase{}, domain.TicketType{}, domain.Event{}, err
	}
	return p, tt, ev, nil
}

func (s *Service) notifyApproved(ctx context.Context, p domain.Purchase, ev domain.Event, tt domain.TicketType, issued []IssuedTicket) error {
	if s.notifier == nil {
		return nil
	}
	body, err := renderApproved(approvedView{Purchase: p, Event: ev, TicketType: tt, Tickets: issued})
	if err != nil {
		return errors.Mark(err, domain.ErrNotificationFailure)
	}
	n := Notification{
		To:      p.PurchaserEmail,
		Subject: fmt.Sprintf("Your tickets for %s", ev.Title),
		HTML:    body,
	}
	for i, it := range issued {
		n.Attachments = append(n.Attachments, Attachment{
			Filename:    fmt.Sprintf("ticket-%d-%d.pdf", p.ID, i+1),
			ContentType: "application/pdf",
			Data:        it.Document,
		})
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		return errors.Mark(errors.Wrap(err, "notify purchaser"), domain.ErrNotificationFailure)
	}
	return nil
}

func (s *Service) notifyRejected(ctx context.Context, p domain.Purchase, ev domain.Event, reason string) error {
	if s.notifier == nil {
		return nil
	}
	body, err := renderRejected(rejectedView{Purchase: p, Event: ev, Reason: reason})
	if err != nil {
		return errors.Mark(err, domain.ErrNotificationFailure)
	}
	err = s.notifier.Notify(ctx, Notification{
		To:      p.PurchaserEmail,
		Subject: fmt.Sprintf("Payment for %s not approved", ev.Title),
		HTML:    body,
	})
	if err != nil {
		return errors.Mark(errors.Wrap(err, "notify purchaser"), domain.ErrNotificationFailure)
	}
	return nil
}

func approvalOutcome(err error) string {
	switch {
	case err == nil:
		return "approved"
	case errors.Is(err, domain.ErrAlreadyApproved):
		return "already_approved"
	case errors.Is(err, domain.ErrStorageFailure):
		return "storage_failure"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	}
	return "error"
}
