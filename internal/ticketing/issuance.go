package ticketing

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/robertarktes/event-ticketing/internal/credential"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/ticketdoc"
)

const uploadConcurrency = 4

// Issuer produces one credential and document per attendee. It touches
// no persistent state: the caller commits the returned tickets.
type Issuer struct {
	codec CredentialCodec
	docs  DocumentRenderer
	files FileStore
}

func NewIssuer(codec CredentialCodec, docs DocumentRenderer, files FileStore) *Issuer {
	return &Issuer{codec: codec, docs: docs, files: files}
}

type IssueRequest struct {
	Purchase   domain.Purchase
	Event      domain.Event
	TicketType domain.TicketType
	Attendees  []domain.Attendee
	Approver   Actor
	ApprovedAt time.Time
}

type IssuedTicket struct {
	Ticket     domain.Ticket
	Attendee   domain.Attendee
	Credential string
	Document   []byte
}

// Issue renders every credential and document first, then uploads them
// concurrently. Any failure returns an error and no tickets; documents
// already uploaded are left for the store's lifecycle rules.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) ([]IssuedTicket, error) {
	if len(req.Attendees) == 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "no attendees to issue for")
	}
	issued := make([]IssuedTicket, len(req.Attendees))
	for n, a := range req.Attendees {
		cred, err := i.codec.Render(credential.Payload{
			PurchaseID:    req.Purchase.ID,
			AttendeeID:    a.ID,
			EventTitle:    req.Event.Title,
			TicketType:    req.TicketType.Name,
			AttendeeName:  a.FullName(),
			AttendeeEmail: a.Email,
			ApprovedBy:    req.Approver.Name,
			ApprovedAt:    req.ApprovedAt.Unix(),
			Used:          false,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "render credential for attendee %d", a.ID)
		}
		doc, err := i.docs.Render(ticketdoc.Ticket{
			Credential:   cred,
			PurchaseID:   req.Purchase.ID,
			EventTitle:   req.Event.Title,
			Venue:        req.Event.Venue,
			Location:     req.Event.Location,
			StartsAt:     req.Event.StartDate,
			TicketType:   req.TicketType.Name,
			AttendeeName: a.FullName(),
			ApprovedBy:   req.Approver.Name,
			ApprovedAt:   req.ApprovedAt,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "render document for attendee %d", a.ID)
		}
		issued[n] = IssuedTicket{
			Attendee:   a,
			Credential: cred,
			Document:   doc,
			Ticket: domain.Ticket{
				PurchaseID: req.Purchase.ID,
				AttendeeID: a.ID,
				State:      domain.TicketIssued,
				CreatedAt:  req.ApprovedAt,
			},
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for n := range issued {
		n := n
		g.Go(func() error {
			url, err := i.files.Store(gctx, issued[n].Document, ticketdoc.ContentType)
			if err != nil {
				return errors.Mark(
					errors.Wrapf(err, "upload ticket for attendee %d", issued[n].Attendee.ID),
					domain.ErrStorageFailure,
				)
			}
			issued[n].Ticket.DocumentURL = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return issued, nil
}
