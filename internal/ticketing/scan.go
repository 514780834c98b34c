package ticketing

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

const alertTimeout = 3 * time.Second

// Validator checks tickets at the gate. Each scan is a single
// conditional write on one ticket row, so concurrent scans of the same
// credential resolve to exactly one winner.
type Validator struct {
	store   Store
	codec   CredentialCodec
	alerter Alerter
	logger  observability.Logger
	now     func() time.Time
}

func NewValidator(store Store, codec CredentialCodec, alerter Alerter, logger observability.Logger) *Validator {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Validator{store: store, codec: codec, alerter: alerter, logger: logger, now: time.Now}
}

// clock returns now at the precision the store keeps, so the time spent
// computed here matches the stored entry and exit times.
func (v *Validator) clock() time.Time {
	return v.now().UTC().Truncate(time.Microsecond)
}

// WithClock is for tests.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// ScanResult describes the ticket a scan resolved to. On a rejected scan
// it still carries whatever was resolved, including the prior entry or
// exit times.
type ScanResult struct {
	Ticket     domain.Ticket
	Attendee   domain.Attendee
	Event      domain.Event
	TicketType domain.TicketType
}

// ScanEntry admits the ticket holder once.
func (v *Validator) ScanEntry(ctx context.Context, payload, scanner string) (ScanResult, error) {
	res, err := v.scanEntry(ctx, payload, scanner)
	observability.ScansTotal.WithLabelValues("entry", scanOutcome(err)).Inc()
	return res, err
}

func (v *Validator) scanEntry(ctx context.Context, payload, scanner string) (ScanResult, error) {
	q := v.store.Queries()
	res, err := v.resolve(ctx, q, payload)
	if err != nil {
		return res, err
	}
	if res.Ticket.IsUsed() {
		return res, errors.Wrapf(domain.ErrAlreadyUsed, "used at %s", res.Ticket.UsedAt.Format(time.RFC3339))
	}
	now := v.clock()
	if res.Event.Ended(now) {
		return res, domain.ErrEventEnded
	}

	t := res.Ticket
	if err := t.Enter(now, scanner); err != nil {
		return res, err
	}
	ok, err := q.MarkEntered(ctx, t)
	if err != nil {
		return res, errors.Wrap(err, "record entry")
	}
	if !ok {
		// Lost the race to a concurrent scan; report what the winner wrote.
		cur, err := q.GetTicket(ctx, t.ID)
		if err != nil {
			return res, err
		}
		res.Ticket = cur
		return res, domain.ErrAlreadyUsed
	}
	res.Ticket = t
	v.logger.WithFields(map[string]interface{}{
		"ticket_id": t.ID,
		"event_id":  res.Event.ID,
		"scanner":   scanner,
	}).Info("ticket entered")
	return res, nil
}

// ScanExit records the holder leaving. Exits are accepted after the event
// has ended so that nobody is kept inside.
func (v *Validator) ScanExit(ctx context.Context, payload, scanner string, reason domain.ExitReason, notes string) (ScanResult, error) {
	res, err := v.scanExit(ctx, payload, scanner, reason, notes)
	observability.ScansTotal.WithLabelValues("exit", scanOutcome(err)).Inc()
	return res, err
}

func (v *Validator) scanExit(ctx context.Context, payload, scanner string, reason domain.ExitReason, notes string) (ScanResult, error) {
	q := v.store.Queries()
	res, err := v.resolve(ctx, q, payload)
	if err != nil {
		return res, err
	}
	if !res.Ticket.IsUsed() {
		return res, domain.ErrNotYetEntered
	}
	if res.Ticket.ExitTime != nil {
		return res, errors.Wrapf(domain.ErrAlreadyExited, "exited at %s", res.Ticket.ExitTime.Format(time.RFC3339))
	}

	now := v.clock()
	log := v.logger.WithFields(map[string]interface{}{
		"ticket_id": res.Ticket.ID,
		"event_id":  res.Event.ID,
		"scanner":   scanner,
	})
	if res.Event.Ended(now) {
		log.Warn("exit scanned after event end")
	}

	t := res.Ticket
	if err := t.Exit(now, scanner, reason, notes); err != nil {
		return res, err
	}
	ok, err := q.MarkExited(ctx, t)
	if err != nil {
		return res, errors.Wrap(err, "record exit")
	}
	if !ok {
		cur, err := q.GetTicket(ctx, t.ID)
		if err != nil {
			return res, err
		}
		res.Ticket = cur
		return res, domain.ErrAlreadyExited
	}
	res.Ticket = t
	log.WithFields(map[string]interface{}{
		"reason":     string(t.ExitReason),
		"time_spent": t.TimeSpent.String(),
	}).Info("ticket exited")

	if t.ExitReason.Alerting() {
		v.raiseAlert(ctx, res, scanner)
	}
	return res, nil
}

// raiseAlert never fails the exit; a broker outage only costs the alert.
func (v *Validator) raiseAlert(ctx context.Context, res ScanResult, scanner string) {
	t := res.Ticket
	observability.ExitAlerts.WithLabelValues(string(t.ExitReason)).Inc()
	log := v.logger.WithFields(map[string]interface{}{
		"ticket_id":    t.ID,
		"event_id":     res.Event.ID,
		"attendee":     res.Attendee.FullName(),
		"reason":       string(t.ExitReason),
		"injury_notes": t.InjuryNotes,
	})
	log.Warn("exit alert")
	if v.alerter == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()
	err := v.alerter.Alert(actx, ExitAlert{
		TicketID:    t.ID,
		EventID:     res.Event.ID,
		EventTitle:  res.Event.Title,
		Attendee:    res.Attendee.FullName(),
		Reason:      string(t.ExitReason),
		InjuryNotes: t.InjuryNotes,
		Scanner:     scanner,
		At:          *t.ExitTime,
	})
	if err != nil {
		log.WithError(err).Error("exit alert not delivered")
	}
}

// resolve parses the credential and loads the ticket it names. Duplicate
// tickets for one (purchase, attendee) pair should not exist; if they do
// the lowest id is used and the anomaly logged.
func (v *Validator) resolve(ctx context.Context, q Tx, payload string) (ScanResult, error) {
	cred, err := v.codec.Parse(payload)
	if err != nil {
		return ScanResult{}, err
	}
	tickets, err := q.FindTickets(ctx, cred.PurchaseID, cred.AttendeeID)
	if err != nil {
		return ScanResult{}, err
	}
	if len(tickets) == 0 {
		return ScanResult{}, domain.ErrTicketNotFound
	}
	if len(tickets) > 1 {
		ids := make([]int64, len(tickets))
		for i, t := range tickets {
			ids[i] = t.ID
		}
		v.logger.WithFields(map[string]interface{}{
			"purchase_id": cred.PurchaseID,
			"attendee_id": cred.AttendeeID,
			"ticket_ids":  ids,
		}).Warn("duplicate tickets for attendee, using lowest id")
	}
	res := ScanResult{Ticket: tickets[0]}

	if res.Attendee, err = q.GetAttendee(ctx, cred.AttendeeID); err != nil {
		return res, err
	}
	p, err := q.GetPurchase(ctx, cred.PurchaseID)
	if err != nil {
		return res, err
	}
	if res.TicketType, err = q.GetTicketType(ctx, p.TicketTypeID); err != nil {
		return res, err
	}
	if res.Event, err = q.GetEvent(ctx, res.TicketType.EventID); err != nil {
		return res, err
	}
	return res, nil
}

func scanOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, domain.ErrTicketNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, domain.ErrAlreadyExited):
		return "already_exited"
	case errors.Is(err, domain.ErrNotYetEntered):
		return "not_entered"
	case errors.Is(err, domain.ErrEventEnded):
		return "event_ended"
	}
	return "error"
}
