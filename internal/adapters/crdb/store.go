package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/ticketing"
)

const maxTxAttempts = 3

// Store implements ticketing.Store on top of Repository.
type Store struct {
	repo *Repository
}

func NewStore(repo *Repository) *Store {
	return &Store{repo: repo}
}

// WithTx retries serialization failures a few times before giving up
// with domain.ErrSerializationFailure.
func (s *Store) WithTx(ctx context.Context, fn func(tx ticketing.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.repo.WithTx(ctx, func(tx pgx.Tx) error {
			return fn(&queries{db: tx})
		})
		if !errors.Is(err, domain.ErrSerializationFailure) {
			return err
		}
	}
	return err
}

func (s *Store) Queries() ticketing.Tx {
	return &queries{db: s.repo.pool}
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type queries struct {
	db dbtx
}

type rowScanner interface {
	Scan(dest ...any) error
}

const eventColumns = `id, promoter_id, title, description, location, venue, category,
	start_date, end_date, status, max_capacity, promoter_name, promoter_email, promoter_phone, created_at`

func scanEvent(row rowScanner) (domain.Event, error) {
	var ev domain.Event
	var status string
	err := row.Scan(&ev.ID, &ev.PromoterID, &ev.Title, &ev.Description, &ev.Location, &ev.Venue, &ev.Category,
		&ev.StartDate, &ev.EndDate, &status, &ev.MaxCapacity, &ev.PromoterName, &ev.PromoterEmail, &ev.PromoterPhone, &ev.CreatedAt)
	ev.Status = domain.EventStatus(status)
	return ev, err
}

func (q *queries) InsertEvent(ctx context.Context, ev *domain.Event) error {
	return q.db.QueryRow(ctx, `
		INSERT INTO events (promoter_id, title, description, location, venue, category,
			start_date, end_date, status, max_capacity, promoter_name, promoter_email, promoter_phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, ev.PromoterID, ev.Title, ev.Description, ev.Location, ev.Venue, ev.Category,
		ev.StartDate, ev.EndDate, string(ev.Status), ev.MaxCapacity, ev.PromoterName, ev.PromoterEmail, ev.PromoterPhone, ev.CreatedAt,
	).Scan(&ev.ID)
}

func (q *queries) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	ev, err := scanEvent(q.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return ev, err
}

func (q *queries) SetEventStatus(ctx context.Context, id int64, from, to domain.EventStatus) (bool, error) {
	result, err := q.db.Exec(ctx, `
		UPDATE events SET status = $3 WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (q *queries) ListPublishedEvents(ctx context.Context, endingAfter time.Time) ([]domain.Event, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE status = 'published' AND end_date > $1
		ORDER BY start_date ASC
	`, endingAfter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (q *queries) ListEventsByPromoter(ctx context.Context, promoterID int64) ([]domain.Event, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE promoter_id = $1
		ORDER BY created_at DESC, id DESC
	`, promoterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (q *queries) UpdateEvent(ctx context.Context, ev domain.Event) (bool, error) {
	result, err := q.db.Exec(ctx, `
		UPDATE events SET
			title = $3,
			description = $4,
			location = $5,
			venue = $6,
			category = $7,
			start_date = $8,
			end_date = $9,
			max_capacity = $10,
			promoter_phone = $11
		WHERE id = $1 AND status = $2
	`, ev.ID, string(ev.Status), ev.Title, ev.Description, ev.Location, ev.Venue, ev.Category,
		ev.StartDate, ev.EndDate, ev.MaxCapacity, ev.PromoterPhone)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

const ticketTypeColumns = `id, event_id, name, description, price, quantity, remaining, sale_start, sale_end, active, created_at`

func scanTicketType(row rowScanner) (domain.TicketType, error) {
	var tt domain.TicketType
	err := row.Scan(&tt.ID, &tt.EventID, &tt.Name, &tt.Description, &tt.Price, &tt.Quantity, &tt.Remaining,
		&tt.SaleStart, &tt.SaleEnd, &tt.Active, &tt.CreatedAt)
	return tt, err
}

func (q *queries) InsertTicketType(ctx context.Context, tt *domain.TicketType) error {
	return q.db.QueryRow(ctx, `
		INSERT INTO ticket_types (event_id, name, description, price, quantity, remaining, sale_start, sale_end, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, tt.EventID, tt.Name, tt.Description, tt.Price, tt.Quantity, tt.Remaining, tt.SaleStart, tt.SaleEnd, tt.Active, tt.CreatedAt,
	).Scan(&tt.ID)
}

func (q *queries) GetTicketType(ctx context.Context, id int64) (domain.TicketType, error) {
	tt, err := scanTicketType(q.db.QueryRow(ctx, `SELECT `+ticketTypeColumns+` FROM ticket_types WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TicketType{}, domain.ErrTicketTypeNotFound
	}
	return tt, err
}

func (q *queries) ListTicketTypes(ctx context.Context, eventID int64) ([]domain.TicketType, error) {
	rows, err := q.db.Query(ctx, `SELECT `+ticketTypeColumns+` FROM ticket_types WHERE event_id = $1 ORDER BY id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []domain.TicketType
	for rows.Next() {
		tt, err := scanTicketType(rows)
		if err != nil {
			return nil, err
		}
		types = append(types, tt)
	}
	return types, rows.Err()
}

func (q *queries) UpdateTicketType(ctx context.Context, tt domain.TicketType, prevQuantity int) (bool, error) {
	result, err := q.db.Exec(ctx, `
		UPDATE ticket_types SET
			name = $2,
			description = $3,
			price = $4,
			active = $5,
			sale_start = $6,
			sale_end = $7,
			quantity = $8,
			remaining = remaining + ($8 - quantity)
		WHERE id = $1 AND quantity = $9 AND ($8 = quantity OR remaining = quantity)
	`, tt.ID, tt.Name, tt.Description, tt.Price, tt.Active, tt.SaleStart, tt.SaleEnd, tt.Quantity, prevQuantity)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (q *queries) DeleteTicketType(ctx context.Context, id int64) (bool, error) {
	result, err := q.db.Exec(ctx, `
		DELETE FROM ticket_types
		WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM purchases WHERE ticket_type_id = $1)
	`, id)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (q *queries) DecrementRemaining(ctx context.Context, ticketTypeID int64, n int) (bool, error) {
	result, err := q.db.Exec(ctx, `
		UPDATE ticket_types SET remaining = remaining - $2
		WHERE id = $1 AND remaining >= $2
	`, ticketTypeID, n)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (q *queries) IncrementRemaining(ctx context.Context, ticketTypeID int64, n int) (bool, error) {
	result, err := q.db.Exec(ctx, `
		UPDATE ticket_types SET remaining = remaining + $2
		WHERE id = $1 AND remaining + $2 <= quantity
	`, ticketTypeID, n)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

const purchaseColumns = `p.id, p.ticket_type_id, p.user_id, p.quantity, p.total_amount, p.status, p.payment_method,
	p.transaction_reference, p.purchaser_email, p.purchaser_phone, p.payment_proof_url, p.approved_by,
	p.approval_date, p.ticket_document_url, p.created_at`

func scanPurchase(row rowScanner, extra ...any) (domain.Purchase, error) {
	var p domain.Purchase
	var status, method string
	dest := []any{&p.ID, &p.TicketTypeID, &p.UserID, &p.Quantity, &p.TotalAmount, &status, &method,
		&p.TransactionReference, &p.PurchaserEmail, &p.PurchaserPhone, &p.PaymentProofURL, &p.ApprovedBy,
		&p.ApprovalDate, &p.TicketDocumentURL, &p.CreatedAt}
	err := row.Scan(append(dest, extra...)...)
	p.Status = domain.PurchaseStatus(status)
	p.PaymentMethod = domain.PaymentMethod(method)
	return p, err
}

func (q *queries) InsertPurchase(ctx context.Context, p *domain.Purchase) error {
	return q.db.QueryRow(ctx, `
		INSERT INTO purchases (ticket_type_id, user_id, quantity, total_amount, status, payment_method,
			transaction_reference, purchaser_email, purchaser_phone, payment_proof_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, p.TicketTypeID, p.UserID, p.Quantity, p.TotalAmount, string(p.Status), string(p.PaymentMethod),
		p.TransactionReference, p.PurchaserEmail, p.PurchaserPhone, p.PaymentProofURL, p.CreatedAt,
	).Scan(&p.ID)
}

func (q *queries) GetPurchase(ctx context.Context, id int64) (domain.Purchase, error) {
	p, err := scanPurchase(q.db.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases p WHERE p.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Purchase{}, domain.ErrPurchaseNotFound
	}
	return p, err
}

// UpdatePurchase never touches quantity or total_amount.
func (q *queries) UpdatePurchase(ctx context.Context, p domain.Purchase, from domain.PurchaseStatus) (bool, error) {
	result, err := q.db.Exec(ctx, `
		UPDATE purchases SET
			status = $3,
			payment_method = $4,
			transaction_reference = $5,
			payment_proof_url = $6,
			approved_by = $7,
			approval_date = $8,
			ticket_document_url = $9
		WHERE id = $1 AND status = $2
	`, p.ID, string(from), string(p.Status), string(p.PaymentMethod), p.TransactionReference,
		p.PaymentProofURL, p.ApprovedBy, p.ApprovalDate, p.TicketDocumentURL)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (q *queries) ListAwaitingApproval(ctx context.Context, promoterID int64) ([]ticketing.PendingApproval, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+purchaseColumns+`, e.id, e.title, tt.name
		FROM purchases p
		JOIN ticket_types tt ON tt.id = p.ticket_type_id
		JOIN events e ON e.id = tt.event_id
		WHERE e.promoter_id = $1 AND p.status = 'pending' AND p.payment_proof_url <> ''
		ORDER BY p.created_at DESC
	`, promoterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ticketing.PendingApproval
	for rows.Next() {
		var pa ticketing.PendingApproval
		pa.Purchase, err = scanPurchase(rows, &pa.EventID, &pa.EventTitle, &pa.TicketTypeName)
		if err != nil {
			return nil, err
		}
		out = append(out, pa)
	}
	return out, rows.Err()
}

func (q *queries) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Purchase, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+purchaseColumns+` FROM purchases p
		WHERE p.status = 'pending' AND p.payment_proof_url = '' AND p.created_at < $1
		ORDER BY p.id
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *queries) NextAttendeeID(ctx context.Context) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `SELECT nextval('attendees_id_seq')`).Scan(&id)
	return id, err
}

func (q *queries) InsertAttendee(ctx context.Context, a *domain.Attendee) error {
	if a.ID != 0 {
		_, err := q.db.Exec(ctx, `
			INSERT INTO attendees (id, first_name, last_name, email, phone) VALUES ($1, $2, $3, $4, $5)
		`, a.ID, a.FirstName, a.LastName, a.Email, a.Phone)
		if isUniqueViolation(err) {
			return errors.Wrapf(domain.ErrConflict, "attendee %d exists", a.ID)
		}
		return err
	}
	return q.db.QueryRow(ctx, `
		INSERT INTO attendees (first_name, last_name, email, phone) VALUES ($1, $2, $3, $4)
		RETURNING id
	`, a.FirstName, a.LastName, a.Email, a.Phone).Scan(&a.ID)
}

func (q *queries) GetAttendee(ctx context.Context, id int64) (domain.Attendee, error) {
	var a domain.Attendee
	err := q.db.QueryRow(ctx, `
		SELECT id, first_name, last_name, email, phone FROM attendees WHERE id = $1
	`, id).Scan(&a.ID, &a.FirstName, &a.LastName, &a.Email, &a.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attendee{}, errors.Wrapf(domain.ErrNotFound, "attendee %d", id)
	}
	return a, err
}

func (q *queries) LinkAttendee(ctx context.Context, purchaseID, attendeeID int64) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO purchase_attendees (purchase_id, attendee_id) VALUES ($1, $2)
	`, purchaseID, attendeeID)
	if isUniqueViolation(err) {
		return errors.Wrap(domain.ErrConflict, "attendee already linked")
	}
	return err
}

func (q *queries) ListPurchaseAttendees(ctx context.Context, purchaseID int64) ([]domain.Attendee, error) {
	rows, err := q.db.Query(ctx, `
		SELECT a.id, a.first_name, a.last_name, a.email, a.phone
		FROM purchase_attendees pa JOIN attendees a ON a.id = pa.attendee_id
		WHERE pa.purchase_id = $1
		ORDER BY a.id
	`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Attendee
	for rows.Next() {
		var a domain.Attendee
		if err := rows.Scan(&a.ID, &a.FirstName, &a.LastName, &a.Email, &a.Phone); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const ticketColumns = `id, purchase_id, attendee_id, document_url, state, used_at, entry_by,
	exit_time, exit_by, exit_reason, injury_notes, time_spent_us, created_at`

func scanTicket(row rowScanner) (domain.Ticket, error) {
	var t domain.Ticket
	var state, reason string
	var spentUS *int64
	err := row.Scan(&t.ID, &t.PurchaseID, &t.AttendeeID, &t.DocumentURL, &state, &t.UsedAt, &t.EntryBy,
		&t.ExitTime, &t.ExitBy, &reason, &t.InjuryNotes, &spentUS, &t.CreatedAt)
	t.State = domain.TicketState(state)
	t.ExitReason = domain.ExitReason(reason)
	if spentUS != nil {
		d := time.Duration(*spentUS) * time.Microsecond
		t.TimeSpent = &d
	}
	return t, err
}

// InsertTickets sends all inserts in one batch and fills in the IDs.
func (q *queries) InsertTickets(ctx context.Context, tickets []domain.Ticket) error {
	batch := &pgx.Batch{}
	for _, t := range tickets {
		batch.Queue(`
			INSERT INTO tickets (purchase_id, attendee_id, document_url, state, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, t.PurchaseID, t.AttendeeID, t.DocumentURL, string(t.State), t.CreatedAt)
	}
	br := q.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := range tickets {
		if err := br.QueryRow().Scan(&tickets[i].ID); err != nil {
			if isUniqueViolation(err) {
				return errors.Wrapf(domain.ErrConflict, "ticket for purchase %d attendee %d exists",
					tickets[i].PurchaseID, tickets[i].AttendeeID)
			}
			return err
		}
	}
	return br.Close()
}

func (q *queries) GetTicket(ctx context.Context, id int64) (domain.Ticket, error) {
	t, err := scanTicket(q.db.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	return t, err
}

func (q *queries) FindTickets(ctx context.Context, purchaseID, attendeeID int64) ([]domain.Ticket, error) {
	return q.listTickets(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE purchase_id = $1 AND attendee_id = $2 ORDER BY id`,
		purchaseID, attendeeID)
}

func (q *queries) ListTickets(ctx context.Context, purchaseID int64) ([]domain.Ticket, error) {
	return q.listTickets(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE purchase_id = $1 ORDER BY id`, purchaseID)
}

func (q *queries) listTickets(ctx context.Context, sql string, args ...any) ([]domain.Ticket, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *queries) MarkEntered(ctx context.Context, t domain.Ticket) (bool, error) {
	result, err := q.db.Exec(ctx, `
		UPDATE tickets SET state = 'entered', used_at = $2, entry_by = $3
		WHERE id = $1 AND state = 'issued'
	`, t.ID, t.UsedAt, t.EntryBy)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (q *queries) MarkExited(ctx context.Context, t domain.Ticket) (bool, error) {
	var spentUS *int64
	if t.TimeSpent != nil {
		us := t.TimeSpent.Microseconds()
		spentUS = &us
	}
	result, err := q.db.Exec(ctx, `
		UPDATE tickets SET state = 'exited', exit_time = $2, exit_by = $3, exit_reason = $4,
			injury_notes = $5, time_spent_us = $6
		WHERE id = $1 AND state = 'entered'
	`, t.ID, t.ExitTime, t.ExitBy, string(t.ExitReason), t.InjuryNotes, spentUS)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}
