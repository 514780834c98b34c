package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/scannertoken"
	"github.com/robertarktes/event-ticketing/internal/ticketing"
)

const (
	maxJSONBody  = 1 << 20
	maxProofSize = 10 << 20
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Handlers struct {
	svc       *ticketing.Service
	validator *ticketing.Validator
	tokens    *scannertoken.Issuer
	checks    map[string]ReadinessCheck
	validate  *validator.Validate
}

func NewHandlers(svc *ticketing.Service, v *ticketing.Validator, tokens *scannertoken.Issuer, checks map[string]ReadinessCheck) *Handlers {
	return &Handlers{
		svc:       svc,
		validator: v,
		tokens:    tokens,
		checks:    checks,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		badRequest(w, "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		badRequest(w, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return "validation: " + strings.Join(parts, "; ")
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid "+name)
		return 0, false
	}
	return id, true
}

// actor is only called behind RequireActor.
func actor(r *http.Request) ticketing.Actor {
	a, _ := actorFrom(r.Context())
	return a
}

type createEventRequest struct {
	Title        string    `json:"title" validate:"required,max=200"`
	Description  string    `json:"description"`
	Location     string    `json:"location" validate:"max=200"`
	Venue        string    `json:"venue" validate:"max=200"`
	Category     string    `json:"category" validate:"max=50"`
	StartDate    time.Time `json:"start_date" validate:"required"`
	EndDate      time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
	MaxCapacity  int       `json:"max_capacity" validate:"gte=0"`
	ContactPhone string    `json:"contact_phone" validate:"max=32"`
}

func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if !h.decode(w, r, &req) {
		return
	}
	ev, err := h.svc.CreateEvent(r.Context(), actor(r), ticketing.EventInput{
		Title:        req.Title,
		Description:  req.Description,
		Location:     req.Location,
		Venue:        req.Venue,
		Category:     req.Category,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		MaxCapacity:  req.MaxCapacity,
		ContactPhone: req.ContactPhone,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventView(ev))
}

func (h *Handlers) PublishEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ev, err := h.svc.PublishEvent(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventView(ev))
}

type createTicketTypeRequest struct {
	Name        string          `json:"name" validate:"required,max=100"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity" validate:"gte=1"`
	SaleStart   time.Time       `json:"sale_start" validate:"required"`
	SaleEnd     time.Time       `json:"sale_end" validate:"required,gtfield=SaleStart"`
}

func (h *Handlers) CreateTicketType(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req createTicketTypeRequest
	if !h.decode(w, r, &req) {
		return
	}
	tt, err := h.svc.CreateTicketType(r.Context(), actor(r), id, ticketing.TicketTypeInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Quantity:    req.Quantity,
		SaleStart:   req.SaleStart,
		SaleEnd:     req.SaleEnd,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTicketTypeView(tt))
}

func (h *Handlers) EventSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	sum, err := h.svc.EventSummary(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventSummaryView(sum))
}

// PATCH bodies: absent fields are left as they are.
type updateEventRequest struct {
	Title        *string    `json:"title" validate:"omitempty,min=1,max=200"`
	Description  *string    `json:"description"`
	Location     *string    `json:"location" validate:"omitempty,max=200"`
	Venue        *string    `json:"venue" validate:"omitempty,max=200"`
	Category     *string    `json:"category" validate:"omitempty,max=50"`
	StartDate    *time.Time `json:"start_date"`
	EndDate      *time.Time `json:"end_date"`
	MaxCapacity  *int       `json:"max_capacity" validate:"omitempty,gte=0"`
	ContactPhone *string    `json:"contact_phone" validate:"omitempty,max=32"`
}

func (h *Handlers) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req updateEventRequest
	if !h.decode(w, r, &req) {
		return
	}
	ev, err := h.svc.UpdateEvent(r.Context(), actor(r), id, domain.EventChanges{
		Title:        req.Title,
		Description:  req.Description,
		Location:     req.Location,
		Venue:        req.Venue,
		Category:     req.Category,
		ContactPhone: req.ContactPhone,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		MaxCapacity:  req.MaxCapacity,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventView(ev))
}

func (h *Handlers) ListPromoterEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListPromoterEvents(r.Context(), actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, toEventView(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) PromoterEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	pe, err := h.svc.PromoterEvent(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, catalogEventView{eventView: toEventView(pe.Event), TicketTypes: toTicketTypeViews(pe.TicketTypes)})
}

type updateTicketTypeRequest struct {
	Name        *string          `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Quantity    *int             `json:"quantity" validate:"omitempty,gte=1"`
	Active      *bool            `json:"active"`
	SaleStart   *time.Time       `json:"sale_start"`
	SaleEnd     *time.Time       `json:"sale_end"`
}

func (h *Handlers) UpdateTicketType(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req updateTicketTypeRequest
	if !h.decode(w, r, &req) {
		return
	}
	tt, err := h.svc.UpdateTicketType(r.Context(), actor(r), id, domain.TicketTypeChanges{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Quantity:    req.Quantity,
		Active:      req.Active,
		SaleStart:   req.SaleStart,
		SaleEnd:     req.SaleEnd,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketTypeView(tt))
}

func (h *Handlers) DeleteTicketType(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteTicketType(r.Context(), actor(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.AvailableEvents(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]catalogEventView, 0, len(events))
	for _, e := range events {
		out = append(out, catalogEventView{eventView: toEventView(e.Event), TicketTypes: toTicketTypeViews(e.TicketTypes)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) ListTicketTypes(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	types, err := h.svc.OnSaleTicketTypes(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketTypeViews(types))
}

func (h *Handlers) PromoterContacts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.svc.PromoterContacts(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id": c.EventID,
		"name":     c.Name,
		"email":    c.Email,
		"phone":    c.Phone,
	})
}

type attendeeRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"max=20"`
}

type createPurchaseRequest struct {
	TicketTypeID   int64             `json:"ticket_type_id" validate:"required,gt=0"`
	Quantity       int               `json:"quantity" validate:"gte=1"`
	PurchaserEmail string            `json:"purchaser_email" validate:"required,email"`
	PurchaserPhone string            `json:"purchaser_phone" validate:"required,max=20"`
	PaymentMethod  string            `json:"payment_method"`
	Attendees      []attendeeRequest `json:"attendees" validate:"dive"`
}

func (h *Handlers) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req createPurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := ticketing.PurchaseInput{
		TicketTypeID:   req.TicketTypeID,
		Quantity:       req.Quantity,
		PurchaserEmail: req.PurchaserEmail,
		PurchaserPhone: req.PurchaserPhone,
		PaymentMethod:  req.PaymentMethod,
	}
	if a, ok := actorFrom(r.Context()); ok {
		id := a.ID
		in.UserID = &id
	}
	for _, a := range req.Attendees {
		in.Attendees = append(in.Attendees, ticketing.AttendeeInput{
			FirstName: a.FirstName,
			LastName:  a.LastName,
			Email:     a.Email,
			Phone:     a.Phone,
		})
	}
	p, err := h.svc.CreatePurchase(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPurchaseView(p))
}

func (h *Handlers) GetPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	viewer := ticketing.Viewer{Email: r.URL.Query().Get("email")}
	if a, ok := actorFrom(r.Context()); ok {
		viewer.Actor = &a
	}
	d, err := h.svc.GetPurchase(r.Context(), id, viewer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseDetailView(d))
}

type initiatePaymentRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required"`
}

func (h *Handlers) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req initiatePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.svc.InitiatePayment(r.Context(), id, req.PaymentMethod)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"purchase_id":           p.ID,
		"payment_method":        p.PaymentMethod,
		"transaction_reference": p.TransactionReference,
		"amount":                p.TotalAmount.StringFixed(2),
	})
}

type submitProofRequest struct {
	ProofURL string `json:"proof_url" validate:"required,url"`
}

// SubmitProof takes either a multipart upload in the "proof" field or a
// JSON body with an already hosted proof_url.
func (h *Handlers) SubmitProof(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req submitProofRequest
		if !h.decode(w, r, &req) {
			return
		}
		p, err := h.svc.SubmitProof(r.Context(), id, req.ProofURL)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toPurchaseView(p))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxProofSize+1<<20)
	if err := r.ParseMultipartForm(maxProofSize); err != nil {
		badRequest(w, "expected a multipart form with a proof file")
		return
	}
	file, _, err := r.FormFile("proof")
	if err != nil {
		badRequest(w, "proof file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxProofSize+1))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(data) > maxProofSize {
		badRequest(w, "proof file is too large")
		return
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") && contentType != "application/pdf" {
		badRequest(w, "proof must be an image or PDF")
		return
	}
	p, err := h.svc.UploadProof(r.Context(), id, data, contentType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseView(p))
}

func (h *Handlers) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.PendingApprovals(r.Context(), actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]pendingApprovalView, 0, len(list))
	for _, pa := range list {
		out = append(out, pendingApprovalView{
			Purchase:       toPurchaseView(pa.Purchase),
			EventID:        pa.EventID,
			EventTitle:     pa.EventTitle,
			TicketTypeName: pa.TicketTypeName,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) ApprovePurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	res, err := h.svc.Approve(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body := map[string]interface{}{
		"purchase": toPurchaseView(res.Purchase),
		"tickets":  toTicketViews(res.Tickets),
	}
	if res.NotificationErr != nil {
		body["notification_error"] = res.NotificationErr.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

func (h *Handlers) RejectPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req rejectRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Reject(r.Context(), actor(r), id, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body := map[string]interface{}{
		"purchase": toPurchaseView(res.Purchase),
		"rejected": true,
	}
	if res.NotificationErr != nil {
		body["notification_error"] = res.NotificationErr.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

type scannerTokenRequest struct {
	OperatorID string `json:"operator_id" validate:"required,max=100"`
	Name       string `json:"name" validate:"max=100"`
}

func (h *Handlers) IssueScannerToken(w http.ResponseWriter, r *http.Request) {
	var req scannerTokenRequest
	if !h.decode(w, r, &req) {
		return
	}
	tok, exp, err := h.tokens.Issue(req.OperatorID, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"token":      tok,
		"expires_at": exp,
	})
}

type scanRequest struct {
	Payload     string `json:"payload" validate:"required"`
	ExitReason  string `json:"exit_reason"`
	InjuryNotes string `json:"injury_notes" validate:"max=2000"`
}

func (h *Handlers) ScanEntry(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !h.decodeScan(w, r, &req) {
		return
	}
	res, err := h.validator.ScanEntry(r.Context(), req.Payload, scannerFrom(r.Context()).Label())
	writeScan(w, r, res, err, "Entry recorded")
}

func (h *Handlers) ScanExit(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !h.decodeScan(w, r, &req) {
		return
	}
	reason, err := domain.ParseExitReason(req.ExitReason)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, scanResponse{Reason: "Unknown exit reason"})
		return
	}
	res, err := h.validator.ScanExit(r.Context(), req.Payload, scannerFrom(r.Context()).Label(), reason, req.InjuryNotes)
	writeScan(w, r, res, err, "Exit recorded")
}

func (h *Handlers) decodeScan(w http.ResponseWriter, r *http.Request, req *scanRequest) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(req)
	if err == nil {
		err = h.validate.Struct(req)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, scanResponse{Reason: "Invalid ticket payload"})
		return false
	}
	return true
}

// writeScan answers expected rejections with 200 and valid=false so gate
// devices can show the reason. Only malformed input is a 400.
func writeScan(w http.ResponseWriter, r *http.Request, res ticketing.ScanResult, err error, okReason string) {
	resp := scanResponse{Valid: err == nil}
	if res.Ticket.ID != 0 {
		tv := toTicketView(res.Ticket)
		resp.Ticket = &tv
		resp.Attendee = res.Attendee.FullName()
		resp.Event = res.Event.Title
		resp.TicketType = res.TicketType.Name
	}
	status := http.StatusOK
	switch {
	case err == nil:
		resp.Reason = okReason
	case errors.Is(err, domain.ErrInvalidPayload):
		status = http.StatusBadRequest
		resp.Reason = "Invalid ticket payload"
	case errors.Is(err, domain.ErrNotFound):
		resp.Reason = "Ticket not found"
	case errors.Is(err, domain.ErrAlreadyUsed):
		resp.Reason = "Ticket already used"
		if res.Ticket.UsedAt != nil {
			resp.Reason += " at " + res.Ticket.UsedAt.Format(time.RFC3339)
		}
	case errors.Is(err, domain.ErrEventEnded):
		resp.Reason = "Event has ended"
	case errors.Is(err, domain.ErrNotYetEntered):
		resp.Reason = "Ticket has not been used for entry"
	case errors.Is(err, domain.ErrAlreadyExited):
		resp.Reason = "Ticket already exited"
		if res.Ticket.ExitTime != nil {
			resp.Reason += " at " + res.Ticket.ExitTime.Format(time.RFC3339)
		}
	default:
		loggerFrom(r.Context()).WithError(err).Error("scan failed")
		status = http.StatusInternalServerError
		resp = scanResponse{Reason: "Scan failed"}
	}
	writeJSON(w, status, resp)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"ready": false, "failed": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
