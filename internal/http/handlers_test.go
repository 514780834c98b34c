package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertarktes/event-ticketing/internal/credential"
	"github.com/robertarktes/event-ticketing/internal/idempotency"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/scannertoken"
	"github.com/robertarktes/event-ticketing/internal/ticketdoc"
	"github.com/robertarktes/event-ticketing/internal/ticketing"
	"github.com/robertarktes/event-ticketing/internal/ticketing/ticketingtest"
)

var jwtSecret = []byte("api-test-jwt-secret")

type api struct {
	t        *testing.T
	handler  http.Handler
	codec    *credential.Codec
	scanners *scannertoken.Issuer
	notifier *ticketingtest.Notifier
}

type apiOptions struct {
	limiter limiter
	idemp   replayStore
	checks  map[string]ReadinessCheck
}

func newAPI(t *testing.T, opts apiOptions) *api {
	t.Helper()
	codec, err := credential.NewCodec([]byte("api-test-credential-secret"))
	require.NoError(t, err)
	store := ticketingtest.NewStore()
	notifier := &ticketingtest.Notifier{}
	svc := ticketing.NewService(ticketing.Deps{
		Store:     store,
		Files:     ticketingtest.NewFiles(),
		Notifier:  notifier,
		Codec:     codec,
		Documents: ticketdoc.NewRenderer(),
		Locker:    ticketingtest.NewLocker(),
	})
	val := ticketing.NewValidator(store, codec, &ticketingtest.Alerter{}, nil)
	scanners := scannertoken.NewIssuer([]byte("api-test-scanner-secret"), time.Hour)

	h := NewHandlers(svc, val, scanners, opts.checks)
	router := SetupRouter(h, RouterConfig{
		Logger:          observability.NewNopLogger(),
		JWTSecret:       jwtSecret,
		Scanners:        scanners,
		RateLimiter:     opts.limiter,
		RateLimitPerMin: 5,
		Idempotency:     opts.idemp,
	})
	return &api{t: t, handler: router, codec: codec, scanners: scanners, notifier: notifier}
}

func loginToken(t *testing.T, id int64, name string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   strconv.FormatInt(id, 10),
		"name":  name,
		"email": "user" + strconv.FormatInt(id, 10) + "@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString(jwtSecret)
	require.NoError(t, err)
	return s
}

func (a *api) do(method, path, bearer string, body interface{}, headers ...string) (*httptest.ResponseRecorder, map[string]interface{}) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	out := map[string]interface{}{}
	if bytes.HasPrefix(bytes.TrimSpace(rec.Body.Bytes()), []byte("{")) {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func id(v interface{}) string {
	return strconv.FormatInt(int64(v.(float64)), 10)
}

// seed publishes an event with one ticket type on sale and returns the
// ticket type id.
func (a *api) seed(promoterToken string, quantity int) string {
	a.t.Helper()
	start := time.Now().Add(10 * 24 * time.Hour).UTC().Truncate(time.Second)
	rec, ev := a.do("POST", "/v1/events", promoterToken, map[string]interface{}{
		"title":      "Kampala Jazz Night",
		"venue":      "Serena Gardens",
		"start_date": start,
		"end_date":   start.Add(6 * time.Hour),
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	eventID := id(ev["id"])

	rec, _ = a.do("POST", "/v1/events/"+eventID+"/publish", promoterToken, nil)
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())

	rec, tt := a.do("POST", "/v1/events/"+eventID+"/ticket-types", promoterToken, map[string]interface{}{
		"name":       "Regular",
		"price":      "25000",
		"quantity":   quantity,
		"sale_start": time.Now().Add(-time.Hour).UTC(),
		"sale_end":   start.Add(-time.Hour),
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return id(tt["id"])
}

func (a *api) buy(ticketTypeID string, quantity int) string {
	a.t.Helper()
	ttID, _ := strconv.ParseInt(ticketTypeID, 10, 64)
	rec, p := a.do("POST", "/v1/purchases", "", map[string]interface{}{
		"ticket_type_id":  ttID,
		"quantity":        quantity,
		"purchaser_email": "buyer@example.com",
		"purchaser_phone": "+256700000002",
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return id(p["id"])
}

func TestPurchaseApproveAndScan(t *testing.T) {
	a := newAPI(t, apiOptions{})
	promoter := loginToken(t, 11, "Promo Ter")
	ttID := a.seed(promoter, 5)
	pid := a.buy(ttID, 1)

	rec, body := a.do("POST", "/v1/purchases/"+pid+"/payment", "", map[string]string{"payment_method": "mtn"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Regexp(t, `^MTN-[0-9A-F]{8}$`, body["transaction_reference"])
	assert.Equal(t, "25000.00", body["amount"])

	rec, _ = a.do("POST", "/v1/purchases/"+pid+"/proof", "", map[string]string{"proof_url": "https://files.test/proof.png"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = a.do("GET", "/v1/approvals", promoter, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"event_title":"Kampala Jazz Night"`)

	rec, body = a.do("POST", "/v1/purchases/"+pid+"/approve", promoter, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tickets := body["tickets"].([]interface{})
	require.Len(t, tickets, 1)
	tk := tickets[0].(map[string]interface{})
	assert.NotContains(t, body, "notification_error")
	assert.Len(t, a.notifier.Sent, 1)

	rec, body = a.do("POST", "/v1/purchases/"+pid+"/approve", promoter, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	purchaseID, _ := strconv.ParseInt(pid, 10, 64)
	cred, err := a.codec.Render(credential.Payload{PurchaseID: purchaseID, AttendeeID: int64(tk["attendee_id"].(float64))})
	require.NoError(t, err)
	scanner, _, err := a.scanners.Issue("op-1", "North Gate")
	require.NoError(t, err)

	rec, body = a.do("POST", "/v1/scan/exit?token="+scanner, "", map[string]string{"payload": cred})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "Ticket has not been used for entry", body["reason"])

	rec, body = a.do("POST", "/v1/scan/entry?token="+scanner, "", map[string]string{"payload": cred})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "Guest", body["attendee"])
	assert.Equal(t, "op-1 (North Gate)", body["ticket"].(map[string]interface{})["entry_scanned_by"])

	rec, body = a.do("POST", "/v1/scan/entry?token="+scanner, "", map[string]string{"payload": cred})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["valid"])
	assert.Contains(t, body["reason"], "Ticket already used at ")

	rec, body = a.do("POST", "/v1/scan/exit?token="+scanner, "", map[string]string{
		"payload":      cred,
		"exit_reason":  "injured",
		"injury_notes": "twisted ankle",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "injured", body["ticket"].(map[string]interface{})["exit_reason"])

	rec, body = a.do("POST", "/v1/scan/exit?token="+scanner, "", map[string]string{"payload": cred})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["reason"], "Ticket already exited at ")

	rec, body = a.do("GET", "/v1/purchases/"+pid+"?email=buyer@example.com", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["purchase"].(map[string]interface{})["is_approved_by_promoter"])

	rec, _ = a.do("GET", "/v1/purchases/"+pid, promoter, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = a.do("GET", "/v1/purchases/"+pid, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "buyer@example.com")

	rec, _ = a.do("GET", "/v1/purchases/"+pid, loginToken(t, 77, "Curious Visitor"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSoldOutAndValidation(t *testing.T) {
	a := newAPI(t, apiOptions{})
	promoter := loginToken(t, 11, "Promo Ter")
	ttID := a.seed(promoter, 2)
	a.buy(ttID, 2)

	tt, _ := strconv.ParseInt(ttID, 10, 64)
	rec, body := a.do("POST", "/v1/purchases", "", map[string]interface{}{
		"ticket_type_id": tt, "quantity": 1, "purchaser_email": "late@example.com", "purchaser_phone": "+256700000003",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, body["error"], "insufficient stock")

	rec, body = a.do("POST", "/v1/purchases", "", map[string]interface{}{
		"ticket_type_id": tt, "quantity": 0, "purchaser_email": "not-an-email",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "PurchaserEmail")
	assert.Contains(t, body["error"], "PurchaserPhone failed required")

	rec, body = a.do("POST", "/v1/purchases", "", map[string]interface{}{
		"ticket_type_id": tt, "quantity": 1, "purchaser_email": "long@example.com",
		"purchaser_phone": "+2567000000000000000000",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "PurchaserPhone failed max")

	rec, _ = a.do("POST", "/v1/purchases/abc/payment", "", map[string]string{"payment_method": "mtn"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = a.do("GET", "/v1/purchases/999", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthentication(t *testing.T) {
	a := newAPI(t, apiOptions{})

	rec, _ := a.do("POST", "/v1/events", "", map[string]string{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = a.do("GET", "/v1/approvals", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	scanner, _, err := scannertoken.NewIssuer(jwtSecret, time.Hour).Issue("op-1", "")
	require.NoError(t, err)
	rec, _ = a.do("GET", "/v1/approvals", scanner, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "scanner tokens are not login tokens")

	promoter := loginToken(t, 11, "Promo Ter")
	ttID := a.seed(promoter, 1)
	pid := a.buy(ttID, 1)
	rec, _ = a.do("POST", "/v1/purchases/"+pid+"/approve", loginToken(t, 99, "Someone"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestScanRequiresScannerToken(t *testing.T) {
	a := newAPI(t, apiOptions{})

	rec, body := a.do("POST", "/v1/scan/entry", "", map[string]string{"payload": "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "Scanner token is required", body["reason"])

	rec, _ = a.do("POST", "/v1/scan/entry?token="+loginToken(t, 11, "P"), "", map[string]string{"payload": "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	scanner, _, err := a.scanners.Issue("op-1", "")
	require.NoError(t, err)
	rec, body = a.do("POST", "/v1/scan/entry?token="+scanner, "", map[string]string{"payload": "{'purchase_id': 1}"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["valid"])

	cred, err := a.codec.Render(credential.Payload{PurchaseID: 404, AttendeeID: 1})
	require.NoError(t, err)
	rec, body = a.do("POST", "/v1/scan/entry?token="+scanner, "", map[string]string{"payload": cred})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ticket not found", body["reason"])

	rec, _ = a.do("POST", "/v1/scan/exit?token="+scanner, "", map[string]string{"payload": cred, "exit_reason": "teleported"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type memReplay struct {
	mu     sync.Mutex
	stored map[string]idempotency.Response
	begun  map[string]bool
}

func (m *memReplay) Get(ctx context.Context, key string) (*idempotency.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.stored[key]; ok {
		return &r, nil
	}
	return nil, nil
}

func (m *memReplay) Begin(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.begun[key] {
		return idempotency.ErrInFlight
	}
	m.begun[key] = true
	return nil
}

func (m *memReplay) Finish(ctx context.Context, key string, resp idempotency.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored[key] = resp
	delete(m.begun, key)
	return nil
}

func (m *memReplay) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.begun, key)
	return nil
}

// staleFirstRead misses on the first lookup of a key, as if the response
// was stored just after that lookup.
type staleFirstRead struct {
	*memReplay
	missed map[string]bool
}

func (s *staleFirstRead) Get(ctx context.Context, key string) (*idempotency.Response, error) {
	s.mu.Lock()
	missed := s.missed[key]
	s.missed[key] = true
	s.mu.Unlock()
	if !missed {
		return nil, nil
	}
	return s.memReplay.Get(ctx, key)
}

func TestCreatePurchaseIsIdempotent(t *testing.T) {
	replay := &memReplay{stored: map[string]idempotency.Response{}, begun: map[string]bool{}}
	a := newAPI(t, apiOptions{idemp: replay})
	ttID := a.seed(loginToken(t, 11, "Promo Ter"), 3)
	tt, _ := strconv.ParseInt(ttID, 10, 64)
	req := map[string]interface{}{"ticket_type_id": tt, "quantity": 1, "purchaser_email": "buyer@example.com", "purchaser_phone": "+256700000002"}
	key := "8d3c1e9a-0b7f-4a52-9e61-3f2d7c4b1a00"

	rec1, first := a.do("POST", "/v1/purchases", "", req, "Idempotency-Key", key)
	require.Equal(t, http.StatusCreated, rec1.Code)
	rec2, second := a.do("POST", "/v1/purchases", "", req, "Idempotency-Key", key)
	require.Equal(t, http.StatusCreated, rec2.Code)
	assert.Equal(t, "true", rec2.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, first["id"], second["id"])

	rec3, third := a.do("POST", "/v1/purchases", "", req, "Idempotency-Key", key+"-2")
	require.Equal(t, http.StatusCreated, rec3.Code)
	assert.NotEqual(t, first["id"], third["id"])

	rec4, _ := a.do("POST", "/v1/purchases", "", req, "Idempotency-Key", "short")
	assert.Equal(t, http.StatusBadRequest, rec4.Code)
}

type countingLimiter struct {
	mu   sync.Mutex
	seen map[string]int
}

func (c *countingLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[key]++
	return c.seen[key] <= rate
}

func TestRateLimit(t *testing.T) {
	a := newAPI(t, apiOptions{limiter: &countingLimiter{seen: map[string]int{}}})
	for i := 0; i < 5; i++ {
		rec, _ := a.do("GET", "/v1/events", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := a.do("GET", "/v1/events", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec, _ = a.do("GET", "/v1/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz(t *testing.T) {
	a := newAPI(t, apiOptions{checks: map[string]ReadinessCheck{
		"crdb":  func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}})
	rec, body := a.do("GET", "/v1/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "connection refused", body["failed"].(map[string]interface{})["redis"])
}

func TestPromoterManagesCatalog(t *testing.T) {
	a := newAPI(t, apiOptions{})
	promoter := loginToken(t, 11, "Promo Ter")
	other := loginToken(t, 12, "Other Promoter")
	ttID := a.seed(promoter, 5)
	pid := a.buy(ttID, 2)

	rec, _ := a.do("GET", "/v1/promoter/events", promoter, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var events []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	eventID := id(events[0]["id"])

	rec, _ = a.do("GET", "/v1/promoter/events", other, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec, _ = a.do("GET", "/v1/promoter/events", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, detail := a.do("GET", "/v1/promoter/events/"+eventID, promoter, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, detail["ticket_types"], 1)
	rec, _ = a.do("GET", "/v1/promoter/events/"+eventID, other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, ev := a.do("PATCH", "/v1/events/"+eventID, promoter, map[string]interface{}{"venue": "Lugogo Grounds"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Lugogo Grounds", ev["venue"])
	assert.Equal(t, "Kampala Jazz Night", ev["title"])
	rec, _ = a.do("PATCH", "/v1/events/"+eventID, other, map[string]interface{}{"venue": "Elsewhere"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, tt := a.do("PATCH", "/v1/ticket-types/"+ttID, promoter, map[string]interface{}{"price": "30000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "30000.00", tt["price"])
	assert.Equal(t, float64(3), tt["remaining"])

	rec, p := a.do("GET", "/v1/purchases/"+pid+"?email=buyer@example.com", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	purchase := p["purchase"].(map[string]interface{})
	assert.Equal(t, "50000.00", purchase["total_amount"])

	rec, _ = a.do("PATCH", "/v1/ticket-types/"+ttID, promoter, map[string]interface{}{"quantity": 50})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec, _ = a.do("PATCH", "/v1/ticket-types/"+ttID, promoter, map[string]interface{}{"quantity": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = a.do("DELETE", "/v1/ticket-types/"+ttID, promoter, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = a.do("PATCH", "/v1/ticket-types/"+ttID, promoter, map[string]interface{}{"active": false})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = a.do("GET", "/v1/events/"+eventID+"/ticket-types", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	start := time.Now().Add(10 * 24 * time.Hour).UTC()
	rec, vip := a.do("POST", "/v1/events/"+eventID+"/ticket-types", promoter, map[string]interface{}{
		"name":       "VIP",
		"price":      "90000",
		"quantity":   2,
		"sale_start": time.Now().Add(-time.Hour).UTC(),
		"sale_end":   start.Add(-2 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec, _ = a.do("DELETE", "/v1/ticket-types/"+id(vip["id"]), other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = a.do("DELETE", "/v1/ticket-types/"+id(vip["id"]), promoter, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestIdempotentReplayAfterLateFinish(t *testing.T) {
	mem := &memReplay{stored: map[string]idempotency.Response{}, begun: map[string]bool{}}
	stale := &staleFirstRead{memReplay: mem, missed: map[string]bool{}}
	a := newAPI(t, apiOptions{idemp: stale})
	ttID := a.seed(loginToken(t, 11, "Promo Ter"), 3)
	tt, _ := strconv.ParseInt(ttID, 10, 64)
	req := map[string]interface{}{"ticket_type_id": tt, "quantity": 1, "purchaser_email": "buyer@example.com", "purchaser_phone": "+256700000002"}
	key := "0c6f2a8e-55d1-4b0e-a3a7-9b1d2e4f6a10"

	rec1, first := a.do("POST", "/v1/purchases", "", req, "Idempotency-Key", key)
	require.Equal(t, http.StatusCreated, rec1.Code, rec1.Body.String())
	assert.Empty(t, rec1.Header().Get("Idempotent-Replayed"))

	// the retry's first lookup misses; the one after claiming finds the
	// stored response and replays it instead of buying again
	stale.mu.Lock()
	stale.missed = map[string]bool{}
	stale.mu.Unlock()
	rec2, second := a.do("POST", "/v1/purchases", "", req, "Idempotency-Key", key)
	require.Equal(t, http.StatusCreated, rec2.Code)
	assert.Equal(t, "true", rec2.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, first["id"], second["id"])

	mem.mu.Lock()
	assert.Empty(t, mem.begun)
	assert.Len(t, mem.stored, 1)
	mem.mu.Unlock()

	rec3, third := a.do("POST", "/v1/purchases", "", req, "Idempotency-Key", key+"-next")
	require.Equal(t, http.StatusCreated, rec3.Code)
	assert.NotEqual(t, first["id"], third["id"])
}
