package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"realityshop/internal/idempotency"
	"realityshop/internal/middleware"
	"realityshop/internal/orderref"
	"realityshop/internal/panel"
	"realityshop/internal/payment"
	"realityshop/internal/provisioning"
)

type countingBackend struct {
	mu     sync.Mutex
	owned  map[string]panel.ClientAccess
	calls  int
	create int
	renew  int
}

func newCountingBackend() *countingBackend {
	return &countingBackend{owned: make(map[string]panel.ClientAccess)}
}

func (b *countingBackend) total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *countingBackend) Find(_ context.Context, serverID string, userID int64) (*panel.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	a, ok := b.owned[serverID+"/"+panel.EmailLabel(userID)]
	if !ok {
		return nil, nil
	}
	return &panel.Subscription{ServerID: serverID, AccessID: a.ID, Expiry: a.Expiry}, nil
}

func (b *countingBackend) CreateClient(_ context.Context, serverID string, userID int64, d time.Duration) (panel.ClientAccess, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.create++
	a := panel.ClientAccess{ID: "c1", Email: panel.EmailLabel(userID), ServerID: serverID, Expiry: time.Now().Add(d)}
	b.owned[serverID+"/"+a.Email] = a
	return a, "vless://c1@host", nil
}

func (b *countingBackend) Renew(_ context.Context, serverID, clientID string, d time.Duration) (panel.ClientAccess, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.renew++
	return panel.ClientAccess{ID: clientID, ServerID: serverID, Expiry: time.Now().Add(d)}, nil
}

type nopMessenger struct{}

func (nopMessenger) EditMessage(context.Context, int64, int, string) error { return nil }

type recordingLedger struct {
	mu       sync.Mutex
	outcomes []provisioning.Outcome
}

func (l *recordingLedger) Record(_ context.Context, o provisioning.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, o)
	return nil
}

func (l *recordingLedger) last() provisioning.Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outcomes[len(l.outcomes)-1]
}

type fakeFinder struct {
	payments map[string]*payment.YooKassaPayment
	err      error
	calls    int
}

func (f *fakeFinder) FindPayment(_ context.Context, id string) (*payment.YooKassaPayment, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.payments[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return p, nil
}

type fakeVerifier struct{ err error }

func (v fakeVerifier) VerifyToken(string) error { return v.err }

type webhookFixture struct {
	echo    *echo.Echo
	backend *countingBackend
	ledger  *recordingLedger
	finder  *fakeFinder
}

func newWebhookFixture(t *testing.T, verifier TokenVerifier) *webhookFixture {
	t.Helper()
	f := &webhookFixture{
		echo:    echo.New(),
		backend: newCountingBackend(),
		ledger:  &recordingLedger{},
		finder:  &fakeFinder{payments: make(map[string]*payment.YooKassaPayment)},
	}
	engine := provisioning.NewEngine(f.backend, nopMessenger{}, f.ledger,
		idempotency.NewMemoryDeduper(time.Hour), idempotency.NewKeyedMutex(), zap.NewNop())
	h := NewPaymentCallbackHandler(engine, f.finder, verifier, 5*time.Second, zap.NewNop())

	prefixes, err := middleware.ParsePrefixes([]string{"185.71.76.0/27"})
	if err != nil {
		t.Fatal(err)
	}
	f.echo.IPExtractor = echo.ExtractIPDirect()
	f.echo.POST("/provider-a-webhook", h.YooKassaWebhook,
		middleware.AllowCIDRs(prefixes, zap.NewNop()), middleware.CaptureBody(1<<16))
	f.echo.POST("/provider-b-webhook", h.CryptoCloudWebhook)
	return f
}

func (f *webhookFixture) yookassa(t *testing.T, remote, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/provider-a-webhook", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.RemoteAddr = remote
	return f.serve(t, req)
}

func (f *webhookFixture) cryptocloud(t *testing.T, form url.Values) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/provider-b-webhook", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	return f.serve(t, req)
}

func (f *webhookFixture) serve(t *testing.T, req *http.Request) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	var reply webhookReply
	_ = json.Unmarshal(rec.Body.Bytes(), &reply)
	return rec.Code, reply.Status
}

const allowedIP = "185.71.76.3:443"

func succeededNotification(id string) string {
	return `{"type":"notification","event":"payment.succeeded","object":{"id":"` + id + `","status":"succeeded"}}`
}

func succeededPayment(id string) *payment.YooKassaPayment {
	return &payment.YooKassaPayment{
		ID: id, Status: payment.YooKassaSucceeded, Paid: true, Amount: 110,
		Metadata: map[string]string{
			payment.MetaUserID: "42", payment.MetaServer: "germany_1", payment.MetaPlan: "1_month",
			payment.MetaChatID: "42", payment.MetaMessageID: "7",
		},
	}
}

func TestYooKassaWebhookProvisions(t *testing.T) {
	f := newWebhookFixture(t, fakeVerifier{})
	f.finder.payments["pay-1"] = succeededPayment("pay-1")

	code, status := f.yookassa(t, allowedIP, succeededNotification("pay-1"))
	if code != http.StatusOK || status != "success" {
		t.Fatalf("got %d %q", code, status)
	}
	if f.backend.create != 1 {
		t.Fatalf("creates = %d", f.backend.create)
	}
	out := f.ledger.last()
	if out.Event.UserID != 42 || out.Event.Amount != 110 || !strings.Contains(out.Event.Raw, "pay-1") {
		t.Fatalf("event = %+v", out.Event)
	}
}

func TestYooKassaWebhookDuplicateDelivery(t *testing.T) {
	f := newWebhookFixture(t, fakeVerifier{})
	f.finder.payments["pay-1"] = succeededPayment("pay-1")

	f.yookassa(t, allowedIP, succeededNotification("pay-1"))
	code, status := f.yookassa(t, allowedIP, succeededNotification("pay-1"))

	if code != http.StatusOK || status != "duplicate" {
		t.Fatalf("got %d %q", code, status)
	}
	if f.backend.create+f.backend.renew != 1 {
		t.Fatalf("backend actions = %d, want 1", f.backend.create+f.backend.renew)
	}
}

func TestYooKassaWebhookOutsideAllowList(t *testing.T) {
	f := newWebhookFixture(t, fakeVerifier{})
	f.finder.payments["pay-1"] = succeededPayment("pay-1")

	code, _ := f.yookassa(t, "203.0.113.7:443", succeededNotification("pay-1"))
	if code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", code)
	}
	if f.finder.calls != 0 || f.backend.total() != 0 {
		t.Fatalf("finder calls = %d, backend calls = %d", f.finder.calls, f.backend.total())
	}
}

func TestYooKassaWebhookNonActionable(t *testing.T) {
	f := newWebhookFixture(t, fakeVerifier{})
	pending := succeededPayment("pay-2")
	pending.Status = payment.YooKassaPending
	f.finder.payments["pay-2"] = pending

	tests := []struct {
		name string
		body string
	}{
		{"other event", `{"event":"payment.waiting_for_capture","object":{"id":"pay-2"}}`},
		{"not succeeded per api", succeededNotification("pay-2")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, status := f.yookassa(t, allowedIP, tt.body)
			if code != http.StatusOK || status != "ignored" {
				t.Fatalf("got %d %q", code, status)
			}
		})
	}
	if f.backend.total() != 0 {
		t.Fatalf("backend calls = %d", f.backend.total())
	}
}

func TestYooKassaWebhookBadMetadataIsRejected(t *testing.T) {
	f := newWebhookFixture(t, fakeVerifier{})
	p := succeededPayment("pay-3")
	p.Metadata[payment.MetaUserID] = "not-a-number"
	f.finder.payments["pay-3"] = p

	code, status := f.yookassa(t, allowedIP, succeededNotification("pay-3"))
	if code != http.StatusOK || status != "rejected" {
		t.Fatalf("got %d %q", code, status)
	}
	if out := f.ledger.last(); out.Action != provisioning.ActionRejected {
		t.Fatalf("ledger action = %s", out.Action)
	}
	if f.backend.total() != 0 {
		t.Fatal("backend touched")
	}
}

func TestYooKassaWebhookLookupFailure(t *testing.T) {
	f := newWebhookFixture(t, fakeVerifier{})
	f.finder.err = errors.New("yookassa find payment failed: timeout")

	code, _ := f.yookassa(t, allowedIP, succeededNotification("pay-4"))
	if code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", code)
	}
	if f.backend.total() != 0 {
		t.Fatal("backend touched")
	}
}

func TestCryptoCloudWebhookIgnoresUnpaidStatus(t *testing.T) {
	f := newWebhookFixture(t, fakeVerifier{})
	ref := orderref.New(42, "germany_1", "1_week", 42, 7)

	for _, s := range []string{"fail", "pending", ""} {
		code, status := f.cryptocloud(t, url.Values{"status": {s}, "order_id": {ref.String()}})
		if code != http.StatusOK || status != "ignored" {
			t.Fatalf("status %q: got %d %q", s, code, status)
		}
	}
	if f.backend.total() != 0 {
		t.Fatalf("backend calls = %d, want 0", f.backend.total())
	}
}

func TestCryptoCloudWebhookProvisions(t *testing.T) {
	f := newWebhookFixture(t, fakeVerifier{})
	ref := orderref.New(42, "germany_1", "1_week", 42, 7)
	form := url.Values{"status": {"success"}, "order_id": {ref.String()}, "invoice_id": {"INV-1"}}

	code, status := f.cryptocloud(t, form)
	if code != http.StatusOK || status != "success" {
		t.Fatalf("got %d %q", code, status)
	}
	out := f.ledger.last()
	if out.Event.TxID != ref.Nonce || out.Event.PlanID != "1_week" || out.Event.Amount != 0 {
		t.Fatalf("event = %+v", out.Event)
	}

	// Same postback again is a duplicate; a new order for the same user renews.
	if _, status := f.cryptocloud(t, form); status != "duplicate" {
		t.Fatalf("second postback status = %q", status)
	}
	next := orderref.New(42, "germany_1", "1_day", 42, 8)
	f.cryptocloud(t, url.Values{"status": {"success"}, "order_id": {next.String()}})
	if f.backend.create != 1 || f.backend.renew != 1 {
		t.Fatalf("creates=%d renews=%d", f.backend.create, f.backend.renew)
	}
}

func TestCryptoCloudWebhookRejects(t *testing.T) {
	valid := orderref.New(42, "germany_1", "1_week", 42, 7).String()
	tests := []struct {
		name     string
		verifier TokenVerifier
		orderID  string
	}{
		{"malformed reference", fakeVerifier{}, "abc:42:germany_1"},
		{"bad token", fakeVerifier{err: payment.ErrInvalidToken}, valid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhookFixture(t, tt.verifier)
			code, status := f.cryptocloud(t, url.Values{"status": {"success"}, "order_id": {tt.orderID}})
			if code != http.StatusOK || status != "rejected" {
				t.Fatalf("got %d %q", code, status)
			}
			out := f.ledger.last()
			if out.Action != provisioning.ActionRejected || out.Event.Raw != tt.orderID {
				t.Fatalf("outcome = %+v", out)
			}
			if f.backend.total() != 0 {
				t.Fatal("backend touched")
			}
		})
	}
}

func TestEventFromMetadata(t *testing.T) {
	ev, err := eventFromMetadata(succeededPayment("pay-9"))
	if err != nil {
		t.Fatal(err)
	}
	want := provisioning.PaymentConfirmed{
		Provider: provisioning.ProviderYooKassa, TxID: "pay-9", Amount: 110,
		PlanID: "1_month", UserID: 42, ServerID: "germany_1", ChatID: 42, MessageID: 7,
	}
	if ev != want {
		t.Fatalf("event = %+v", ev)
	}

	for _, key := range []string{payment.MetaUserID, payment.MetaServer, payment.MetaPlan, payment.MetaChatID, payment.MetaMessageID} {
		p := succeededPayment("pay-9")
		delete(p.Metadata, key)
		if _, err := eventFromMetadata(p); err == nil {
			t.Errorf("missing %s accepted", key)
		}
	}
}
