package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"realityshop/internal/config"
	"realityshop/internal/handler"
	"realityshop/internal/handler/api"
	"realityshop/internal/payment"
	"realityshop/internal/pricing"
	"realityshop/internal/provisioning"
)

type countingEngine struct{ handled, rejected int }

func (e *countingEngine) Handle(_ context.Context, ev provisioning.PaymentConfirmed) (provisioning.Outcome, error) {
	e.handled++
	return provisioning.Outcome{Event: ev, Action: provisioning.ActionCreate}, nil
}

func (e *countingEngine) Reject(context.Context, string, string, error) { e.rejected++ }

type stubFinder struct{ calls int }

func (f *stubFinder) FindPayment(_ context.Context, id string) (*payment.YooKassaPayment, error) {
	f.calls++
	return &payment.YooKassaPayment{ID: id, Status: payment.YooKassaCanceled}, nil
}

type openVerifier struct{}

func (openVerifier) VerifyToken(string) error { return nil }

type stubPrices struct{}

func (stubPrices) PriceList(context.Context, string) ([]pricing.PlanPrice, error) {
	return nil, nil
}

type stubServers struct{}

func (stubServers) Server(id string) (config.ServerDescriptor, error) {
	return config.ServerDescriptor{ID: id}, nil
}

func newTestServer(t *testing.T, trusted []string) (*echo.Echo, *countingEngine, *stubFinder) {
	t.Helper()
	engine := &countingEngine{}
	finder := &stubFinder{}
	e := echo.New()
	err := Setup(e, Deps{
		Payments:       handler.NewPaymentCallbackHandler(engine, finder, openVerifier{}, time.Second, zap.NewNop()),
		Quotes:         api.NewQuoteHandler(stubPrices{}, stubServers{}, "germany_1", zap.NewNop()),
		APIKey:         "secret",
		YooKassaCIDRs:  []string{"185.71.76.0/27", "77.75.156.11"},
		TrustedProxies: trusted,
		Logger:         zap.NewNop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return e, engine, finder
}

func do(e *echo.Echo, method, path, remote string, header map[string]string, body string) int {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = remote
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code
}

const notification = `{"event":"payment.succeeded","object":{"id":"pay-1"}}`

var jsonHeader = map[string]string{echo.HeaderContentType: echo.MIMEApplicationJSON}

func TestYooKassaRoutesEnforceAllowList(t *testing.T) {
	e, engine, finder := newTestServer(t, nil)

	for _, path := range []string{"/provider-a-webhook", "/yookassa-webhook"} {
		if code := do(e, http.MethodPost, path, "198.51.100.1:1000", jsonHeader, notification); code != http.StatusForbidden {
			t.Fatalf("%s from outside: %d", path, code)
		}
		if code := do(e, http.MethodPost, path, "77.75.156.11:1000", jsonHeader, notification); code != http.StatusOK {
			t.Fatalf("%s from allowed source: %d", path, code)
		}
	}
	if finder.calls != 2 || engine.handled != 0 {
		t.Fatalf("finder calls = %d, engine calls = %d", finder.calls, engine.handled)
	}
}

func TestTrustedProxyForwardedFor(t *testing.T) {
	e, _, finder := newTestServer(t, []string{"10.0.0.0/8"})

	header := map[string]string{
		echo.HeaderContentType:   echo.MIMEApplicationJSON,
		echo.HeaderXForwardedFor: "185.71.76.2",
	}
	if code := do(e, http.MethodPost, "/provider-a-webhook", "10.1.2.3:5000", header, notification); code != http.StatusOK {
		t.Fatalf("via trusted proxy: %d", code)
	}
	if code := do(e, http.MethodPost, "/provider-a-webhook", "203.0.113.5:5000", header, notification); code != http.StatusForbidden {
		t.Fatalf("via untrusted peer: %d", code)
	}
	if finder.calls != 1 {
		t.Fatalf("finder calls = %d", finder.calls)
	}
}

func TestCryptoCloudRoutesAreOpen(t *testing.T) {
	e, engine, _ := newTestServer(t, nil)
	form := map[string]string{echo.HeaderContentType: echo.MIMEApplicationForm}

	for _, path := range []string{"/provider-b-webhook", "/cryptocloud-webhook"} {
		if code := do(e, http.MethodPost, path, "198.51.100.1:1000", form, "status=fail"); code != http.StatusOK {
			t.Fatalf("%s: %d", path, code)
		}
	}
	if engine.handled != 0 {
		t.Fatalf("engine calls = %d", engine.handled)
	}
}

func TestAuxiliaryRoutes(t *testing.T) {
	e, _, _ := newTestServer(t, nil)

	if code := do(e, http.MethodGet, "/health", "127.0.0.1:1", nil, ""); code != http.StatusOK {
		t.Fatalf("/health: %d", code)
	}
	if code := do(e, http.MethodGet, "/metrics", "127.0.0.1:1", nil, ""); code != http.StatusOK {
		t.Fatalf("/metrics: %d", code)
	}
	if code := do(e, http.MethodGet, "/api/quote", "127.0.0.1:1", nil, ""); code != http.StatusUnauthorized {
		t.Fatalf("/api/quote without token: %d", code)
	}
	if code := do(e, http.MethodGet, "/api/quote", "127.0.0.1:1", map[string]string{"Token": "secret"}, ""); code != http.StatusOK {
		t.Fatalf("/api/quote with token: %d", code)
	}
}

func TestSetupRejectsBadAllowList(t *testing.T) {
	err := Setup(echo.New(), Deps{YooKassaCIDRs: []string{"not-a-cidr"}, Logger: zap.NewNop()})
	if err == nil {
		t.Fatal("expected error")
	}
}
