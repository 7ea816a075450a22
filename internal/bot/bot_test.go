package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"realityshop/internal/config"
	"realityshop/internal/panel"
	"realityshop/internal/payment"
	"realityshop/internal/pricing"
)

type fakeDirectory struct {
	servers   []config.ServerDescriptor
	capacity  map[string][2]int
	capErr    map[string]error
	subs      map[string]panel.Subscription
	statusErr error
	connErr   error
	accesses  []panel.ClientAccess
}

func (f *fakeDirectory) Servers() []config.ServerDescriptor { return f.servers }

func (f *fakeDirectory) Server(id string) (config.ServerDescriptor, error) {
	for _, d := range f.servers {
		if d.ID == id {
			return d, nil
		}
	}
	return config.ServerDescriptor{}, panel.ErrUnsupportedServer
}

func (f *fakeDirectory) Capacity(_ context.Context, id string) (int, int, error) {
	if err := f.capErr[id]; err != nil {
		return 0, 0, err
	}
	c := f.capacity[id]
	return c[0], c[1], nil
}

func (f *fakeDirectory) Status(context.Context, int64) (map[string]panel.Subscription, error) {
	return f.subs, f.statusErr
}

func (f *fakeDirectory) ConnectionString(_ context.Context, _ string, a panel.ClientAccess) (string, error) {
	f.accesses = append(f.accesses, a)
	if f.connErr != nil {
		return "", f.connErr
	}
	return "vless://" + a.ID + "@1.2.3.4:443#" + a.Email, nil
}

type fakeQuoter struct{ err error }

func (f fakeQuoter) Price(_ context.Context, band pricing.Band, _ string) (int, error) {
	return band.Min, f.err
}

func (f fakeQuoter) PriceList(context.Context, string) ([]pricing.PlanPrice, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []pricing.PlanPrice
	for _, p := range pricing.Plans() {
		out = append(out, pricing.PlanPrice{Plan: p, Price: p.Band.Min})
	}
	return out, nil
}

type fakeGateway struct {
	name   string
	err    error
	orders []payment.Order
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) CreatePayment(_ context.Context, o payment.Order) (*payment.Invoice, error) {
	g.orders = append(g.orders, o)
	if g.err != nil {
		return nil, g.err
	}
	return &payment.Invoice{ID: g.name + "-1", URL: "https://pay.example/" + g.name}, nil
}

func newTestBot(dir *fakeDirectory, q Quoter, card, crypto payment.Gateway) *Bot {
	return newBot(config.BotConfig{SupportURL: "https://t.me/support"}, Deps{
		Directory:     dir,
		Prices:        q,
		YooKassa:      card,
		CryptoCloud:   crypto,
		DefaultServer: "germany_1",
		Timeout:       time.Second,
		Logger:        zap.NewNop(),
	})
}

func twoServers() *fakeDirectory {
	return &fakeDirectory{
		servers: []config.ServerDescriptor{
			{ID: "germany_1", Name: "Germany_1"},
			{ID: "finland_1", Name: "Finland"},
		},
		capacity: map[string][2]int{"germany_1": {10, 100}, "finland_1": {50, 50}},
	}
}

func buttons(m *tele.ReplyMarkup) []tele.InlineButton {
	var out []tele.InlineButton
	for _, row := range m.InlineKeyboard {
		out = append(out, row...)
	}
	return out
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"user@example.com", "user@example.com", true},
		{"  User@Example.COM ", "User@example.com", true},
		{"user@localhost", "", false},
		{"not an email", "", false},
		{"Name <user@example.com>", "", false},
		{"user@example.", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := normalizeEmail(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("normalizeEmail(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("normalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestServerScreenMarksFullServers(t *testing.T) {
	dir := twoServers()
	dir.servers = append(dir.servers, config.ServerDescriptor{ID: "nl_1", Name: "NL"})
	dir.capErr = map[string]error{"nl_1": panel.ErrServerUnavailable}

	text, markup := newTestBot(dir, fakeQuoter{}, nil, nil).serverScreen(context.Background())
	if text != textChooseServer {
		t.Fatalf("text = %q", text)
	}
	got := buttons(markup)
	want := []string{cbServerPrefix + "germany_1", cbFull, cbFull, cbMainMenu}
	if len(got) != len(want) {
		t.Fatalf("buttons = %+v", got)
	}
	for i, w := range want {
		if got[i].Data != w {
			t.Errorf("button %d data = %q, want %q", i, got[i].Data, w)
		}
	}
}

func TestStatusScreen(t *testing.T) {
	expiry := time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)
	dir := twoServers()
	dir.subs = map[string]panel.Subscription{
		"germany_1": {ServerID: "germany_1", AccessID: "uuid-1", Label: "42_ab12", Expiry: expiry, Active: true},
	}

	text, _ := newTestBot(dir, fakeQuoter{}, nil, nil).statusScreen(context.Background(), 42)
	for _, want := range []string{textActive, "2026-11-01 12:00:00", `Germany\_1`, "vless://uuid-1@1.2.3.4:443#42_ab12"} {
		if !strings.Contains(text, want) {
			t.Errorf("status lacks %q:\n%s", want, text)
		}
	}
	if len(dir.accesses) != 1 || dir.accesses[0].Email != "42_ab12" {
		t.Fatalf("accesses = %+v", dir.accesses)
	}
}

func TestStatusScreenEmptyAndPartial(t *testing.T) {
	dir := twoServers()
	b := newTestBot(dir, fakeQuoter{}, nil, nil)

	text, _ := b.statusScreen(context.Background(), 42)
	if text != textNoSubscription {
		t.Fatalf("text = %q", text)
	}

	dir.statusErr = errors.New("finland_1: connection refused")
	text, _ = b.statusScreen(context.Background(), 42)
	if !strings.Contains(text, textStatusPartial) || !strings.Contains(text, textNoSubscription) {
		t.Fatalf("text = %q", text)
	}

	dir.subs = map[string]panel.Subscription{"germany_1": {AccessID: "uuid-1", Active: false}}
	dir.connErr = errors.New("reality settings missing")
	text, _ = b.statusScreen(context.Background(), 42)
	if !strings.Contains(text, textInactive) || !strings.Contains(text, "Ключ временно недоступен") {
		t.Fatalf("text = %q", text)
	}
}

func TestPlanScreen(t *testing.T) {
	b := newTestBot(twoServers(), fakeQuoter{}, nil, nil)
	b.sessions.update(42, func(s *session) { s.Mode = cbRenew })

	text, markup := b.planScreen(context.Background(), 42, "germany_1")
	if !strings.Contains(text, `Germany\_1`) {
		t.Fatalf("text = %q", text)
	}
	got := buttons(markup)
	if len(got) != len(pricing.Plans())+2 {
		t.Fatalf("buttons = %d", len(got))
	}
	if got[0].Data != "1_day" || got[0].Text != "1️⃣ 1 День - 10 руб" {
		t.Errorf("first plan = %+v", got[0])
	}
	if got[len(got)-2].Data != cbRenew {
		t.Errorf("back goes to %q", got[len(got)-2].Data)
	}
	if b.sessions.get(42).ServerID != "germany_1" {
		t.Fatal("server not remembered")
	}

	text, _ = newTestBot(twoServers(), fakeQuoter{err: panel.ErrServerUnavailable}, nil, nil).
		planScreen(context.Background(), 42, "germany_1")
	if !strings.Contains(text, "Не удалось получить цены") {
		t.Fatalf("text = %q", text)
	}
}

func TestConfirmScreenAttention(t *testing.T) {
	tests := []struct {
		name   string
		mode   string
		subbed bool
		want   string
	}{
		{"new on subscribed server", cbNewSubscription, true, textAttentionRenew},
		{"renew without subscription", cbRenew, false, textAttentionCreate},
		{"plain new", cbNewSubscription, false, ""},
		{"plain renew", cbRenew, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := twoServers()
			if tt.subbed {
				dir.subs = map[string]panel.Subscription{"germany_1": {AccessID: "uuid-1", Active: true}}
			}
			b := newTestBot(dir, fakeQuoter{}, nil, nil)
			b.sessions.update(42, func(s *session) { s.Mode = tt.mode; s.ServerID = "germany_1" })

			text, markup := b.confirmScreen(context.Background(), 42, "1_month")
			if !strings.Contains(text, "90 RUB") {
				t.Errorf("text lacks price:\n%s", text)
			}
			hasRenew := strings.Contains(text, textAttentionRenew)
			hasCreate := strings.Contains(text, textAttentionCreate)
			switch tt.want {
			case textAttentionRenew:
				if !hasRenew || hasCreate {
					t.Errorf("text = %q", text)
				}
			case textAttentionCreate:
				if !hasCreate || hasRenew {
					t.Errorf("text = %q", text)
				}
			default:
				if hasRenew || hasCreate {
					t.Errorf("unexpected attention in %q", text)
				}
			}
			if got := buttons(markup); got[1].Data != cbServerPrefix+"germany_1" {
				t.Errorf("no goes to %q", got[1].Data)
			}
		})
	}
}

func TestConfirmScreenDefaultsServer(t *testing.T) {
	b := newTestBot(twoServers(), fakeQuoter{}, nil, nil)
	b.confirmScreen(context.Background(), 7, "1_day")
	sess := b.sessions.get(7)
	if sess.ServerID != "germany_1" || sess.PlanID != "1_day" {
		t.Fatalf("session = %+v", sess)
	}
}

func TestPaymentScreen(t *testing.T) {
	card := &fakeGateway{name: "yookassa"}
	crypto := &fakeGateway{name: "cryptocloud"}
	b := newTestBot(twoServers(), fakeQuoter{}, card, crypto)

	text, _ := b.paymentScreen(context.Background(), 42, 42, 100)
	if text != textSessionExpired {
		t.Fatalf("text = %q", text)
	}

	b.sessions.update(42, func(s *session) { s.PlanID = "1_week"; s.ServerID = "finland_1" })
	text, _ = b.paymentScreen(context.Background(), 42, 42, 100)
	if text != textEmailMissing || len(card.orders) != 0 {
		t.Fatalf("text = %q, orders = %d", text, len(card.orders))
	}

	b.sessions.update(42, func(s *session) { s.Email = "user@example.com" })
	text, markup := b.paymentScreen(context.Background(), 42, 42, 100)
	if !strings.Contains(text, "40 RUB") {
		t.Fatalf("text = %q", text)
	}
	got := buttons(markup)
	if got[0].URL != "https://pay.example/yookassa" || got[1].URL != "https://pay.example/cryptocloud" {
		t.Fatalf("buttons = %+v", got)
	}
	o := card.orders[0]
	if o.Amount != 40 || o.PlanID != "1_week" || o.ServerID != "finland_1" || o.MessageID != 100 || o.Email != "user@example.com" {
		t.Fatalf("order = %+v", o)
	}
}

func TestPaymentScreenGatewayFailures(t *testing.T) {
	card := &fakeGateway{name: "yookassa", err: errors.New("503")}
	crypto := &fakeGateway{name: "cryptocloud"}
	b := newTestBot(twoServers(), fakeQuoter{}, card, crypto)
	b.sessions.update(42, func(s *session) { s.PlanID = "1_day"; s.Email = "user@example.com" })

	_, markup := b.paymentScreen(context.Background(), 42, 42, 100)
	got := buttons(markup)
	if got[0].Data != cbUnavailable || got[1].URL == "" {
		t.Fatalf("buttons = %+v", got)
	}

	crypto.err = errors.New("invalid token")
	text, _ := b.paymentScreen(context.Background(), 42, 42, 100)
	if text != textPaymentFailed {
		t.Fatalf("text = %q", text)
	}
}

func TestMainMenuKeyboard(t *testing.T) {
	got := buttons(mainMenuKeyboard("https://t.me/support", ""))
	if len(got) != 5 {
		t.Fatalf("buttons = %+v", got)
	}
	if got[3].URL != "https://t.me/support" || got[4].Data != cbFAQ {
		t.Fatalf("buttons = %+v", got)
	}
	if got := buttons(mainMenuKeyboard("", "https://faq.example")); got[3].URL != "https://faq.example" {
		t.Fatalf("buttons = %+v", got)
	}
}

func TestSessionStoreReturnsCopies(t *testing.T) {
	s := newSessionStore()
	got := s.get(1)
	got.Email = "x@y.z"
	if s.get(1).Email != "" {
		t.Fatal("get leaked a pointer")
	}
	s.update(1, func(sess *session) { sess.Mode = cbRenew })
	if s.get(1).Mode != cbRenew || s.get(2).Mode != "" {
		t.Fatal("update not isolated per user")
	}
}

func TestMarkdownEscape(t *testing.T) {
	if got := md("de_1 *fast* [eu]`"); got != `de\_1 \*fast\* \[eu]` + "\\`" {
		t.Fatalf("md = %q", got)
	}
}
