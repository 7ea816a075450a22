package bot

import (
	"context"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"realityshop/internal/config"
	"realityshop/internal/panel"
	"realityshop/internal/payment"
	"realityshop/internal/pricing"
)

// Directory is the read side of the server directory the bot shows.
type Directory interface {
	Servers() []config.ServerDescriptor
	Server(serverID string) (config.ServerDescriptor, error)
	Capacity(ctx context.Context, serverID string) (int, int, error)
	Status(ctx context.Context, userID int64) (map[string]panel.Subscription, error)
	ConnectionString(ctx context.Context, serverID string, access panel.ClientAccess) (string, error)
}

// Quoter prices plans against live capacity.
type Quoter interface {
	Price(ctx context.Context, band pricing.Band, serverID string) (int, error)
	PriceList(ctx context.Context, serverID string) ([]pricing.PlanPrice, error)
}

// Deps bundles what the bot handlers need.
type Deps struct {
	Directory     Directory
	Prices        Quoter
	YooKassa      payment.Gateway
	CryptoCloud   payment.Gateway
	DefaultServer string
	Timeout       time.Duration
	Logger        *zap.Logger
}

// Bot wraps the telebot instance and handlers.
type Bot struct {
	tb       *tele.Bot
	cfg      config.BotConfig
	dir      Directory
	prices   Quoter
	yookassa payment.Gateway
	crypto   payment.Gateway
	fallback string
	timeout  time.Duration
	sessions *sessionStore
	logger   *zap.Logger
}

// New creates and configures a new Bot instance using long polling.
func New(cfg config.BotConfig, d Deps) (*Bot, error) {
	pref := tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			d.Logger.Error("telebot error", zap.Error(err))
		},
	}

	tb, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create telebot: %w", err)
	}

	b := newBot(cfg, d)
	b.tb = tb
	b.registerHandlers()

	return b, nil
}

func newBot(cfg config.BotConfig, d Deps) *Bot {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Bot{
		cfg:      cfg,
		dir:      d.Directory,
		prices:   d.Prices,
		yookassa: d.YooKassa,
		crypto:   d.CryptoCloud,
		fallback: d.DefaultServer,
		timeout:  timeout,
		sessions: newSessionStore(),
		logger:   d.Logger,
	}
}

// Start begins polling.
func (b *Bot) Start() {
	if err := b.tb.RemoveWebhook(true); err != nil {
		b.logger.Warn("Failed to remove webhook before long polling", zap.Error(err))
	}
	b.logger.Info("Starting Telegram bot", zap.String("mode", "polling"))
	b.tb.Start()
}

// Stop gracefully shuts down the bot.
func (b *Bot) Stop() {
	b.tb.Stop()
}

// registerHandlers sets up all bot message and callback handlers.
func (b *Bot) registerHandlers() {
	b.tb.Handle("/start", b.handleStart)
	b.tb.Handle("/set_email", b.handleSetEmail)
	b.tb.Handle(tele.OnText, b.handleText)
	b.tb.Handle(tele.OnCallback, b.handleCallback)
}

// ── /start ────────────────────────────────────────────────────────────

func (b *Bot) handleStart(c tele.Context) error {
	b.sessions.update(c.Sender().ID, func(s *session) { s.AwaitingEmail = false })
	return c.Send(textWelcome, mainMenuKeyboard(b.cfg.SupportURL, b.cfg.FAQURL))
}

// ── /set_email ────────────────────────────────────────────────────────

func (b *Bot) handleSetEmail(c tele.Context) error {
	msg, err := c.Bot().Send(c.Recipient(), textAskEmail, backToMenuKeyboard())
	if err != nil {
		return err
	}
	b.sessions.update(c.Sender().ID, func(s *session) {
		s.AwaitingEmail = true
		s.EmailInvalid = false
		s.EmailChatID = msg.Chat.ID
		s.EmailMessageID = msg.ID
	})
	return nil
}

func (b *Bot) handleText(c tele.Context) error {
	userID := c.Sender().ID
	sess := b.sessions.get(userID)
	if !sess.AwaitingEmail {
		return nil
	}

	// The address is echoed back in the prompt; the user's message only clutters the chat.
	if err := c.Delete(); err != nil {
		b.logger.Debug("Failed to delete email message", zap.Error(err))
	}
	prompt := &tele.Message{ID: sess.EmailMessageID, Chat: &tele.Chat{ID: sess.EmailChatID}}

	email, err := normalizeEmail(c.Text())
	if err != nil {
		if sess.EmailInvalid {
			return nil
		}
		b.sessions.update(userID, func(s *session) { s.EmailInvalid = true })
		_, err := c.Bot().Edit(prompt, fmt.Sprintf(textEmailInvalid, err), backToMenuKeyboard())
		return ignoreNotModified(err)
	}

	b.sessions.update(userID, func(s *session) {
		s.Email = email
		s.AwaitingEmail = false
		s.EmailInvalid = false
	})
	_, err = c.Bot().Edit(prompt, fmt.Sprintf(textEmailSaved, email), backToMenuKeyboard())
	return ignoreNotModified(err)
}

// normalizeEmail accepts a bare address with a dotted domain.
func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", fmt.Errorf("адрес %q не распознан", raw)
	}
	at := strings.LastIndexByte(raw, '@')
	local, domain := raw[:at], strings.ToLower(raw[at+1:])
	if !strings.Contains(strings.Trim(domain, "."), ".") {
		return "", fmt.Errorf("в домене %q нет точки", domain)
	}
	return local + "@" + domain, nil
}

// ── Callbacks ─────────────────────────────────────────────────────────

func (b *Bot) handleCallback(c tele.Context) error {
	_ = c.Respond()

	userID := c.Sender().ID
	data := strings.TrimSpace(c.Callback().Data)

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	var (
		text   string
		markup *tele.ReplyMarkup
	)
	switch {
	case data == cbMainMenu:
		b.sessions.update(userID, func(s *session) { s.AwaitingEmail = false })
		text, markup = textWelcome, mainMenuKeyboard(b.cfg.SupportURL, b.cfg.FAQURL)

	case data == cbUnavailable:
		return nil

	case data == cbStatus:
		text, markup = b.statusScreen(ctx, userID)

	case data == cbFAQ:
		text, markup = textFAQ, backToMenuKeyboard()

	case data == cbNewSubscription || data == cbRenew:
		b.sessions.update(userID, func(s *session) { s.Mode = data })
		text, markup = b.serverScreen(ctx)

	case data == cbFull:
		text, markup = textServerFull, backKeyboard(b.mode(userID))

	case strings.HasPrefix(data, cbServerPrefix):
		text, markup = b.planScreen(ctx, userID, strings.TrimPrefix(data, cbServerPrefix))

	case isPlan(data):
		text, markup = b.confirmScreen(ctx, userID, data)

	case data == cbConfirmPayment:
		text, markup = b.paymentScreen(ctx, userID, c.Chat().ID, c.Message().ID)

	default:
		b.logger.Debug("Unknown callback", zap.String("data", data))
		return nil
	}

	return ignoreNotModified(c.Edit(text, markup, tele.ModeMarkdown))
}

func ignoreNotModified(err error) error {
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	return err
}

func isPlan(data string) bool {
	_, err := pricing.LookupPlan(data)
	return err == nil
}

func (b *Bot) mode(userID int64) string {
	if m := b.sessions.get(userID).Mode; m != "" {
		return m
	}
	return cbNewSubscription
}

func (b *Bot) serverName(serverID string) string {
	d, err := b.dir.Server(serverID)
	if err != nil {
		return serverID
	}
	return d.Name
}

// ── Screens ───────────────────────────────────────────────────────────

func (b *Bot) statusScreen(ctx context.Context, userID int64) (string, *tele.ReplyMarkup) {
	subs, err := b.dir.Status(ctx, userID)
	if len(subs) == 0 {
		if err != nil {
			return textStatusPartial + "\n" + textNoSubscription, backToMenuKeyboard()
		}
		return textNoSubscription, backToMenuKeyboard()
	}

	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString(textStatusHeader)
	if err != nil {
		sb.WriteString(textStatusPartial + "\n")
	}
	for _, id := range ids {
		sub := subs[id]
		state := textInactive
		if sub.Active {
			state = textActive
		}
		expiry := "-"
		if !sub.Expiry.IsZero() {
			expiry = sub.Expiry.Format("2006-01-02 15:04:05")
		}
		name := md(b.serverName(id))

		access := panel.ClientAccess{ID: sub.AccessID, Email: sub.Label, ServerID: id, Expiry: sub.Expiry}
		conn, cerr := b.dir.ConnectionString(ctx, id, access)
		if cerr != nil {
			b.logger.Warn("Failed to build connection string", zap.String("server", id), zap.Error(cerr))
			fmt.Fprintf(&sb, textStatusNoKey, state, expiry, name)
			continue
		}
		fmt.Fprintf(&sb, textStatusEntry, state, expiry, name, conn)
	}
	return sb.String(), backToMenuKeyboard()
}

func (b *Bot) serverScreen(ctx context.Context) (string, *tele.ReplyMarkup) {
	descs := b.dir.Servers()
	options := make([]serverOption, 0, len(descs))
	for _, d := range descs {
		current, limit, err := b.dir.Capacity(ctx, d.ID)
		full := err != nil || (limit > 0 && current >= limit)
		if err != nil {
			b.logger.Warn("Server hidden from picker", zap.String("server", d.ID), zap.Error(err))
		}
		options = append(options, serverOption{ID: d.ID, Name: d.Name, Full: full})
	}
	return textChooseServer, serverKeyboard(options)
}

func (b *Bot) planScreen(ctx context.Context, userID int64, serverID string) (string, *tele.ReplyMarkup) {
	mode := b.mode(userID)
	desc, err := b.dir.Server(serverID)
	if err != nil {
		return textServerFull, backKeyboard(mode)
	}
	prices, err := b.prices.PriceList(ctx, serverID)
	if err != nil {
		b.logger.Warn("Failed to quote plans", zap.String("server", serverID), zap.Error(err))
		return fmt.Sprintf(textPricesFailed, md(desc.Name)), backKeyboard(mode)
	}

	b.sessions.update(userID, func(s *session) { s.ServerID = serverID })
	return fmt.Sprintf(textChoosePlan, md(desc.Name)), planKeyboard(prices, mode)
}

func (b *Bot) confirmScreen(ctx context.Context, userID int64, planID string) (string, *tele.ReplyMarkup) {
	sess := b.sessions.update(userID, func(s *session) {
		s.PlanID = planID
		if s.ServerID == "" {
			s.ServerID = b.fallback
		}
	})
	mode := b.mode(userID)

	plan, err := pricing.LookupPlan(planID)
	if err != nil {
		return textSessionExpired, backToMenuKeyboard()
	}
	price, err := b.prices.Price(ctx, plan.Band, sess.ServerID)
	if err != nil {
		b.logger.Warn("Failed to quote plan", zap.String("server", sess.ServerID), zap.Error(err))
		return fmt.Sprintf(textPricesFailed, md(b.serverName(sess.ServerID))), backKeyboard(mode)
	}

	modeText := textModeNew
	if mode == cbRenew {
		modeText = textModeRenew
	}

	// The engine decides create vs renew from the panel, not from the button.
	attention := ""
	subs, err := b.dir.Status(ctx, userID)
	if err == nil || len(subs) > 0 {
		_, has := subs[sess.ServerID]
		switch {
		case mode == cbNewSubscription && has:
			attention = textAttentionRenew
		case mode == cbRenew && !has:
			attention = textAttentionCreate
		}
	}

	text := fmt.Sprintf(textConfirm, md(b.serverName(sess.ServerID)), plan.Title, price, modeText, attention)
	return text, confirmKeyboard(sess.ServerID)
}

func (b *Bot) paymentScreen(ctx context.Context, userID, chatID int64, messageID int) (string, *tele.ReplyMarkup) {
	sess := b.sessions.get(userID)
	if sess.PlanID == "" {
		return textSessionExpired, backToMenuKeyboard()
	}
	if sess.Email == "" {
		return textEmailMissing, backToMenuKeyboard()
	}
	serverID := sess.ServerID
	if serverID == "" {
		serverID = b.fallback
	}

	plan, err := pricing.LookupPlan(sess.PlanID)
	if err != nil {
		return textSessionExpired, backToMenuKeyboard()
	}
	// Re-quoted: capacity may have moved since the confirmation screen.
	price, err := b.prices.Price(ctx, plan.Band, serverID)
	if err != nil {
		b.logger.Warn("Failed to quote plan", zap.String("server", serverID), zap.Error(err))
		return fmt.Sprintf(textPricesFailed, md(b.serverName(serverID))), backToMenuKeyboard()
	}

	order := payment.Order{
		Amount:    price,
		PlanID:    plan.ID,
		PlanTitle: plan.Title,
		UserID:    userID,
		ServerID:  serverID,
		ChatID:    chatID,
		MessageID: messageID,
		Email:     sess.Email,
	}
	cardURL := b.invoiceURL(ctx, b.yookassa, order)
	cryptoURL := b.invoiceURL(ctx, b.crypto, order)
	if cardURL == "" && cryptoURL == "" {
		return textPaymentFailed, backToMenuKeyboard()
	}

	return fmt.Sprintf(textPay, price), payKeyboard(cardURL, cryptoURL)
}

func (b *Bot) invoiceURL(ctx context.Context, g payment.Gateway, order payment.Order) string {
	if g == nil {
		return ""
	}
	inv, err := g.CreatePayment(ctx, order)
	if err != nil {
		b.logger.Error("Failed to create payment",
			zap.String("gateway", g.Name()),
			zap.Int64("user_id", order.UserID),
			zap.String("server", order.ServerID),
			zap.Error(err),
		)
		return ""
	}
	b.logger.Info("Payment created",
		zap.String("gateway", g.Name()),
		zap.String("invoice_id", inv.ID),
		zap.Int64("user_id", order.UserID),
		zap.Int("amount", order.Amount),
	)
	return inv.URL
}
