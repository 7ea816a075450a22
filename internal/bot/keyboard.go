package bot

import (
	"fmt"

	tele "gopkg.in/telebot.v3"

	"realityshop/internal/pricing"
)

// serverOption is one row of the server picker.
type serverOption struct {
	ID   string
	Name string
	Full bool
}

// Buttons carry raw callback data so callbacks stay compatible with
// messages sent before a restart.
func dataRow(text, data string) []tele.InlineButton {
	return []tele.InlineButton{{Text: text, Data: data}}
}

func urlRow(text, url string) []tele.InlineButton {
	return []tele.InlineButton{{Text: text, URL: url}}
}

func inline(rows ...[]tele.InlineButton) *tele.ReplyMarkup {
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}

func mainMenuKeyboard(supportURL, faqURL string) *tele.ReplyMarkup {
	rows := [][]tele.InlineButton{
		dataRow(btnNewSubscription, cbNewSubscription),
		dataRow(btnStatus, cbStatus),
		dataRow(btnRenew, cbRenew),
	}
	if supportURL != "" {
		rows = append(rows, urlRow(btnSupport, supportURL))
	}
	if faqURL != "" {
		rows = append(rows, urlRow(btnFAQ, faqURL))
	} else {
		rows = append(rows, dataRow(btnFAQ, cbFAQ))
	}
	return inline(rows...)
}

func backToMenuKeyboard() *tele.ReplyMarkup {
	return inline(dataRow(btnMainMenu, cbMainMenu))
}

func serverKeyboard(options []serverOption) *tele.ReplyMarkup {
	rows := make([][]tele.InlineButton, 0, len(options)+1)
	for _, o := range options {
		if o.Full {
			rows = append(rows, dataRow(o.Name+" (🚫 мест нет)", cbFull))
			continue
		}
		rows = append(rows, dataRow(o.Name, cbServerPrefix+o.ID))
	}
	rows = append(rows, dataRow(btnMainMenu, cbMainMenu))
	return inline(rows...)
}

func planKeyboard(prices []pricing.PlanPrice, mode string) *tele.ReplyMarkup {
	rows := make([][]tele.InlineButton, 0, len(prices)+2)
	for _, pp := range prices {
		label, ok := planLabels[pp.Plan.ID]
		if !ok {
			label = pp.Plan.Title
		}
		rows = append(rows, dataRow(fmt.Sprintf("%s - %d руб", label, pp.Price), pp.Plan.ID))
	}
	rows = append(rows,
		dataRow(btnBack, mode),
		dataRow(btnMainMenu, cbMainMenu),
	)
	return inline(rows...)
}

func confirmKeyboard(serverID string) *tele.ReplyMarkup {
	return inline(
		dataRow(btnYes, cbConfirmPayment),
		dataRow(btnNo, cbServerPrefix+serverID),
	)
}

func payKeyboard(cardURL, cryptoURL string) *tele.ReplyMarkup {
	rows := make([][]tele.InlineButton, 0, 3)
	if cardURL != "" {
		rows = append(rows, urlRow(btnPay, cardURL))
	} else {
		rows = append(rows, dataRow(btnPayOff, cbUnavailable))
	}
	if cryptoURL != "" {
		rows = append(rows, urlRow(btnPayCrypto, cryptoURL))
	} else {
		rows = append(rows, dataRow(btnPayCryptoOff, cbUnavailable))
	}
	rows = append(rows, dataRow(btnMainMenu, cbMainMenu))
	return inline(rows...)
}

func backKeyboard(mode string) *tele.ReplyMarkup {
	return inline(dataRow(btnBack, mode))
}
