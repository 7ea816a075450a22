package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// MainMenuButton is attached to every message the payment side sends.
var MainMenuButton = InlineButton{Text: "🏠 В главное меню", CallbackData: "main_menu"}

type InlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

type InlineKeyboard struct {
	InlineKeyboard [][]InlineButton `json:"inline_keyboard"`
}

// APIError is a response with ok=false.
type APIError struct {
	Method      string
	Code        int    `json:"error_code"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// BotAPI provides a direct Telegram Bot API client.
// Used by the webhook side, which has no telebot instance of its own.
type BotAPI struct {
	client *resty.Client
}

// NewBotAPI creates a new direct Telegram Bot API client.
func NewBotAPI(token string, timeout time.Duration) *BotAPI {
	return &BotAPI{
		client: resty.New().
			SetBaseURL("https://api.telegram.org/bot"+token).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// SetBaseURL points the client at another API host.
func (b *BotAPI) SetBaseURL(url string) *BotAPI {
	b.client.SetBaseURL(url)
	return b
}

// Call makes a raw API call to the Telegram Bot API.
func (b *BotAPI) Call(ctx context.Context, method string, params map[string]interface{}) error {
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(params).
		Post("/" + method)
	if err != nil {
		return fmt.Errorf("telegram API call %s failed: %w", method, err)
	}

	var result struct {
		OK bool `json:"ok"`
		APIError
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return fmt.Errorf("telegram API call %s: status %d: %w", method, resp.StatusCode(), err)
	}
	if !result.OK {
		result.APIError.Method = method
		return &result.APIError
	}
	return nil
}

// SendMessage sends a Markdown text message.
func (b *BotAPI) SendMessage(ctx context.Context, chatID int64, text string) error {
	return b.Call(ctx, "sendMessage", map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
}

// EditMessage replaces the text of a message with a main-menu button under it.
func (b *BotAPI) EditMessage(ctx context.Context, chatID int64, messageID int, text string) error {
	return b.Call(ctx, "editMessageText", map[string]interface{}{
		"chat_id":      chatID,
		"message_id":   messageID,
		"text":         text,
		"parse_mode":   "Markdown",
		"reply_markup": InlineKeyboard{InlineKeyboard: [][]InlineButton{{MainMenuButton}}},
	})
}
