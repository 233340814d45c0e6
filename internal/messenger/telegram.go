// Package messenger delivers user notifications through the Telegram bot.
package messenger

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Button is an inline action under a message: callback data or an external URL.
type Button struct {
	Text string
	Data string
	URL  string
}

func CallbackButton(text, data string) Button { return Button{Text: text, Data: data} }

func LinkButton(text, url string) Button { return Button{Text: text, URL: url} }

// Sender is satisfied by *tgbotapi.BotAPI.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	bot Sender
}

func NewTelegram(bot Sender) *Telegram {
	return &Telegram{bot: bot}
}

// Send writes text to the user's private chat. The bot's HTTP client carries the timeout;
// ctx is only checked before the call.
func (t *Telegram) Send(ctx context.Context, userID int64, text string, buttons ...Button) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(userID, text)
	if len(buttons) > 0 {
		msg.ReplyMarkup = Keyboard(buttons...)
	}
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send to %d: %w", userID, err)
	}
	return nil
}

// Keyboard lays the buttons out one per row.
func Keyboard(buttons ...Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		var btn tgbotapi.InlineKeyboardButton
		if b.URL != "" {
			btn = tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL)
		} else {
			btn = tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data)
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(btn))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
