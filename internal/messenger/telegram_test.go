package messenger

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, f.err
}

func TestSendWithButtons(t *testing.T) {
	bot := &fakeBot{}
	tg := NewTelegram(bot)

	err := tg.Send(context.Background(), 42, "hello",
		CallbackButton("Продлить", "renew_subscription"),
		LinkButton("Оплатить", "https://yoomoney.ru/quickpay"))
	require.NoError(t, err)
	require.Len(t, bot.sent, 1)

	msg := bot.sent[0]
	assert.Equal(t, int64(42), msg.ChatID)
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 2)
	assert.Equal(t, "renew_subscription", *kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "https://yoomoney.ru/quickpay", *kb.InlineKeyboard[1][0].URL)
}

func TestSendPlainText(t *testing.T) {
	bot := &fakeBot{}
	require.NoError(t, NewTelegram(bot).Send(context.Background(), 1, "plain"))
	assert.Nil(t, bot.sent[0].ReplyMarkup)
}

func TestSendErrors(t *testing.T) {
	bot := &fakeBot{err: errors.New("forbidden: bot was blocked by the user")}
	err := NewTelegram(bot).Send(context.Background(), 1, "x")
	assert.ErrorContains(t, err, "blocked")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bot.err = nil
	err = NewTelegram(bot).Send(ctx, 1, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, bot.sent, 1)
}
