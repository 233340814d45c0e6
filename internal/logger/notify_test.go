package logger

import (
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func TestNotifierDisabledWithoutAdmin(t *testing.T) {
	n := NewAdminNotifier(&fakeSender{}, 0, zap.NewNop())
	assert.Nil(t, n)
	// must not panic
	n.Notify("ignored")
}

func TestNotifyPrefixesAlert(t *testing.T) {
	s := &fakeSender{}
	n := NewAdminNotifier(s, 42, zap.NewNop())
	n.Notify("provider down")

	if assert.Len(t, s.sent, 1) {
		assert.Equal(t, int64(42), s.sent[0].ChatID)
		assert.Equal(t, "[ALERT] provider down", s.sent[0].Text)
	}
}

func TestNotifyOnPanicRecovers(t *testing.T) {
	s := &fakeSender{err: errors.New("telegram down")}
	n := NewAdminNotifier(s, 42, zap.NewNop())

	func() {
		defer n.NotifyOnPanic("sweep")
		panic(errors.New("boom"))
	}()

	if assert.Len(t, s.sent, 1) {
		assert.Equal(t, "[ALERT] Panic in sweep: boom", s.sent[0].Text)
	}
}
