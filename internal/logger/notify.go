package logger

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Sender is the part of *tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// AdminNotifier pushes critical alerts to the admin chat. A nil notifier drops everything.
type AdminNotifier struct {
	bot     Sender
	adminID int64
	log     *zap.Logger
}

func NewAdminNotifier(bot Sender, adminID int64, log *zap.Logger) *AdminNotifier {
	if bot == nil || adminID == 0 {
		return nil
	}
	return &AdminNotifier{bot: bot, adminID: adminID, log: Component(log, "admin_notifier")}
}

// Notify sends "[ALERT] msg" to the admin. Delivery failures are only logged.
func (n *AdminNotifier) Notify(msg string) {
	if n == nil {
		return
	}
	if _, err := n.bot.Send(tgbotapi.NewMessage(n.adminID, "[ALERT] "+msg)); err != nil {
		n.log.Warn("admin alert not delivered", zap.String("alert", msg), zap.Error(err))
	}
}

// NotifyOnPanic must be deferred; it recovers, logs and alerts.
func (n *AdminNotifier) NotifyOnPanic(where string) {
	if r := recover(); r != nil {
		if n != nil {
			n.log.Error("panic recovered", zap.String("where", where), zap.Any("panic", r), zap.Stack("stack"))
		}
		n.Notify("Panic in " + where + ": " + toString(r))
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	default:
		return fmt.Sprintf("%v", t)
	}
}
