package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Poller is the long-polling half of *tgbotapi.BotAPI.
type Poller interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Run long-polls Telegram and hands every update to h until ctx is done.
// Each update runs in its own goroutine so a slow provider call never stalls the chat.
func Run(ctx context.Context, api Poller, h *Handler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	h.log.Info("polling for updates")
	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			h.log.Info("polling stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			go func(update tgbotapi.Update) {
				defer h.alert.NotifyOnPanic("HandleUpdate")
				h.HandleUpdate(ctx, update)
			}(update)
		}
	}
}

func updateFields(update tgbotapi.Update) []zap.Field {
	fields := []zap.Field{zap.Int("update_id", update.UpdateID)}
	if update.CallbackQuery != nil {
		fields = append(fields, zap.String("callback", update.CallbackQuery.Data))
	}
	return fields
}
