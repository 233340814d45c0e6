package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"outline-vpn-bot/internal/messenger"
)

// Messenger is the outbound chat channel to users.
type Messenger interface {
	Send(ctx context.Context, userID int64, text string, buttons ...messenger.Button) error
}

// Callback data shared with the chat front-end.
const (
	ActionRenew       = "renew_subscription"
	ActionBuyNewKey   = "buy_new_key"
	ActionInstruction = "instruction"
)

const (
	msgFiveDaysLeft   = "До окончания вашей подписки осталось 5 дней."
	msgOneDayLeft     = "До окончания вашей подписки остался 1 день."
	msgExpired        = "Ваша подписка истекла. Ключ был удален. Оформите подписку, чтобы получить новый ключ."
	msgTeardownFailed = "Произошла ошибка при удалении вашего ключа %s. Пожалуйста, свяжитесь с %s."
	msgWrongAmount    = "Получена неверная сумма оплаты."
	msgKeyFailed      = "Ошибка при создании VPN-ключа."
	msgRenewed        = "Оплата получена! Ваша подписка продлена на %d дней."
	msgRenewReplaced  = "Оплата получена! Продлеваемая подписка уже завершилась, поэтому мы выдали новый ключ на %d дней:"
	msgPaidNewKey     = "Оплата получена! Ваш ключ:"
)

var (
	renewButton       = messenger.CallbackButton("Продлить подписку", ActionRenew)
	buyButton         = messenger.CallbackButton("Оформить подписку", ActionBuyNewKey)
	instructionButton = messenger.CallbackButton("Инструкция", ActionInstruction)
)

// notifier sends with a bounded timeout and reports failures to the caller's log.
type notifier struct {
	out     Messenger
	timeout time.Duration
	log     *zap.Logger
}

func (n notifier) send(ctx context.Context, userID int64, text string, buttons ...messenger.Button) error {
	cctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.out.Send(cctx, userID, text, buttons...); err != nil {
		return remoteErr("send message", err)
	}
	return nil
}

// bestEffort sends and only logs a failure.
func (n notifier) bestEffort(ctx context.Context, userID int64, text string, buttons ...messenger.Button) {
	if err := n.send(ctx, userID, text, buttons...); err != nil {
		n.log.Warn("message not delivered", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func teardownFailedText(keyID, support string) string {
	return fmt.Sprintf(msgTeardownFailed, keyID, support)
}
