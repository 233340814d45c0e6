package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"outline-vpn-bot/internal/messenger"
	"outline-vpn-bot/internal/services"
)

// LinkBuilder produces gateway payment links; *services.PaymentLinks implements it.
type LinkBuilder interface {
	ForNewKey(userID int64, plan services.Plan) string
	ForRenewal(userID int64, subID uint, plan services.Plan) string
}

// newKeyPayment is the message with the pay button for a fresh key.
func newKeyPayment(chatID, userID int64, links LinkBuilder, plan services.Plan) tgbotapi.MessageConfig {
	return paymentMessage(chatID, plan, links.ForNewKey(userID, plan),
		fmt.Sprintf("Для оплаты подписки на %d дней нажмите кнопку ниже:", plan.Days))
}

// renewalPayment is the message with the pay button for extending subID.
func renewalPayment(chatID, userID int64, subID uint, links LinkBuilder, plan services.Plan) tgbotapi.MessageConfig {
	return paymentMessage(chatID, plan, links.ForRenewal(userID, subID, plan),
		fmt.Sprintf("Для продления подписки на %d дней нажмите кнопку ниже:", plan.Days))
}

func paymentMessage(chatID int64, plan services.Plan, link, text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = messenger.Keyboard(messenger.LinkButton(fmt.Sprintf("Оплатить %s рублей", plan.Price.String()), link))
	return msg
}
