package bot

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"outline-vpn-bot/internal/db"
	"outline-vpn-bot/internal/messenger"
	"outline-vpn-bot/internal/services"
)

// Callback data of the inline menus.
const (
	cbMyKeys          = "my_keys"
	cbTestVPN         = "test_vpn"
	cbPaySubscription = "pay_subscription"
	cbNewSubscribe    = "new_subscribe_"
	cbChooseSub       = "choose_sub_"
	cbRenew           = "renew_"
)

// startKeyboard is the main menu; the trial button disappears once the trial is used.
func startKeyboard(trialUsed bool) tgbotapi.InlineKeyboardMarkup {
	buttons := []messenger.Button{messenger.CallbackButton("Мои ключи", cbMyKeys)}
	if !trialUsed {
		buttons = append(buttons, messenger.CallbackButton("Тест VPN на час", cbTestVPN))
	}
	buttons = append(buttons,
		messenger.CallbackButton("Оплатить подписку", services.ActionBuyNewKey),
		messenger.CallbackButton("Инструкция", services.ActionInstruction),
	)
	return messenger.Keyboard(buttons...)
}

func myKeysKeyboard() tgbotapi.InlineKeyboardMarkup {
	return messenger.Keyboard(
		messenger.CallbackButton("Продлить подписку", services.ActionRenew),
		messenger.CallbackButton("Купить еще ключ", services.ActionBuyNewKey),
	)
}

func payKeyboard() tgbotapi.InlineKeyboardMarkup {
	return messenger.Keyboard(
		messenger.CallbackButton("Купить еще ключ", services.ActionBuyNewKey),
		messenger.CallbackButton("Продлить подписку", services.ActionRenew),
	)
}

func subscribeKeyboard() tgbotapi.InlineKeyboardMarkup {
	return messenger.Keyboard(messenger.CallbackButton("Оформить подписку", services.ActionBuyNewKey))
}

// planKeyboard offers every plan; data is prefix + days.
func planKeyboard(prefix string) tgbotapi.InlineKeyboardMarkup {
	buttons := make([]messenger.Button, 0, len(services.Plans))
	for _, p := range services.Plans {
		buttons = append(buttons, messenger.CallbackButton(planTitle(p), fmt.Sprintf("%s%d", prefix, p.Days)))
	}
	return messenger.Keyboard(buttons...)
}

func renewalPlanKeyboard(subID uint) tgbotapi.InlineKeyboardMarkup {
	return planKeyboard(fmt.Sprintf("%s%d_", cbRenew, subID))
}

// chooserKeyboard lists the user's subscriptions by the tail of their access URL.
func chooserKeyboard(subs []db.Subscription) tgbotapi.InlineKeyboardMarkup {
	buttons := make([]messenger.Button, 0, len(subs))
	for _, s := range subs {
		text := fmt.Sprintf("Ключ %s, до %s", urlTail(s.AccessURL, 10), s.ExpiresAt.Format("02.01.2006"))
		buttons = append(buttons, messenger.CallbackButton(text, fmt.Sprintf("%s%d", cbChooseSub, s.ID)))
	}
	return messenger.Keyboard(buttons...)
}

func planTitle(p services.Plan) string {
	return fmt.Sprintf("%d дней - %s рублей", p.Days, p.Price.String())
}

func urlTail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// remainingText is the human form of the time left on a key.
func remainingText(left time.Duration) string {
	switch {
	case left > 24*time.Hour:
		return fmt.Sprintf("До окончания подписки осталось %d дней", int(left/(24*time.Hour)))
	case left > time.Hour:
		return fmt.Sprintf("До окончания подписки осталось менее %d часов", int(left/time.Hour))
	case left > 0:
		return fmt.Sprintf("До окончания подписки осталось менее %d минут", int(left/time.Minute))
	default:
		return "Срок действия подписки истек"
	}
}
