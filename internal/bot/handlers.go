// Package bot is the Telegram chat front-end: menus, key listing, payment links and trials.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"outline-vpn-bot/internal/db"
	"outline-vpn-bot/internal/logger"
	"outline-vpn-bot/internal/services"
)

// API is the part of *tgbotapi.BotAPI the handlers use.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Subscriptions is the read side of the ledger the chat needs.
type Subscriptions interface {
	SubscriptionsByUser(ctx context.Context, userID int64) ([]db.Subscription, error)
	GetSubscription(ctx context.Context, id uint) (db.Subscription, error)
	HasUsedTrial(ctx context.Context, userID int64) (bool, error)
}

// TrialGranter hands out the one-hour trial.
type TrialGranter interface {
	Grant(ctx context.Context, userID int64) (*db.Subscription, error)
}

// AdminCommands handles /admin_* commands.
type AdminCommands interface {
	IsAdmin(userID int64) bool
	Handle(ctx context.Context, msg *tgbotapi.Message)
}

const (
	msgMenu          = "Выберите действие:"
	msgTooFast       = "Пожалуйста, не так быстро! Подождите пару секунд..."
	msgUnknown       = "Неизвестная команда. Используйте /start, чтобы открыть меню."
	msgTryLater      = "Произошла ошибка. Попробуйте позже."
	msgNoSubs        = "У вас нет активных подписок."
	msgNoSubsToRenew = "У вас нет активных подписок для продления."
	msgSubNotFound   = "Подписка не найдена."
	msgBadPeriod     = "Некорректный выбор периода подписки."
	msgBadRenewData  = "Некорректные данные для продления подписки."
	msgTrialUsed     = "Вы уже использовали тестовый период."
	msgTrialFailed   = "Не удалось создать тестовый ключ. Попробуйте позже."
	msgInstruction   = "Для того чтобы начать пользоваться VPN, установите приложение Outline VPN:\n\n" +
		"👉 Для iOS: [Установить](https://apps.apple.com/us/app/outline-app/id1356177741)\n" +
		"👉 Для Android: [Установить](https://play.google.com/store/apps/details?id=org.outline.android.client)\n" +
		"👉 Для MacOS: [Установить](https://apps.apple.com/us/app/outline-app/id1356177741)\n" +
		"👉 Для Windows: [Установить](https://s3.amazonaws.com/outline-releases/client/windows/stable/Outline-Client.exe)\n\n" +
		"После оплаты подписки вы получите ключ.\n" +
		"Его нужно скопировать, перейти в приложение, нажать 'Добавить сервер' и вставить в поле ввода.\n\n" +
		"По всем вопросам писать %s\n"
)

// Handler routes chat updates.
type Handler struct {
	api     API
	subs    Subscriptions
	trial   TrialGranter
	links   LinkBuilder
	admin   AdminCommands
	limiter *RateLimiter
	alert   *logger.AdminNotifier
	support string
	log     *zap.Logger
	now     func() time.Time
}

type HandlerConfig struct {
	API            API
	Subscriptions  Subscriptions
	Trial          TrialGranter
	Links          LinkBuilder
	Admin          AdminCommands
	Limiter        *RateLimiter
	Alert          *logger.AdminNotifier
	SupportContact string
}

func NewHandler(cfg HandlerConfig, log *zap.Logger) *Handler {
	return &Handler{
		api:     cfg.API,
		subs:    cfg.Subscriptions,
		trial:   cfg.Trial,
		links:   cfg.Links,
		admin:   cfg.Admin,
		limiter: cfg.Limiter,
		alert:   cfg.Alert,
		support: cfg.SupportContact,
		log:     logger.Component(log, "bot"),
		now:     time.Now,
	}
}

func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		h.handleMessage(ctx, update.Message)
	default:
		h.log.Debug("update ignored", updateFields(update)...)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID, chatID := msg.From.ID, msg.Chat.ID
	cmd := msg.Command()
	if cmd != "" && h.limited(userID, "/"+cmd) {
		h.reply(chatID, msgTooFast)
		return
	}
	if strings.HasPrefix(cmd, "admin_") && h.admin != nil && h.admin.IsAdmin(userID) {
		h.admin.Handle(ctx, msg)
		return
	}
	switch cmd {
	case "start", "menu":
		h.sendMenu(ctx, chatID, userID)
	case "help":
		h.reply(chatID, "Откройте меню командой /start. Там можно получить ключ, оплатить или продлить подписку.")
	default:
		h.reply(chatID, msgUnknown)
	}
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := h.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		h.log.Debug("callback not acknowledged", zap.Error(err))
	}
	if cb.From == nil {
		return
	}
	userID, chatID := cb.From.ID, cb.From.ID
	if cb.Message != nil && cb.Message.Chat != nil {
		chatID = cb.Message.Chat.ID
	}
	data := cb.Data
	if h.limited(userID, limitKey(data)) {
		h.reply(chatID, msgTooFast)
		return
	}

	switch {
	case data == services.ActionInstruction:
		msg := tgbotapi.NewMessage(chatID, fmt.Sprintf(msgInstruction, h.support))
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.DisableWebPagePreview = true
		h.send(msg)
	case data == cbMyKeys:
		h.myKeys(ctx, chatID, userID)
	case data == services.ActionBuyNewKey:
		h.replyWith(chatID, "Выберите период подписки для нового ключа:", planKeyboard(cbNewSubscribe))
	case data == cbPaySubscription:
		h.replyWith(chatID, msgMenu, payKeyboard())
	case data == services.ActionRenew:
		h.renewChooser(ctx, chatID, userID)
	case data == cbTestVPN:
		h.testVPN(ctx, chatID, userID)
	case strings.HasPrefix(data, cbNewSubscribe):
		plan, ok := planFromData(strings.TrimPrefix(data, cbNewSubscribe))
		if !ok {
			h.reply(chatID, msgBadPeriod)
			return
		}
		h.send(newKeyPayment(chatID, userID, h.links, plan))
	case strings.HasPrefix(data, cbChooseSub):
		id, err := strconv.ParseUint(strings.TrimPrefix(data, cbChooseSub), 10, 64)
		if err != nil {
			h.reply(chatID, msgBadRenewData)
			return
		}
		if _, ok := h.ownSubscription(ctx, chatID, userID, uint(id)); ok {
			h.replyWith(chatID, "Выберите период продления подписки:", renewalPlanKeyboard(uint(id)))
		}
	case strings.HasPrefix(data, cbRenew):
		h.renewPayment(ctx, chatID, userID, data)
	default:
		h.log.Debug("unknown callback", zap.Int64("user_id", userID), zap.String("data", data))
	}
}

func (h *Handler) sendMenu(ctx context.Context, chatID, userID int64) {
	used, err := h.subs.HasUsedTrial(ctx, userID)
	if err != nil {
		h.log.Error("failed to check trial usage", zap.Int64("user_id", userID), zap.Error(err))
		used = true
	}
	h.replyWith(chatID, msgMenu, startKeyboard(used))
}

func (h *Handler) myKeys(ctx context.Context, chatID, userID int64) {
	subs, err := h.subs.SubscriptionsByUser(ctx, userID)
	if err != nil {
		h.log.Error("failed to list subscriptions", zap.Int64("user_id", userID), zap.Error(err))
		h.reply(chatID, msgTryLater)
		return
	}
	if len(subs) == 0 {
		h.replyWith(chatID, msgNoSubs, subscribeKeyboard())
		return
	}
	h.reply(chatID, "Ваши ключи:")
	now := h.now()
	for _, s := range subs {
		h.reply(chatID, s.AccessURL)
		h.reply(chatID, remainingText(s.Remaining(now)))
	}
	h.replyWith(chatID, "Чтобы продлить подписку или купить новый ключ, нажмите кнопку ниже.", myKeysKeyboard())
}

func (h *Handler) renewChooser(ctx context.Context, chatID, userID int64) {
	subs, err := h.subs.SubscriptionsByUser(ctx, userID)
	if err != nil {
		h.log.Error("failed to list subscriptions", zap.Int64("user_id", userID), zap.Error(err))
		h.reply(chatID, msgTryLater)
		return
	}
	switch len(subs) {
	case 0:
		h.reply(chatID, msgNoSubsToRenew)
	case 1:
		h.replyWith(chatID, "Выберите период продления подписки:", renewalPlanKeyboard(subs[0].ID))
	default:
		h.replyWith(chatID, "Выберите подписку для продления:", chooserKeyboard(subs))
	}
}

// renewPayment handles "renew_{sub_id}_{days}".
func (h *Handler) renewPayment(ctx context.Context, chatID, userID int64, data string) {
	parts := strings.Split(data, "_")
	if len(parts) != 3 {
		h.reply(chatID, msgBadRenewData)
		return
	}
	subID, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		h.reply(chatID, msgBadRenewData)
		return
	}
	plan, ok := planFromData(parts[2])
	if !ok {
		h.reply(chatID, msgBadPeriod)
		return
	}
	if _, ok := h.ownSubscription(ctx, chatID, userID, uint(subID)); !ok {
		return
	}
	h.send(renewalPayment(chatID, userID, uint(subID), h.links, plan))
}

func (h *Handler) ownSubscription(ctx context.Context, chatID, userID int64, subID uint) (db.Subscription, bool) {
	sub, err := h.subs.GetSubscription(ctx, subID)
	if errors.Is(err, db.ErrSubscriptionNotFound) || err == nil && sub.UserID != userID {
		h.reply(chatID, msgSubNotFound)
		return sub, false
	}
	if err != nil {
		h.log.Error("failed to load subscription", zap.Uint("sub_id", subID), zap.Error(err))
		h.reply(chatID, msgTryLater)
		return sub, false
	}
	return sub, true
}

func (h *Handler) testVPN(ctx context.Context, chatID, userID int64) {
	sub, err := h.trial.Grant(ctx, userID)
	switch {
	case errors.Is(err, db.ErrTrialAlreadyUsed):
		h.reply(chatID, msgTrialUsed)
		return
	case err != nil:
		h.log.Error("trial not granted", zap.Int64("user_id", userID), zap.Error(err))
		h.reply(chatID, msgTrialFailed)
		return
	}
	h.reply(chatID, "Ваш тестовый ключ:")
	h.reply(chatID, sub.AccessURL)
	h.reply(chatID, "Ключ будет действителен в течение 1 часа.")
}

func (h *Handler) limited(userID int64, key string) bool {
	return h.limiter != nil && h.limiter.IsLimited(userID, key)
}

// limitKey groups parametrised callbacks so "renew_5_30" and "renew_6_90" share a limit.
func limitKey(data string) string {
	switch {
	case strings.HasPrefix(data, cbNewSubscribe):
		return "new_subscribe"
	case data != services.ActionRenew && strings.HasPrefix(data, cbRenew):
		return "renew"
	case strings.HasPrefix(data, cbChooseSub):
		return "choose_sub"
	}
	return data
}

func planFromData(s string) (services.Plan, bool) {
	days, err := strconv.Atoi(s)
	if err != nil {
		return services.Plan{}, false
	}
	return services.PlanByDays(days)
}

func (h *Handler) reply(chatID int64, text string) {
	h.send(tgbotapi.NewMessage(chatID, text))
}

func (h *Handler) replyWith(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = kb
	h.send(msg)
}

func (h *Handler) send(msg tgbotapi.MessageConfig) {
	if _, err := h.api.Send(msg); err != nil {
		h.log.Warn("message not sent", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
	}
}
