// Package admin serves the operator's /admin_* chat commands and database backups.
package admin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"outline-vpn-bot/internal/db"
	"outline-vpn-bot/internal/logger"
	"outline-vpn-bot/internal/services"
)

type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type StatsSource interface {
	Stats(ctx context.Context, now time.Time) (db.Stats, error)
}

type Reconciler interface {
	Run(ctx context.Context) (services.ReconcileReport, error)
}

type Sweeper interface {
	Run(ctx context.Context) (services.SweepReport, error)
}

type HealthSource interface {
	Status() (services.ServerStatus, bool)
}

type BackupStore interface {
	Create(ctx context.Context, prefix string) (string, error)
	Restore(ctx context.Context, file string) error
}

// Handler runs admin commands. Every field except API may be nil; the command then
// answers that the feature is off.
type Handler struct {
	api     API
	adminID int64
	stats   StatsSource
	sync    Reconciler
	sweep   Sweeper
	health  HealthSource
	backups BackupStore
	log     *zap.Logger
	now     func() time.Time
}

type Config struct {
	API     API
	AdminID int64
	Stats   StatsSource
	Sync    Reconciler
	Sweep   Sweeper
	Health  HealthSource
	Backups BackupStore
}

func NewHandler(cfg Config, log *zap.Logger) *Handler {
	return &Handler{
		api:     cfg.API,
		adminID: cfg.AdminID,
		stats:   cfg.Stats,
		sync:    cfg.Sync,
		sweep:   cfg.Sweep,
		health:  cfg.Health,
		backups: cfg.Backups,
		log:     logger.Component(log, "admin"),
		now:     time.Now,
	}
}

func (h *Handler) IsAdmin(userID int64) bool {
	return h.adminID != 0 && userID == h.adminID
}

func (h *Handler) Handle(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || !h.IsAdmin(msg.From.ID) {
		return
	}
	chatID := msg.Chat.ID
	cmd := msg.Command()
	logger.LogAdminAction(h.log, msg.From.ID, cmd, msg.CommandArguments())
	switch cmd {
	case "admin_stats":
		h.handleStats(ctx, chatID)
	case "admin_sync":
		h.handleSync(ctx, chatID)
	case "admin_sweep":
		h.handleSweep(ctx, chatID)
	case "admin_backup":
		h.handleBackup(ctx, chatID)
	case "admin_restore":
		h.handleRestore(ctx, chatID, strings.TrimSpace(msg.CommandArguments()))
	default:
		h.reply(chatID, "Команды: /admin_stats, /admin_sync, /admin_sweep, /admin_backup, /admin_restore <файл>")
	}
}

var statusOrder = []struct {
	status db.Status
	title  string
}{
	{db.StatusActive, "активных"},
	{db.StatusWarned5Days, "предупреждены за 5 дней"},
	{db.StatusWarned1Day, "предупреждены за 1 день"},
	{db.StatusExpiring, "ожидают отключения"},
	{db.StatusExpired, "отключены"},
}

func (h *Handler) handleStats(ctx context.Context, chatID int64) {
	if h.stats == nil {
		h.reply(chatID, "Статистика недоступна")
		return
	}
	st, err := h.stats.Stats(ctx, h.now())
	if err != nil {
		h.log.Error("stats failed", zap.Error(err))
		h.reply(chatID, "Ошибка получения статистики: "+err.Error())
		return
	}
	var sb strings.Builder
	total := 0
	for _, n := range st.ByStatus {
		total += n
	}
	fmt.Fprintf(&sb, "Подписок: %d\n", total)
	for _, s := range statusOrder {
		if n := st.ByStatus[s.status]; n > 0 {
			fmt.Fprintf(&sb, "  %s: %d\n", s.title, n)
		}
	}
	fmt.Fprintf(&sb, "Тестовый период использовали: %d\n", st.TrialUsers)
	fmt.Fprintf(&sb, "Платежей: %d\nВыручка: месяц: %s₽, всего: %s₽",
		st.Purchases, st.Revenue30d.StringFixed(2), st.RevenueTotal.StringFixed(2))
	if h.health != nil {
		if status, ok := h.health.Status(); ok {
			state := "онлайн"
			if !status.Online {
				state = "недоступен (" + status.Error + ")"
			}
			fmt.Fprintf(&sb, "\nСервер Outline: %s, проверен %s", state, status.LastChecked.Format("02.01 15:04"))
		}
	}
	h.reply(chatID, sb.String())
}

func (h *Handler) handleSync(ctx context.Context, chatID int64) {
	if h.sync == nil {
		h.reply(chatID, "Синхронизация недоступна")
		return
	}
	r, err := h.sync.Run(ctx)
	if err != nil {
		h.reply(chatID, "Ошибка синхронизации: "+err.Error())
		return
	}
	h.reply(chatID, fmt.Sprintf(
		"Синхронизация завершена.\nКлючей на сервере: %d, в базе: %d\nУдалено с сервера: %d (ошибок: %d, пропущено новых: %d)\nУдалено из базы: %d (ошибок: %d)",
		r.Remote, r.Local, r.RemoteDeleted, r.RemoteFailed, r.RemoteSkippedYoung, r.LocalDeleted, r.LocalFailed))
}

func (h *Handler) handleSweep(ctx context.Context, chatID int64) {
	if h.sweep == nil {
		h.reply(chatID, "Проверка подписок недоступна")
		return
	}
	r, err := h.sweep.Run(ctx)
	if err != nil {
		h.reply(chatID, "Ошибка проверки подписок: "+err.Error())
		return
	}
	h.reply(chatID, fmt.Sprintf(
		"Проверено подписок: %d\nПредупреждений за 5 дней: %d, за 1 день: %d\nОтключено: %d, пропущено: %d, ошибок: %d",
		r.Checked, r.FiveDays, r.OneDay, r.Expired, r.Skipped, r.Failed))
}

func (h *Handler) handleBackup(ctx context.Context, chatID int64) {
	if h.backups == nil {
		h.reply(chatID, "Резервное копирование недоступно")
		return
	}
	filename, err := h.backups.Create(ctx, "backup")
	if err != nil {
		h.log.Error("manual backup failed", zap.Error(err))
		h.reply(chatID, "Ошибка резервного копирования: "+err.Error())
		return
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(filename))
	doc.Caption = "Резервная копия БД успешно создана"
	if _, err := h.api.Send(doc); err != nil {
		h.log.Warn("backup not delivered", zap.String("file", filename), zap.Error(err))
		h.reply(chatID, "Резервная копия сохранена на сервере: "+filepath.Base(filename))
		return
	}
	_ = os.Remove(filename)
}

func (h *Handler) handleRestore(ctx context.Context, chatID int64, file string) {
	if h.backups == nil {
		h.reply(chatID, "Резервное копирование недоступно")
		return
	}
	if file == "" {
		h.reply(chatID, "Укажите имя файла для восстановления")
		return
	}
	if err := h.backups.Restore(ctx, file); err != nil {
		h.log.Error("restore failed", zap.String("file", file), zap.Error(err))
		h.reply(chatID, "Ошибка восстановления: "+err.Error())
		return
	}
	h.reply(chatID, "Восстановление успешно завершено из файла: "+filepath.Base(file))
}

func (h *Handler) reply(chatID int64, text string) {
	if _, err := h.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		h.log.Warn("admin reply not sent", zap.Error(err))
	}
}
