package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"planner-sync/internal/auth"
	"planner-sync/internal/model"
	"planner-sync/internal/repository"
	"planner-sync/internal/service"
)

const cbDonePrefix = "done:"

const (
	menuLabelToday  = "📋 Сегодня"
	menuLabelReport = "📊 Отчёт"
	menuLabelHelp   = "ℹ️ Помощь"
)

// Bot lets a linked user see and tick off today's tasks from Telegram.
type Bot struct {
	api         *tgbotapi.BotAPI
	userRepo    *repository.UserRepository
	taskSvc     *service.TaskService
	reminderSvc *service.ReminderService
	jwtSecret   string
	loc         *time.Location

	// timeout bounds each update; writes must not outlive the sync pull lag.
	timeout time.Duration
}

func New(token string, userRepo *repository.UserRepository, taskSvc *service.TaskService, reminderSvc *service.ReminderService, jwtSecret string, loc *time.Location, timeout time.Duration) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	if timeout <= 0 {
		timeout = service.DefaultPullLag
	}

	log.Printf("[info] bot authorized on account %s", api.Self.UserName)

	return &Bot{
		api:         api,
		userRepo:    userRepo,
		taskSvc:     taskSvc,
		reminderSvc: reminderSvc,
		jwtSecret:   jwtSecret,
		loc:         loc,
		timeout:     timeout,
	}, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	log.Println("[info] start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		b.handleUpdate(ctx, update)
	}

	return nil
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	switch {
	case update.CallbackQuery != nil:
		if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
			log.Printf("[error] handle callback: %v", err)
		}
	case update.Message != nil:
		if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
			return
		}
		if err := b.handleMessage(ctx, update.Message); err != nil {
			log.Printf("[error] handle message: %v", err)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if msg.IsCommand() {
		log.Printf("[info] command from %d: /%s", msg.From.ID, msg.Command())
		return b.handleCommand(ctx, msg)
	}

	switch strings.ToLower(strings.TrimSpace(msg.Text)) {
	case strings.ToLower(menuLabelToday):
		return b.handleToday(ctx, msg)
	case strings.ToLower(menuLabelReport):
		return b.handleReport(ctx, msg)
	case strings.ToLower(menuLabelHelp):
		return b.handleHelp(msg)
	}

	return b.sendText(msg.Chat.ID, "Я пока не понял сообщение. Набери /today, чтобы увидеть задачи на сегодня, или /help для списка команд.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "link":
		return b.handleLink(ctx, msg)
	case "today":
		return b.handleToday(ctx, msg)
	case "done":
		return b.handleDone(ctx, msg)
	case "report":
		return b.handleReport(ctx, msg)
	default:
		return b.sendText(msg.Chat.ID, "Команда не поддерживается. Загляни в /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "друг"
	}

	text := fmt.Sprintf(
		"👋 Привет, %s!\n<b>Я показываю задачи из планировщика и отмечаю их выполненными.</b>\n\n", escape(name))
	if _, err := b.userRepo.FindByTelegramID(ctx, msg.From.ID); errors.Is(err, repository.ErrNotFound) {
		text += "Сначала привяжи аккаунт: скопируй токен в приложении и отправь <code>/link &lt;токен&gt;</code>.\n\n"
	} else if err != nil {
		return err
	}
	text += helpText()
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	return b.sendText(msg.Chat.ID, helpText())
}

func helpText() string {
	return "ℹ️ <b>Подсказки</b>\n" +
		"• /link &lt;токен&gt; — привязать чат к аккаунту планировщика\n" +
		"• /today — задачи на сегодня, отметить по кнопке\n" +
		"• /done &lt;id&gt; — отметить задачу выполненной на сегодня\n" +
		"• /report — ежедневный отчёт прямо сейчас"
}

func (b *Bot) handleLink(ctx context.Context, msg *tgbotapi.Message) error {
	token := strings.TrimSpace(msg.CommandArguments())
	if token == "" {
		return b.sendText(msg.Chat.ID, "Укажи токен: <code>/link &lt;токен&gt;</code>")
	}
	userID, err := auth.Verify(b.jwtSecret, token)
	if err != nil {
		return b.sendText(msg.Chat.ID, "Токен недействителен или истёк. Получи новый в приложении.")
	}

	user, err := b.userRepo.LinkTelegram(ctx, userID, msg.From.ID, msg.From.FirstName, msg.From.LastName, msg.From.UserName)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось привязать аккаунт: %s", escape(err.Error())))
	}
	log.Printf("[info] telegram %d linked to user=%s", msg.From.ID, user.ID)
	return b.sendText(msg.Chat.ID, "🔗 Аккаунт привязан. Набери /today, чтобы увидеть задачи на сегодня.")
}

func (b *Bot) handleToday(ctx context.Context, msg *tgbotapi.Message) error {
	user, ok, err := b.linkedUser(ctx, msg.Chat.ID, msg.From)
	if !ok || err != nil {
		return err
	}
	return b.sendToday(ctx, msg.Chat.ID, user)
}

func (b *Bot) handleDone(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		return b.sendText(msg.Chat.ID, "Укажи ID задачи: /done &lt;id&gt; (его видно в /today)")
	}
	if _, err := uuid.Parse(args); err != nil {
		return b.sendText(msg.Chat.ID, "ID задачи должен быть UUID.")
	}

	user, ok, err := b.linkedUser(ctx, msg.Chat.ID, msg.From)
	if !ok || err != nil {
		return err
	}
	return b.completeAndRefresh(ctx, msg.Chat.ID, user, args)
}

func (b *Bot) handleReport(ctx context.Context, msg *tgbotapi.Message) error {
	user, ok, err := b.linkedUser(ctx, msg.Chat.ID, msg.From)
	if !ok || err != nil {
		return err
	}
	text, err := b.reminderSvc.DailySummary(ctx, *user, time.Now().In(b.loc))
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось сформировать отчёт: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.Printf("[warn] callback ack: %v", err)
	}

	if !strings.HasPrefix(cb.Data, cbDonePrefix) {
		return nil
	}
	taskID := strings.TrimPrefix(cb.Data, cbDonePrefix)
	log.Printf("[info] callback done user=%d task=%s", cb.From.ID, taskID)

	user, ok, err := b.linkedUser(ctx, cb.Message.Chat.ID, cb.From)
	if !ok || err != nil {
		return err
	}
	return b.completeAndRefresh(ctx, cb.Message.Chat.ID, user, taskID)
}

func (b *Bot) completeAndRefresh(ctx context.Context, chatID int64, user *model.User, taskID string) error {
	today := model.NewDate(time.Now().In(b.loc))
	task, err := b.taskSvc.CompleteTask(ctx, user.ID, taskID, today)
	if err != nil {
		return b.sendText(chatID, describeError(err))
	}

	var info string
	if task.IsRecurring {
		info = fmt.Sprintf("♻️ Задача «%s» отмечена выполненной на сегодня.", escape(normalizeTitle(task.Title)))
	} else {
		info = fmt.Sprintf("✅ Задача «%s» выполнена.", escape(normalizeTitle(task.Title)))
	}
	log.Printf("[info] task completed id=%s user=%s recurring=%t", task.ID, user.ID, task.IsRecurring)
	if err := b.sendText(chatID, info); err != nil {
		return err
	}
	return b.sendToday(ctx, chatID, user)
}

func (b *Bot) sendToday(ctx context.Context, chatID int64, user *model.User) error {
	now := time.Now().In(b.loc)
	items, err := b.taskSvc.ListForDate(ctx, user.ID, model.NewDate(now))
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Не удалось получить задачи: %s", escape(err.Error())))
	}

	text, buttons := formatToday(items, now)
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if len(buttons) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	} else {
		msg.ReplyMarkup = mainMenuKeyboard()
	}
	_, err = b.api.Send(msg)
	return err
}

// SendDailyReports sends a summary to every linked user.
func (b *Bot) SendDailyReports(ctx context.Context) error {
	users, err := b.userRepo.ListLinked(ctx)
	if err != nil {
		return err
	}
	now := time.Now().In(b.loc)
	sent := 0
	for _, user := range users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if user.TelegramID == nil {
			continue
		}
		text, err := b.reminderSvc.DailySummary(ctx, user, now)
		if err != nil {
			log.Printf("[error] build summary for user %s: %v", user.ID, err)
			continue
		}
		if err := b.sendText(*user.TelegramID, text); err != nil {
			log.Printf("[error] send summary to %d: %v", *user.TelegramID, err)
			continue
		}
		sent++
	}
	log.Printf("[info] daily reports sent=%d users=%d", sent, len(users))
	return nil
}

// linkedUser resolves the planner user of a chat. When the chat is not linked it tells
// the user how to link and reports ok=false.
func (b *Bot) linkedUser(ctx context.Context, chatID int64, from *tgbotapi.User) (*model.User, bool, error) {
	user, err := b.userRepo.FindByTelegramID(ctx, from.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, b.sendText(chatID, "Чат ещё не привязан. Отправь <code>/link &lt;токен&gt;</code> из приложения.")
	}
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

// formatToday renders the day list and one "done" button per open item.
func formatToday(items []service.DayItem, now time.Time) (string, [][]tgbotapi.InlineKeyboardButton) {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("📋 <b>Задачи на %s</b>\n", now.Format("02.01.2006")))
	if len(items) == 0 {
		builder.WriteString("\nНа сегодня задач нет.")
		return builder.String(), nil
	}
	builder.WriteString("Нажми на кнопку, чтобы отметить задачу выполненной.\n\n")

	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, item := range items {
		builder.WriteString(formatDayItem(item))
		if item.State.Status == model.StatusCompleted || item.State.Status == model.StatusSkipped {
			continue
		}
		buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ "+shortTitle(item.Task.Title, 24), cbDonePrefix+item.Task.ID),
		))
	}
	return strings.TrimSpace(builder.String()), buttons
}

func formatDayItem(item service.DayItem) string {
	var b strings.Builder
	icon := "🟢"
	switch {
	case item.State.Status == model.StatusCompleted:
		icon = "✅"
	case item.State.Status == model.StatusSkipped:
		icon = "⏭"
	case item.Task.IsRecurring:
		icon = "♻️"
	}
	b.WriteString(fmt.Sprintf("%s %s", icon, escape(normalizeTitle(item.Task.Title))))
	if item.Task.StartTime != "" {
		b.WriteString(fmt.Sprintf(" <i>%s</i>", escape(item.Task.StartTime)))
	}
	b.WriteByte('\n')
	if item.Task.Description != "" {
		b.WriteString(fmt.Sprintf("   📝 %s\n", escape(item.Task.Description)))
	}
	b.WriteString(fmt.Sprintf("   <code>%s</code>\n\n", item.Task.ID))
	return b.String()
}

func describeError(err error) string {
	var verr *service.ValidationError
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrForbidden):
		return "Задача не найдена."
	case errors.As(err, &verr):
		return "Эту задачу нельзя отметить сегодня."
	default:
		return fmt.Sprintf("Ошибка: %s", escape(err.Error()))
	}
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelToday),
			tgbotapi.NewKeyboardButton(menuLabelReport),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func shortTitle(title string, maxLen int) string {
	clean := strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
	clean = normalizeTitle(clean)
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func escape(s string) string {
	return html.EscapeString(s)
}

func normalizeTitle(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
