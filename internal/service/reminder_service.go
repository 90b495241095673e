package service

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"planner-sync/internal/model"
)

// ReminderService builds human-readable summaries for daily notifications.
type ReminderService struct {
	tasks *TaskService
	stats *StatsService
}

func NewReminderService(tasks *TaskService, stats *StatsService) *ReminderService {
	return &ReminderService{tasks: tasks, stats: stats}
}

// DailySummary renders the user's day: open items first, then finished ones, then the
// time logged so far.
func (s *ReminderService) DailySummary(ctx context.Context, user model.User, now time.Time) (string, error) {
	date := model.NewDate(now)
	items, err := s.tasks.ListForDate(ctx, user.ID, date)
	if err != nil {
		return "", err
	}
	stats, err := s.stats.Daily(ctx, user.ID, date)
	if err != nil {
		return "", err
	}

	var open, done []DayItem
	for _, item := range items {
		switch item.State.Status {
		case model.StatusCompleted, model.StatusSkipped:
			done = append(done, item)
		default:
			open = append(open, item)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		a, b := open[i].Task, open[j].Task
		switch {
		case a.StartTime == "" && b.StartTime == "":
			return a.Priority > b.Priority
		case a.StartTime == "":
			return false
		case b.StartTime == "":
			return true
		default:
			return a.StartTime < b.StartTime
		}
	})

	var builder strings.Builder
	builder.WriteString("📋 <b>Ежедневный отчёт</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", now.Format("02.01.2006")))

	builder.WriteString("🔥 <b>На сегодня</b>\n")
	if len(open) == 0 {
		builder.WriteString("— нет открытых задач\n")
	} else {
		for _, item := range open {
			builder.WriteString(formatItem(item))
		}
	}

	builder.WriteString("\n✅ <b>Готово</b>\n")
	if len(done) == 0 {
		builder.WriteString("— пока ничего\n")
	} else {
		for _, item := range done {
			builder.WriteString(formatItem(item))
		}
	}

	builder.WriteString(fmt.Sprintf("\n🍅 Помидоров: %d · ⏱ %s", stats.PomodoroCount, formatMinutes(stats.TotalMinutes)))
	return strings.TrimSpace(builder.String()), nil
}

func formatItem(item DayItem) string {
	var sb strings.Builder

	icon := statusIcon(item.State.Status)
	if item.Task.IsRecurring && icon == "🟢" {
		icon = "♻️"
	}
	title := html.EscapeString(strings.TrimSpace(item.Task.Title))
	sb.WriteString(fmt.Sprintf("%s %s", icon, title))
	if item.Task.StartTime != "" {
		sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(item.Task.StartTime)))
	}

	if item.Task.DurationMinutes > 0 || item.State.ActualDurationMinutes > 0 {
		sb.WriteString(fmt.Sprintf("\n   ⏳ %s из %s",
			formatMinutes(int64(item.State.ActualDurationMinutes)),
			formatMinutes(int64(item.Task.DurationMinutes))))
	}
	if item.State.Notes != "" {
		sb.WriteString(fmt.Sprintf("\n   📝 %s", html.EscapeString(strings.TrimSpace(item.State.Notes))))
	}
	sb.WriteString(fmt.Sprintf("\n   <code>%s</code>", item.Task.ID))

	sb.WriteByte('\n')
	return sb.String()
}

func statusIcon(status string) string {
	switch status {
	case model.StatusCompleted:
		return "✅"
	case model.StatusSkipped:
		return "⏭"
	case model.StatusInProgress, model.StatusPartiallyCompleted:
		return "⏳"
	default:
		return "🟢"
	}
}

func formatMinutes(minutes int64) string {
	if minutes < 60 {
		return fmt.Sprintf("%d мин", minutes)
	}
	if minutes%60 == 0 {
		return fmt.Sprintf("%d ч", minutes/60)
	}
	return fmt.Sprintf("%d ч %d мин", minutes/60, minutes%60)
}
