package service

import (
	"time"

	"gorm.io/datatypes"

	"planner-sync/internal/model"
)

// OccurrenceDates lists, in ascending order, the dates in [start, end] whose weekday is
// set in mask.
func OccurrenceDates(start, end datatypes.Date, mask model.WeekdayMask) []datatypes.Date {
	from, to := model.DateTime(start), model.DateTime(end)
	if mask == 0 || to.Before(from) {
		return nil
	}
	var dates []datatypes.Date
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if mask.Has(d.Weekday()) {
			dates = append(dates, datatypes.Date(d))
		}
	}
	return dates
}

// IsOccurrence reports whether the recurring task runs on date: the date lies inside
// the task's effective bounds (open sides are unbounded) and its weekday is in the mask.
func IsOccurrence(task model.Task, plan *model.Plan, date datatypes.Date) bool {
	if !task.IsRecurring || !task.RepeatDays.Has(model.DateTime(date).Weekday()) {
		return false
	}
	day := model.DateTime(date)
	start, end := task.Bounds(plan)
	if start != nil && day.Before(model.DateTime(*start)) {
		return false
	}
	if end != nil && day.After(model.DateTime(*end)) {
		return false
	}
	return true
}

// clampRange narrows [from, to] to the task's effective bounds.
func clampRange(task model.Task, plan *model.Plan, from, to time.Time) (time.Time, time.Time) {
	start, end := task.Bounds(plan)
	if start != nil && from.Before(model.DateTime(*start)) {
		from = model.DateTime(*start)
	}
	if end != nil && to.After(model.DateTime(*end)) {
		to = model.DateTime(*end)
	}
	return from, to
}
