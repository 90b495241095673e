package service

import (
	"context"
	"math"
	"time"

	"gorm.io/datatypes"

	"planner-sync/internal/model"
	"planner-sync/internal/repository"
)

// DailyStats summarizes the caller's session logs of one day.
type DailyStats struct {
	Date          string  `json:"date"`
	PomodoroCount int64   `json:"pomodoroCount"`
	TotalMinutes  int64   `json:"totalMinutes"`
	TotalHours    float64 `json:"totalHours"`
}

// TimeStats compares planned with actual minutes of finished work.
type TimeStats struct {
	PlannedMinutes   int64 `json:"planned_minutes"`
	CompletedMinutes int64 `json:"completed_minutes"`
}

// Dashboard is the caller's overall progress. Counts cover one-off tasks and
// materialized occurrences of recurring tasks.
type Dashboard struct {
	TaskCounts map[string]int64 `json:"task_counts"`
	TimeStats  TimeStats        `json:"time_stats"`
}

// StatsService serves read-only aggregates over tasks and session logs.
type StatsService struct {
	store *repository.Store
}

func NewStatsService(store *repository.Store) *StatsService {
	return &StatsService{store: store}
}

// Daily aggregates sessions whose timestamp falls on date (UTC).
func (s *StatsService) Daily(ctx context.Context, actor string, date datatypes.Date) (*DailyStats, error) {
	if actor == "" {
		return nil, ErrForbidden
	}
	from := model.DateTime(date)
	to := from.Add(24 * time.Hour)

	totals, err := s.store.Repos().Sessions.Totals(ctx, actor, from, to)
	if err != nil {
		return nil, persistence("daily stats", err)
	}
	return &DailyStats{
		Date:          model.FormatDate(date),
		PomodoroCount: totals.PomodoroCount,
		TotalMinutes:  totals.TotalMinutes,
		TotalHours:    math.Round(float64(totals.TotalMinutes)/60*100) / 100,
	}, nil
}

// Dashboard counts the caller's work by status and sums minutes of finished work.
func (s *StatsService) Dashboard(ctx context.Context, actor string) (*Dashboard, error) {
	if actor == "" {
		return nil, ErrForbidden
	}
	dash := &Dashboard{TaskCounts: map[string]int64{}}
	err := s.store.Atomic(ctx, "stats.dashboard", func(r repository.Repos) error {
		tasks, err := r.Tasks.CountByStatus(ctx, actor)
		if err != nil {
			return err
		}
		instances, err := r.Instances.CountByStatus(ctx, actor)
		if err != nil {
			return err
		}
		for _, row := range append(tasks, instances...) {
			dash.TaskCounts[row.Status] += row.Count
		}

		taskMinutes, err := r.Tasks.FinishedMinutes(ctx, actor)
		if err != nil {
			return err
		}
		instanceMinutes, err := r.Instances.FinishedMinutes(ctx, actor)
		if err != nil {
			return err
		}
		dash.TimeStats = TimeStats{
			PlannedMinutes:   taskMinutes.PlannedMinutes + instanceMinutes.PlannedMinutes,
			CompletedMinutes: taskMinutes.CompletedMinutes + instanceMinutes.CompletedMinutes,
		}
		return nil
	})
	if err != nil {
		return nil, persistence("dashboard stats", err)
	}
	return dash, nil
}
