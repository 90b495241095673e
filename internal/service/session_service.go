package service

import (
	"context"
	"log"
	"time"

	"gorm.io/datatypes"

	"planner-sync/internal/model"
	"planner-sync/internal/repository"
)

// SessionInput is a session logged directly through the API. ID may be set by the
// client so a retried create does not log the time twice.
type SessionInput struct {
	ID              string     `json:"id" validate:"omitempty,uuid"`
	TaskID          string     `json:"taskId" validate:"required,uuid"`
	DurationMinutes *int       `json:"durationMinutes" validate:"required,min=0"`
	Type            string     `json:"type" validate:"required,oneof=pomodoro stopwatch manual"`
	Timestamp       *time.Time `json:"timestamp"`
}

// SessionQuery filters a session listing. Date selects one UTC day; StartDate and
// EndDate bound the listing by whole days, both inclusive.
type SessionQuery struct {
	TaskID    string
	Date      *datatypes.Date
	StartDate *datatypes.Date
	EndDate   *datatypes.Date
}

func (q SessionQuery) filter() repository.SessionFilter {
	f := repository.SessionFilter{TaskID: q.TaskID}
	from, to := q.StartDate, q.EndDate
	if q.Date != nil {
		from, to = q.Date, q.Date
	}
	if from != nil {
		t := model.DateTime(*from)
		f.From = &t
	}
	if to != nil {
		t := model.DateTime(*to).Add(24 * time.Hour)
		f.To = &t
	}
	return f
}

// SessionService serves session logs to the HTTP API. Pushes go through SyncService.
type SessionService struct {
	store *repository.Store
	now   func() time.Time
}

func NewSessionService(store *repository.Store) *SessionService {
	return &SessionService{store: store, now: time.Now}
}

func (s *SessionService) List(ctx context.Context, actor string, q SessionQuery) ([]repository.SessionWithTask, error) {
	if actor == "" {
		return nil, ErrForbidden
	}
	if q.TaskID != "" && validate.Var(q.TaskID, "uuid") != nil {
		return nil, invalid("query.taskId: must be a uuid")
	}
	if q.StartDate != nil && q.EndDate != nil {
		if details := checkRange("query", q.StartDate, q.EndDate); len(details) > 0 {
			return nil, invalid(details...)
		}
	}
	sessions, err := s.store.Repos().Sessions.List(ctx, actor, q.filter())
	if err != nil {
		return nil, persistence("list sessions", err)
	}
	if sessions == nil {
		sessions = []repository.SessionWithTask{}
	}
	return sessions, nil
}

func (s *SessionService) Get(ctx context.Context, actor, id string) (*repository.SessionWithTask, error) {
	repos := s.store.Repos()
	if err := authorize(ctx, repos, actor, SessionRef(id)); err != nil {
		return nil, persistence("get session", err)
	}
	session, err := repos.Sessions.Find(ctx, id)
	if err != nil {
		return nil, persistence("get session", translate(err))
	}
	return session, nil
}

// Create logs a session on one of the caller's tasks. A missing timestamp means now.
// Repeating a create with the same id returns the stored session with created=false.
func (s *SessionService) Create(ctx context.Context, actor string, input SessionInput) (*repository.SessionWithTask, bool, error) {
	if actor == "" {
		return nil, false, ErrForbidden
	}
	if details := checkStruct("session", input); len(details) > 0 {
		return nil, false, invalid(details...)
	}

	now := normalizeTime(s.now())
	rec := SessionRecord{
		ID:              input.ID,
		TaskID:          input.TaskID,
		DurationMinutes: *input.DurationMinutes,
		Type:            input.Type,
		Timestamp:       now,
	}
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if input.Timestamp != nil && !input.Timestamp.IsZero() {
		rec.Timestamp = *input.Timestamp
	}
	session := rec.toModel(now)

	var (
		result  *repository.SessionWithTask
		created bool
	)
	err := s.store.Atomic(ctx, "session.create", func(r repository.Repos) error {
		if err := authorize(ctx, r, actor, TaskRef(rec.TaskID)); err != nil {
			return err
		}
		exists, err := r.Sessions.Exists(ctx, rec.ID)
		if err != nil {
			return err
		}
		if !exists {
			if err := r.Sessions.Insert(ctx, &session); err != nil {
				return err
			}
			created = true
		} else if err := authorize(ctx, r, actor, SessionRef(rec.ID)); err != nil {
			return err
		}
		result, err = r.Sessions.Find(ctx, rec.ID)
		return err
	})
	if err != nil {
		return nil, false, persistence("create session", err)
	}
	if created {
		log.Printf("[info] session logged user=%s task=%s minutes=%d type=%s", actor, rec.TaskID, rec.DurationMinutes, rec.Type)
	}
	return result, created, nil
}
