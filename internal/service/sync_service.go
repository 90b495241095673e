package service

import (
	"context"
	"errors"
	"log"
	"time"

	"planner-sync/internal/model"
	"planner-sync/internal/repository"
)

// Entity types as reported in push results.
const (
	EntityPlan    = "plan"
	EntityTask    = "task"
	EntitySession = "session"
)

// Reasons a record was rejected by the ownership check.
const (
	ReasonNotOwned     = "not owned by caller"
	ReasonParentAbsent = "parent missing or not owned by caller"
)

// EntityCounts tallies push outcomes for plans and tasks.
type EntityCounts struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Rejected int `json:"rejected"`
}

// SessionCounts tallies push outcomes for session logs, which are never updated.
type SessionCounts struct {
	Created  int `json:"created"`
	Skipped  int `json:"skipped"`
	Rejected int `json:"rejected"`
}

// Rejection explains why one record of a batch was dropped.
type Rejection struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// PushResult is the outcome of a committed push.
type PushResult struct {
	Plans    EntityCounts  `json:"plans"`
	Tasks    EntityCounts  `json:"tasks"`
	Sessions SessionCounts `json:"sessions"`
	Rejected []Rejection   `json:"rejected"`
	SyncedAt time.Time     `json:"syncedAt"`
}

func (r *PushResult) reject(entity, id, reason string) {
	r.Rejected = append(r.Rejected, Rejection{Type: entity, ID: id, Reason: reason})
}

// PullResult carries everything that changed for the caller after a cursor.
type PullResult struct {
	Plans    []model.Plan       `json:"plans"`
	Tasks    []model.Task       `json:"tasks"`
	Sessions []model.SessionLog `json:"sessions"`
	PulledAt time.Time          `json:"pulledAt"`
}

// DefaultPullLag matches the default REQUEST_TIMEOUT.
const DefaultPullLag = 30 * time.Second

// SyncService reconciles device copies with the server store.
type SyncService struct {
	store   *repository.Store
	now     func() time.Time
	pullLag time.Duration
}

func NewSyncService(store *repository.Store) *SyncService {
	return &SyncService{store: store, now: time.Now, pullLag: DefaultPullLag}
}

// WithPullLag sets how far the returned pull cursor trails the clock. Writers stamp
// changed_at before their transaction commits, so the lag must cover the longest a
// write transaction can stay open.
func (s *SyncService) WithPullLag(d time.Duration) *SyncService {
	if d < 0 {
		d = 0
	}
	s.pullLag = d
	return s
}

// Push applies a batch inside one transaction. Records failing the ownership check are
// rejected individually and the rest proceed; a storage failure rolls back the batch.
// Replaying a batch changes nothing: every record resolves to skip.
func (s *SyncService) Push(ctx context.Context, actor string, batch PushBatch) (*PushResult, error) {
	if actor == "" {
		return nil, ErrForbidden
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	now := normalizeTime(s.now())
	result := &PushResult{Rejected: []Rejection{}, SyncedAt: now}

	err := s.store.Atomic(ctx, "sync.push", func(r repository.Repos) error {
		// Plans first so tasks and sessions of the same batch find their parents.
		for _, rec := range batch.Plans {
			if err := s.pushPlan(ctx, r, actor, rec, now, result); err != nil {
				return err
			}
		}
		for _, rec := range batch.Tasks {
			if err := s.pushTask(ctx, r, actor, rec, now, result); err != nil {
				return err
			}
		}
		for _, rec := range batch.Sessions {
			if err := s.pushSession(ctx, r, actor, rec, now, result); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[error] push user=%s records=%d rolled back: %v", actor, batch.Size(), err)
		return nil, persistence("sync push", err)
	}

	log.Printf("[info] push user=%s plans=%+v tasks=%+v sessions=%+v",
		actor, result.Plans, result.Tasks, result.Sessions)
	return result, nil
}

func (s *SyncService) pushPlan(ctx context.Context, r repository.Repos, actor string, rec PlanRecord, now time.Time, result *PushResult) error {
	stored, err := r.Plans.Get(ctx, rec.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	var storedModified *time.Time
	if stored != nil {
		ok, err := CanAccess(ctx, r, actor, PlanRef(rec.ID))
		if err != nil {
			return err
		}
		if !ok {
			result.Plans.Rejected++
			result.reject(EntityPlan, rec.ID, ReasonNotOwned)
			return nil
		}
		storedModified = &stored.LastModified
	}

	plan := rec.toModel(actor, now)
	switch Resolve(rec.LastModified, storedModified) {
	case ActionInsert:
		if err := r.Plans.Insert(ctx, &plan); err != nil {
			return err
		}
		result.Plans.Created++
	case ActionUpdate:
		if err := r.Plans.Overwrite(ctx, &plan); err != nil {
			return err
		}
		result.Plans.Updated++
	default:
		result.Plans.Skipped++
	}
	return nil
}

func (s *SyncService) pushTask(ctx context.Context, r repository.Repos, actor string, rec TaskRecord, now time.Time, result *PushResult) error {
	ok, err := CanAccess(ctx, r, actor, PlanRef(rec.PlanID))
	if err != nil {
		return err
	}
	if !ok {
		result.Tasks.Rejected++
		result.reject(EntityTask, rec.ID, ReasonParentAbsent)
		return nil
	}

	stored, err := r.Tasks.Get(ctx, rec.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	var storedModified *time.Time
	if stored != nil {
		// The stored task may hang under a plan of another user even if the
		// incoming planId is ours.
		ok, err := CanAccess(ctx, r, actor, TaskRef(rec.ID))
		if err != nil {
			return err
		}
		if !ok {
			result.Tasks.Rejected++
			result.reject(EntityTask, rec.ID, ReasonNotOwned)
			return nil
		}
		storedModified = &stored.LastModified
	}

	task := rec.toModel(now)
	switch Resolve(rec.LastModified, storedModified) {
	case ActionInsert:
		if err := r.Tasks.Insert(ctx, &task); err != nil {
			return err
		}
		result.Tasks.Created++
	case ActionUpdate:
		if err := r.Tasks.Overwrite(ctx, &task); err != nil {
			return err
		}
		result.Tasks.Updated++
	default:
		result.Tasks.Skipped++
	}
	return nil
}

func (s *SyncService) pushSession(ctx context.Context, r repository.Repos, actor string, rec SessionRecord, now time.Time, result *PushResult) error {
	ok, err := CanAccess(ctx, r, actor, TaskRef(rec.TaskID))
	if err != nil {
		return err
	}
	if !ok {
		result.Sessions.Rejected++
		result.reject(EntitySession, rec.ID, ReasonParentAbsent)
		return nil
	}

	exists, err := r.Sessions.Exists(ctx, rec.ID)
	if err != nil {
		return err
	}
	if ResolveSession(exists) == ActionSkip {
		result.Sessions.Skipped++
		return nil
	}

	session := rec.toModel(now)
	if err := r.Sessions.Insert(ctx, &session); err != nil {
		return err
	}
	result.Sessions.Created++
	return nil
}

// Pull returns the caller's records written after since, or everything when since is
// nil. The returned cursor trails the clock by the pull lag: a push that read its
// clock earlier may still be uncommitted, and its rows must stay visible to the next
// pull. Records inside the lag window are delivered again and resolve to skip.
func (s *SyncService) Pull(ctx context.Context, actor string, since *time.Time) (*PullResult, error) {
	if actor == "" {
		return nil, ErrForbidden
	}
	result := &PullResult{PulledAt: normalizeTime(s.now().Add(-s.pullLag))}
	if since != nil {
		t := since.UTC()
		since = &t
	}

	err := s.store.Atomic(ctx, "sync.pull", func(r repository.Repos) error {
		var err error
		if result.Plans, err = r.Plans.ChangedSince(ctx, actor, since); err != nil {
			return err
		}
		if result.Tasks, err = r.Tasks.ChangedSince(ctx, actor, since); err != nil {
			return err
		}
		if result.Sessions, err = r.Sessions.ChangedSince(ctx, actor, since); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, persistence("sync pull", err)
	}
	return result, nil
}
