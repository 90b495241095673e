package service

import (
	"context"
	"errors"
	"fmt"

	"planner-sync/internal/repository"
)

// ResourceKind names what a ResourceRef points at.
type ResourceKind int

const (
	PlanResource ResourceKind = iota
	TaskResource
	SessionResource
)

// ResourceRef identifies a plan, task or session whose owner decides access.
type ResourceRef struct {
	Kind ResourceKind
	ID   string
}

func PlanRef(id string) ResourceRef { return ResourceRef{Kind: PlanResource, ID: id} }
func TaskRef(id string) ResourceRef { return ResourceRef{Kind: TaskResource, ID: id} }
func SessionRef(id string) ResourceRef { return ResourceRef{Kind: SessionResource, ID: id} }

// CanAccess reports whether actor owns the referenced resource. Plans are owned
// directly; tasks through their plan and sessions through their task. A missing
// resource is simply not accessible. Only store failures are returned as errors.
func CanAccess(ctx context.Context, repos repository.Repos, actor string, ref ResourceRef) (bool, error) {
	owner, err := ownerOf(ctx, repos, ref)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return actor != "" && owner == actor, nil
}

// authorize is CanAccess for request handlers: it tells a missing resource apart from
// someone else's.
func authorize(ctx context.Context, repos repository.Repos, actor string, ref ResourceRef) error {
	owner, err := ownerOf(ctx, repos, ref)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if actor == "" || owner != actor {
		return ErrForbidden
	}
	return nil
}

func ownerOf(ctx context.Context, repos repository.Repos, ref ResourceRef) (string, error) {
	switch ref.Kind {
	case PlanResource:
		return repos.Plans.Owner(ctx, ref.ID)
	case TaskResource:
		return repos.Tasks.Owner(ctx, ref.ID)
	case SessionResource:
		return repos.Sessions.Owner(ctx, ref.ID)
	default:
		return "", fmt.Errorf("unknown resource kind %d", ref.Kind)
	}
}
