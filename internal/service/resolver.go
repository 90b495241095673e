package service

import "time"

// Action is what push does with one incoming record.
type Action int

const (
	ActionSkip Action = iota
	ActionInsert
	ActionUpdate
)

func (a Action) String() string {
	switch a {
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	default:
		return "skip"
	}
}

// Resolve decides between insert, update and skip by last-writer-wins. stored is nil
// when the record does not exist yet. Equal timestamps keep the server copy, so an exact
// retransmission is a no-op.
func Resolve(incoming time.Time, stored *time.Time) Action {
	if stored == nil {
		return ActionInsert
	}
	if normalizeTime(incoming).After(normalizeTime(*stored)) {
		return ActionUpdate
	}
	return ActionSkip
}

// ResolveSession decides for immutable session logs: only unseen ids are inserted.
func ResolveSession(exists bool) Action {
	if exists {
		return ActionSkip
	}
	return ActionInsert
}

// normalizeTime drops precision the database may not keep, so a timestamp compares the
// same before and after a round trip.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
