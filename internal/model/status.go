package model

// Status values shared by tasks and task instances.
const (
	StatusNotStarted         = "not_started"
	StatusInProgress         = "in_progress"
	StatusPartiallyCompleted = "partially_completed"
	StatusCompleted          = "completed"
	StatusSkipped            = "skipped"
)

// ValidStatus reports whether s is a known status.
func ValidStatus(s string) bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusPartiallyCompleted, StatusCompleted, StatusSkipped:
		return true
	}
	return false
}

// Session types accepted for session logs.
const (
	SessionPomodoro  = "pomodoro"
	SessionStopwatch = "stopwatch"
	SessionManual    = "manual"
)
