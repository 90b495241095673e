package model

import (
	"time"

	"gorm.io/datatypes"
)

// DateLayout is the wire format of calendar dates in paths and query strings.
const DateLayout = "2006-01-02"

// NewDate truncates t to its calendar date in UTC.
func NewDate(t time.Time) datatypes.Date {
	y, m, d := t.Date()
	return datatypes.Date(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (datatypes.Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return datatypes.Date{}, err
	}
	return NewDate(t), nil
}

// DateTime returns the date as midnight UTC.
func DateTime(d datatypes.Date) time.Time {
	y, m, day := time.Time(d).Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders d as YYYY-MM-DD.
func FormatDate(d datatypes.Date) string {
	return DateTime(d).Format(DateLayout)
}

// SameDate compares two dates ignoring any time component.
func SameDate(a, b datatypes.Date) bool {
	return DateTime(a).Equal(DateTime(b))
}
