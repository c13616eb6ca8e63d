package domain

// Counter is the per-user action count for one quota day. Day is the calendar
// date (YYYY-MM-DD) in the configured reference timezone, not UTC.
type Counter struct {
	UserID      string
	Day         string
	ActionCount int
}
