package domain

import (
	"strings"
	"time"
)

// SubscriptionEnd adds months to start. When the day of month does not exist
// in the target month the result is the last day of that month, so Jan 31
// plus one month is Feb 28 (or 29).
func SubscriptionEnd(start time.Time, months int) time.Time {
	y, m, d := start.Date()
	hh, mm, ss := start.Clock()

	first := time.Date(y, m+time.Month(months), 1, hh, mm, ss, start.Nanosecond(), start.Location())
	if last := daysIn(first.Year(), first.Month(), start.Location()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, hh, mm, ss, start.Nanosecond(), start.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// SubscriptionMonths returns the length of a subscription type in months, or
// 0 for session based and unknown types
func SubscriptionMonths(subscriptionType string) int {
	switch strings.ToLower(strings.TrimSpace(subscriptionType)) {
	case "monthly", "month", "1-month":
		return 1
	case "quarterly", "3-months":
		return 3
	case "semi-annual", "semiannual", "6-months":
		return 6
	case "annual", "yearly", "12-months":
		return 12
	default:
		return 0
	}
}
