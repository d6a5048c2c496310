// Package quota holds the daily allowance arithmetic. Everything here is a
// pure function: allowances are whole minutes, accumulation elsewhere is in
// seconds and is floor-divided by 60 only when compared against a quota.
package quota

import "time"

// MaxRolloverMinutes caps how much unused allowance carries into the next day.
const MaxRolloverMinutes = 60

// IsWeekend reports whether d falls on a Saturday or Sunday.
func IsWeekend(d time.Time) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// For returns the allowance in minutes for the given date.
func For(d time.Time, weekdayMinutes, weekendMinutes int) int {
	if IsWeekend(d) {
		return weekendMinutes
	}
	return weekdayMinutes
}

// Remaining returns the minutes left today, never negative.
func Remaining(quotaMinutes, bonusMinutes, usedMinutes int) int {
	remaining := quotaMinutes + bonusMinutes - usedMinutes
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RolloverBonus returns the bonus granted for tomorrow from today's unused
// allowance, capped at MaxRolloverMinutes.
func RolloverBonus(remainingMinutes int) int {
	if remainingMinutes > MaxRolloverMinutes {
		return MaxRolloverMinutes
	}
	return remainingMinutes
}
