// Package marketcal answers whether US equity markets are open.
package marketcal

import "time"

var eastern = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Fixed-date US market holidays keyed by "MM-DD". Observed shifts and the
// floating holidays are handled separately.
var fixedHolidays = map[string]bool{
	"01-01": true, // New Year's Day
	"06-19": true, // Juneteenth
	"07-04": true, // Independence Day
	"12-25": true, // Christmas
}

// IsTradingDay reports whether the instant t falls on a regular US equity
// trading day, judged in Eastern time.
func IsTradingDay(t time.Time) bool {
	return IsTradingDate(t.In(eastern))
}

// IsTradingDate judges t's own calendar date without timezone conversion.
// Use this for date-only values such as backtest days at UTC midnight.
func IsTradingDate(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if fixedHolidays[t.Format("01-02")] {
		return false
	}
	return !isFloatingHoliday(t)
}

func isFloatingHoliday(t time.Time) bool {
	m, d, wd := t.Month(), t.Day(), t.Weekday()
	switch {
	case m == time.January && wd == time.Monday && nthWeekdayOfMonth(d) == 3:
		return true // MLK Day
	case m == time.February && wd == time.Monday && nthWeekdayOfMonth(d) == 3:
		return true // Presidents' Day
	case m == time.May && wd == time.Monday && d >= 25:
		return true // Memorial Day (last Monday)
	case m == time.September && wd == time.Monday && nthWeekdayOfMonth(d) == 1:
		return true // Labor Day
	case m == time.November && wd == time.Thursday && nthWeekdayOfMonth(d) == 4:
		return true // Thanksgiving
	}
	return false
}

func nthWeekdayOfMonth(day int) int {
	return (day-1)/7 + 1
}

// InMarketHours reports whether t falls inside the regular session,
// 9:30-16:00 Eastern on a trading day.
func InMarketHours(t time.Time) bool {
	if !IsTradingDay(t) {
		return false
	}
	et := t.In(eastern)
	open := time.Date(et.Year(), et.Month(), et.Day(), 9, 30, 0, 0, eastern)
	close := time.Date(et.Year(), et.Month(), et.Day(), 16, 0, 0, 0, eastern)
	return !et.Before(open) && et.Before(close)
}

// NextTradingDay returns the first trading day strictly after t.
func NextTradingDay(t time.Time) time.Time {
	d := t.AddDate(0, 0, 1)
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}
