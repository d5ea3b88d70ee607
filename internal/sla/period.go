package sla

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const PeriodFormatMessage = "Query param 'period' must be YYYY-MM"

var monthPattern = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}$`)

// ParseMonth validates a YYYY-MM string and returns its year and month.
func ParseMonth(value string) (int, time.Month, error) {
	if !monthPattern.MatchString(value) {
		return 0, 0, NewValidationError("period", PeriodFormatMessage)
	}
	year, _ := strconv.Atoi(value[:4])
	month, _ := strconv.Atoi(value[5:])
	if month < 1 || month > 12 {
		return 0, 0, NewValidationError("period", PeriodFormatMessage)
	}
	return year, time.Month(month), nil
}

// MonthBounds returns [first instant of the month, first instant of the next
// month) in loc.
func MonthBounds(year int, month time.Month, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

func ParsePeriod(value string) (Period, error) {
	switch Period(strings.ToUpper(strings.TrimSpace(value))) {
	case PeriodDay:
		return PeriodDay, nil
	case PeriodWeek:
		return PeriodWeek, nil
	case PeriodMonth:
		return PeriodMonth, nil
	default:
		return "", NewValidationError("period", fmt.Sprintf("period %q must be one of DAY, WEEK, MONTH", value))
	}
}

func LoadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return nil, NewValidationError("timezone", "timezone is required")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, NewValidationError("timezone", fmt.Sprintf("unknown timezone %q", name))
	}
	return loc, nil
}

// PeriodBounds returns the calendar period of kind p containing at, evaluated
// in loc. Weeks start on Monday.
func PeriodBounds(p Period, loc *time.Location, at time.Time) (time.Time, time.Time, error) {
	local := at.In(loc)
	switch p {
	case PeriodDay:
		start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 0, 1), nil
	case PeriodWeek:
		offset := (int(local.Weekday()) + 6) % 7
		start := time.Date(local.Year(), local.Month(), local.Day()-offset, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 0, 7), nil
	case PeriodMonth:
		start, end := MonthBounds(local.Year(), local.Month(), loc)
		return start, end, nil
	default:
		return time.Time{}, time.Time{}, NewValidationError("period", fmt.Sprintf("unsupported period %q", p))
	}
}

// PreviousPeriod returns the period immediately before the one starting at
// start.
func PreviousPeriod(p Period, loc *time.Location, start time.Time) (time.Time, time.Time, error) {
	return PeriodBounds(p, loc, start.Add(-time.Nanosecond))
}
