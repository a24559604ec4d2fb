// Package schedule parses per-tenant schedule expressions and decides
// whether a recurring dispatch should fire at a given wall-clock time.
//
// Expressions are re-parsed on every evaluation cycle; parsing is
// deterministic and never panics. An unparseable expression simply never
// fires, so one tenant's typo cannot block the others.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Mode selects how precisely the clock must match the expression's time.
type Mode int

const (
	// Strict requires hour and minute to match exactly. Use it when the
	// external trigger fires every minute.
	Strict Mode = iota

	// Hourly requires only the hour to match. Use it when the external
	// trigger fires once per hour at an unpredictable minute; the minute
	// part of the expression is ignored so firings are not missed.
	Hourly
)

// Frequency is the normalized recurrence kind of an expression.
type Frequency int

const (
	FreqDaily Frequency = iota
	FreqWeekdays
	FreqWeekends
	FreqMonthly
	FreqDayList
)

// Expression is a parsed schedule string.
//
// Supported forms ("HH:MM <frequency>"):
//   - "09:00"                (frequency omitted => daily)
//   - "09:00 daily"
//   - "07:30 weekdays"       (Mon-Fri)
//   - "10:00 weekends"       (Sat-Sun)
//   - "08:00 monthly"        (1st of the month)
//   - "14:30 mon,wed,fri"    (explicit weekday list, 3-letter names)
//
// The zero Expression never fires.
type Expression struct {
	Hour   int
	Minute int
	Freq   Frequency
	Days   map[time.Weekday]bool // set only for FreqDayList

	valid bool
}

var dayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// Parse parses a schedule expression.
//
// It is total: any input yields either a valid Expression or a non-nil
// error plus a zero Expression (which never fires). Callers attach the
// error to the tenant at config-load time instead of raising mid-run.
func Parse(raw string) (Expression, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Expression{}, fmt.Errorf("schedule required")
	}

	timePart := s
	freqPart := ""
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		timePart = s[:i]
		freqPart = strings.TrimSpace(s[i+1:])
	}

	hour, minute, err := parseHHMM(timePart)
	if err != nil {
		return Expression{}, err
	}

	e := Expression{Hour: hour, Minute: minute, Freq: FreqDaily, valid: true}

	switch low := strings.ToLower(freqPart); low {
	case "", "daily":
		e.Freq = FreqDaily
	case "weekdays":
		e.Freq = FreqWeekdays
	case "weekends":
		e.Freq = FreqWeekends
	case "monthly":
		e.Freq = FreqMonthly
	default:
		days, err := parseDayList(low)
		if err != nil {
			return Expression{}, err
		}
		e.Freq = FreqDayList
		e.Days = days
	}
	return e, nil
}

// MustParse is a test helper; it panics on invalid input.
func MustParse(raw string) Expression {
	e, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return e
}

// Valid reports whether the expression was produced by a successful Parse.
func (e Expression) Valid() bool { return e.valid }

// Fires reports whether the expression matches now under the given mode.
// The zero Expression never fires.
func (e Expression) Fires(now time.Time, mode Mode) bool {
	if !e.valid {
		return false
	}
	if now.Hour() != e.Hour {
		return false
	}
	if mode == Strict && now.Minute() != e.Minute {
		return false
	}
	return e.dayMatches(now)
}

func (e Expression) dayMatches(now time.Time) bool {
	switch e.Freq {
	case FreqDaily:
		return true
	case FreqWeekdays:
		wd := now.Weekday()
		return wd >= time.Monday && wd <= time.Friday
	case FreqWeekends:
		wd := now.Weekday()
		return wd == time.Saturday || wd == time.Sunday
	case FreqMonthly:
		return now.Day() == 1
	case FreqDayList:
		return e.Days[now.Weekday()]
	default:
		return false
	}
}

// PeriodKey identifies the matching period at now for dedup markers.
// Two trigger firings inside the same period produce the same key, so a
// durable marker written under it guarantees at-most-once dispatch even
// when the trigger cadence is finer than the period.
func (e Expression) PeriodKey(now time.Time, mode Mode) string {
	if mode == Hourly {
		return now.Format("2006-01-02 15")
	}
	return now.Format("2006-01-02 15:04")
}

func parseHHMM(s string) (hour int, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

func parseDayList(low string) (map[time.Weekday]bool, error) {
	days := make(map[time.Weekday]bool)
	for _, p := range strings.Split(low, ",") {
		p = strings.TrimSpace(p)
		wd, ok := dayNames[p]
		if !ok {
			return nil, fmt.Errorf("invalid frequency %q (use daily, weekdays, weekends, monthly, or day names like mon,wed,fri)", low)
		}
		days[wd] = true
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("empty day list")
	}
	return days, nil
}
