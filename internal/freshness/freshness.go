// Package freshness decides whether an item's date is recent enough to keep.
package freshness

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/ncruces/go-strftime"

	"github.com/JakeFAU/itemrelay/internal/errors"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// IsRecent reports whether date falls on or after the UTC calendar day
// windowDays before now. An empty date is always recent. Dates that cannot be
// parsed are not recent and the returned error wraps errors.ErrMalformedDate.
//
// formatHint may be a strftime pattern ("%d/%m/%Y") or a Go reference layout
// ("02/01/2006"). Without a hint, relative phrases such as "3 hours ago" are
// understood before falling back to dateparse.
func IsRecent(date, formatHint string, windowDays int, now time.Time) (bool, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		return true, nil
	}
	if windowDays < 0 {
		windowDays = 0
	}
	parsed, err := Parse(date, formatHint, now)
	if err != nil {
		return false, err
	}
	bound := day(now).AddDate(0, 0, -windowDays)
	return !day(parsed).Before(bound), nil
}

// Parse interprets date using formatHint, relative phrases or dateparse, in
// that order of preference. Results without zone information are UTC.
func Parse(date, formatHint string, now time.Time) (time.Time, error) {
	date = strings.TrimSpace(date)
	formatHint = strings.TrimSpace(formatHint)
	if formatHint != "" {
		t, err := parseWithHint(date, formatHint)
		if err != nil {
			return time.Time{}, malformed(date, err)
		}
		return t, nil
	}
	if t, ok := parseRelative(date, now); ok {
		return t, nil
	}
	t, err := dateparse.ParseIn(date, time.UTC)
	if err != nil {
		return time.Time{}, malformed(date, err)
	}
	return t, nil
}

func parseWithHint(date, hint string) (time.Time, error) {
	if strings.Contains(hint, "%") {
		t, err := strftime.Parse(hint, date)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "strftime %q", hint)
		}
		return t, nil
	}
	t, err := time.ParseInLocation(hint, date, time.UTC)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "layout %q", hint)
	}
	return t, nil
}

var relativeAgo = regexp.MustCompile(
	`^(\d+|an?|one)\s+(second|sec|minute|min|hour|hr|day|week|month|year)s?\s+ago$`,
)

func parseRelative(date string, now time.Time) (time.Time, bool) {
	s := strings.ToLower(date)
	switch s {
	case "now", "just now", "today":
		return now, true
	case "yesterday":
		return now.AddDate(0, 0, -1), true
	}
	m := relativeAgo.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	n := 1
	if m[1] != "a" && m[1] != "an" && m[1] != "one" {
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}
		n = v
	}
	switch m[2] {
	case "second", "sec":
		return now.Add(-time.Duration(n) * time.Second), true
	case "minute", "min":
		return now.Add(-time.Duration(n) * time.Minute), true
	case "hour", "hr":
		return now.Add(-time.Duration(n) * time.Hour), true
	case "day":
		return now.AddDate(0, 0, -n), true
	case "week":
		return now.AddDate(0, 0, -7*n), true
	case "month":
		return now.AddDate(0, -n, 0), true
	default:
		return now.AddDate(-n, 0, 0), true
	}
}

func day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func malformed(date string, cause error) error {
	return errors.Mark(errors.Wrapf(cause, "parse date %q", date), errors.ErrMalformedDate)
}

// Filter binds a window and clock for use by the pipeline.
type Filter struct {
	WindowDays int
	Clock      Clock
}

// Recent evaluates IsRecent against the filter's clock.
func (f Filter) Recent(date, formatHint string) (bool, error) {
	now := time.Now().UTC()
	if f.Clock != nil {
		now = f.Clock.Now()
	}
	return IsRecent(date, formatHint, f.WindowDays, now)
}
