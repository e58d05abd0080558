// Package week resolves the week tokens accepted by search and summarize
// into concrete time windows. Tags use the ISO-8601 week format "2025-W07".
package week

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/newsrag/internal/errs"
)

const (
	All     = "all"
	Current = "current"
)

var tagPattern = regexp.MustCompile(`^(\d{4})-[Ww](\d{1,2})$`)

// Window is a half-open [Start, End) interval in UTC. The zero Window with
// Unbounded set matches every instant.
type Window struct {
	Tag       string
	Start     time.Time
	End       time.Time
	Unbounded bool
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.Unbounded {
		return true
	}
	t = t.UTC()
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) String() string {
	if w.Unbounded {
		return All
	}
	return w.Tag
}

// Parse resolves token relative to now. Empty and "all" are unbounded,
// "current" (or "latest") is the ISO week containing now, anything else must
// be a YYYY-Www tag naming a real ISO week.
func Parse(token string, now time.Time) (Window, error) {
	token = strings.TrimSpace(token)
	switch strings.ToLower(token) {
	case "", All:
		return Window{Unbounded: true}, nil
	case Current, "latest":
		return Of(now), nil
	}

	m := tagPattern.FindStringSubmatch(token)
	if m == nil {
		return Window{}, errs.Validation("malformed week %q: expected YYYY-Www, %q or %q", token, All, Current)
	}
	year, _ := strconv.Atoi(m[1])
	wk, _ := strconv.Atoi(m[2])
	if wk < 1 || wk > WeeksIn(year) {
		return Window{}, errs.Validation("week %q does not exist: %d has %d ISO weeks", token, year, WeeksIn(year))
	}
	start := Start(year, wk)
	return Window{Tag: Tag(start), Start: start, End: start.AddDate(0, 0, 7)}, nil
}

// Of returns the ISO week window containing t.
func Of(t time.Time) Window {
	year, wk := t.UTC().ISOWeek()
	start := Start(year, wk)
	return Window{Tag: Tag(start), Start: start, End: start.AddDate(0, 0, 7)}
}

// Tag formats the ISO week containing t.
func Tag(t time.Time) string {
	year, wk := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, wk)
}

// Start returns Monday 00:00 UTC of ISO week wk in year.
func Start(year, wk int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	monday := jan4.AddDate(0, 0, -offset)
	return monday.AddDate(0, 0, (wk-1)*7)
}

// WeeksIn returns 52 or 53.
func WeeksIn(year int) int {
	_, wk := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return wk
}
