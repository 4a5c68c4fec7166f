// Package exchange provides exchange-timezone time handling: the session
// clock, entry-window checks, calendar day keys, and days-to-expiration math.
package exchange

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rxtech-lab/argo-options/pkg/errors"
)

// Clock supplies the current time and suspension to the orchestrator so that
// tick decision logic can be tested without wall-clock waits.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// realClock is the wall clock in a fixed location.
type realClock struct {
	loc *time.Location
}

// NewClock returns a Clock reporting time in the named IANA timezone.
func NewClock(timezone string) (Clock, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid timezone %q", timezone)
	}

	return &realClock{loc: loc}, nil
}

// Now implements Clock.
func (c *realClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Sleep implements Clock.
func (c *realClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

// MinuteOfDay is a wall-clock time of day with minute resolution.
type MinuteOfDay struct {
	Hour   int
	Minute int
}

// ParseMinuteOfDay parses an "HH:MM" string.
func ParseMinuteOfDay(s string) (MinuteOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return MinuteOfDay{}, errors.Newf(errors.ErrCodeInvalidTimeWindow, "invalid time %q, expected HH:MM", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return MinuteOfDay{}, errors.Newf(errors.ErrCodeInvalidTimeWindow, "invalid hour in %q", s)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return MinuteOfDay{}, errors.Newf(errors.ErrCodeInvalidTimeWindow, "invalid minute in %q", s)
	}

	return MinuteOfDay{Hour: hour, Minute: minute}, nil
}

// String renders the time as HH:MM.
func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", m.Hour, m.Minute)
}

// minutes returns the offset from midnight in minutes.
func (m MinuteOfDay) minutes() int {
	return m.Hour*60 + m.Minute
}

// Window is a same-day wall-clock interval, inclusive at both ends.
type Window struct {
	Start MinuteOfDay
	End   MinuteOfDay
}

// NewWindow parses start/end "HH:MM" strings into a Window.
func NewWindow(start, end string) (Window, error) {
	s, err := ParseMinuteOfDay(start)
	if err != nil {
		return Window{}, err
	}

	e, err := ParseMinuteOfDay(end)
	if err != nil {
		return Window{}, err
	}

	if e.minutes() < s.minutes() {
		return Window{}, errors.Newf(errors.ErrCodeInvalidTimeWindow, "window end %s before start %s", end, start)
	}

	return Window{Start: s, End: e}, nil
}

// Contains reports whether t's time of day falls within the window.
func (w Window) Contains(t time.Time) bool {
	cur := t.Hour()*60 + t.Minute()

	return w.Start.minutes() <= cur && cur <= w.End.minutes()
}

// DayKey returns the YYYY-MM-DD date key for t. Daily aggregates roll over at
// midnight in t's location.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// DaysToExpiration returns the whole calendar days between now's date and the
// expiration date, both evaluated in now's location.
func DaysToExpiration(expiration, now time.Time) int {
	exp := expiration.In(now.Location())
	expDay := time.Date(exp.Year(), exp.Month(), exp.Day(), 0, 0, 0, 0, now.Location())
	nowDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	return int(expDay.Sub(nowDay).Hours() / 24)
}
