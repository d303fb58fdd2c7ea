package sla

import (
	"errors"
	"fmt"
	"time"
)

// maxDayAdvances bounds deadline arithmetic so a calendar with no reachable
// business window fails instead of looping forever.
const maxDayAdvances = 400

type Hours struct {
	StartSec int
	EndSec   int
}

type Calendar struct {
	Location *time.Location
	Hours    map[time.Weekday]Hours
	Holidays map[time.Time]struct{}
}

// NewCalendar builds a calendar with the same opening hours on every listed
// weekday. Holidays are normalized to local midnight.
func NewCalendar(tz string, startHour, endHour int, days []time.Weekday, holidays []time.Time) (*Calendar, error) {
	if tz == "" {
		return nil, errors.New("timezone is required")
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	if startHour < 0 || endHour > 24 || startHour >= endHour {
		return nil, fmt.Errorf("invalid business hours %d-%d", startHour, endHour)
	}
	if len(days) == 0 {
		return nil, errors.New("no business days")
	}
	cal := &Calendar{
		Location: loc,
		Hours:    make(map[time.Weekday]Hours, len(days)),
		Holidays: make(map[time.Time]struct{}, len(holidays)),
	}
	for _, d := range days {
		cal.Hours[d] = Hours{StartSec: startHour * 3600, EndSec: endHour * 3600}
	}
	for _, h := range holidays {
		cal.Holidays[localMidnight(h, loc)] = struct{}{}
	}
	return cal, nil
}

func localMidnight(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// window returns the business window of the local day containing t.
func (c *Calendar) window(t time.Time) (open, close time.Time, ok bool) {
	day := localMidnight(t, c.Location)
	if _, hol := c.Holidays[day]; hol {
		return time.Time{}, time.Time{}, false
	}
	hrs, ok := c.Hours[day.Weekday()]
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	y, m, d := day.Date()
	open = time.Date(y, m, d, 0, 0, hrs.StartSec, 0, c.Location)
	close = time.Date(y, m, d, 0, 0, hrs.EndSec, 0, c.Location)
	return open, close, true
}

func nextDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// AddBusinessTime returns the instant at which d of business time has
// elapsed after start. Time outside business windows is not consumed. A
// zero duration snaps start forward to the next open moment. The result is
// in UTC and may equal a window's closing time.
func (c *Calendar) AddBusinessTime(start time.Time, d time.Duration) (time.Time, error) {
	if len(c.Hours) == 0 {
		return time.Time{}, errors.New("no business days")
	}
	cursor := start.In(c.Location)
	remaining := d
	advances := 0
	advance := func() error {
		advances++
		if advances > maxDayAdvances {
			return ErrCalendarExhausted
		}
		cursor = nextDay(cursor)
		return nil
	}
	for {
		open, close, ok := c.window(cursor)
		switch {
		case !ok, !cursor.Before(close):
			if err := advance(); err != nil {
				return time.Time{}, err
			}
		case cursor.Before(open):
			cursor = open
		default:
			available := close.Sub(cursor)
			if remaining <= available {
				return cursor.Add(remaining).UTC(), nil
			}
			remaining -= available
			if err := advance(); err != nil {
				return time.Time{}, err
			}
		}
	}
}

// BusinessDuration returns the business time between start and end.
func (c *Calendar) BusinessDuration(start, end time.Time) time.Duration {
	if end.Before(start) {
		start, end = end, start
	}
	start = start.In(c.Location)
	end = end.In(c.Location)
	total := time.Duration(0)
	cur := start
	for cur.Before(end) {
		open, close, ok := c.window(cur)
		if !ok || !cur.Before(close) {
			cur = nextDay(cur)
			continue
		}
		if cur.Before(open) {
			cur = open
		}
		e := minTime(end, close)
		if e.After(cur) {
			total += e.Sub(cur)
		}
		cur = nextDay(cur)
	}
	return total
}

// Contains reports whether t falls inside a business window. The closing
// instant itself counts as inside.
func (c *Calendar) Contains(t time.Time) bool {
	local := t.In(c.Location)
	open, close, ok := c.window(local)
	return ok && !local.Before(open) && !local.After(close)
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
