package prayer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event identifies one of the five daily prayers. The set is fixed and
// the order is significant: "next" and "most recent" queries walk Order.
type Event string

const (
	Fajr    Event = "Fajr"
	Dhuhr   Event = "Dhuhr"
	Asr     Event = "Asr"
	Maghrib Event = "Maghrib"
	Isha    Event = "Isha"
)

// Order lists all events in chronological order within a day.
var Order = []Event{Fajr, Dhuhr, Asr, Maghrib, Isha}

// Valid reports whether e names one of the five events.
func (e Event) Valid() bool {
	switch e {
	case Fajr, Dhuhr, Asr, Maghrib, Isha:
		return true
	}
	return false
}

// Times maps each event to its wall-clock time string as supplied by the
// upstream time source, e.g. "05:10" or "05:10 (BST)".
type Times map[Event]string

// Clock is a parsed wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses an upstream time string into a Clock. A trailing
// annotation after the first space (typically a timezone label such as
// "(BST)") is stripped; the time itself is interpreted as local
// wall-clock time.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Clock{}, errors.New("empty time string")
	}
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return Clock{}, fmt.Errorf("malformed time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return Clock{}, fmt.Errorf("malformed hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return Clock{}, fmt.Errorf("malformed minute in %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return Clock{}, fmt.Errorf("time %q out of range", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

// At anchors the clock time to the calendar day of ref, in ref's location.
func (c Clock) At(ref time.Time) time.Time {
	return time.Date(ref.Year(), ref.Month(), ref.Day(), c.Hour, c.Minute, 0, 0, ref.Location())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// DaySchedule is the set of event times for a single calendar day. It is
// rebuilt wholesale on refresh and superseded at the daily boundary;
// Date is formatted as 2006-01-02 in the engine's timezone.
type DaySchedule struct {
	Date  string `json:"date"`
	Times Times  `json:"times"`
}

// DateOf formats t as a DaySchedule date.
func DateOf(t time.Time) string {
	return t.Format("2006-01-02")
}

// Next returns the first event in Order whose time for ref's day is
// still in the future, along with that instant. Events with missing or
// malformed times are skipped. ok is false when no event remains today.
func (s DaySchedule) Next(ref time.Time) (Event, time.Time, bool) {
	for _, ev := range Order {
		raw, present := s.Times[ev]
		if !present {
			continue
		}
		c, err := ParseClock(raw)
		if err != nil {
			continue
		}
		if at := c.At(ref); at.After(ref) {
			return ev, at, true
		}
	}
	return "", time.Time{}, false
}

// Ledger records which events have been acknowledged today. Persisted;
// a true entry never reverts to false except by the daily reset.
type Ledger map[Event]bool

// NewLedger returns an all-false ledger covering every event.
func NewLedger() Ledger {
	l := make(Ledger, len(Order))
	for _, ev := range Order {
		l[ev] = false
	}
	return l
}
