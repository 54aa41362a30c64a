// Package engine owns the scheduling and enforcement state machine: it
// turns a day's event times into timers, runs the grace-period
// countdown after each firing, escalates unacknowledged events to a
// lock broadcast, and resolves escalation on acknowledgment.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"prayerd/internal/aladhan"
	appLog "prayerd/internal/log"
	"prayerd/internal/notify"
	"prayerd/internal/prayer"
	"prayerd/internal/sched"
	"prayerd/internal/store"
)

const (
	eventTimerPrefix = "prayer-"
	graceTimerPrefix = "grace-"
)

// ErrNoLocation is returned by Refresh when no location has been set
// yet; there is nothing to fetch until the user provides one.
var ErrNoLocation = errors.New("no location configured")

// TimerService schedules keyed one-shot callbacks. Implemented by
// sched.Timers; tests substitute a fake.
type TimerService interface {
	Create(key string, at time.Time)
	Cancel(key string) bool
	CancelPrefix(prefix string) int
}

// Broadcaster fans lock/unlock commands out to all connected surfaces.
// Delivery is best-effort; both calls must be non-blocking no-ops when
// no surface is connected.
type Broadcaster interface {
	Lock(event prayer.Event)
	Unlock()
}

// TimeSource is the upstream prayer-time lookup.
type TimeSource interface {
	TimingsByCity(ctx context.Context, loc aladhan.Location, method int, day time.Time) (aladhan.Timings, error)
}

// Options configures a new Engine. Store, Broadcast and Source are
// required; the rest default sensibly.
type Options struct {
	Store     *store.Store
	Broadcast Broadcaster
	Source    TimeSource
	Notifier  notify.Notifier

	// Timers overrides the internal timer service (tests only).
	Timers TimerService

	// Timezone anchors the wall clock. Nil means time.Local.
	Timezone *time.Location

	// Now overrides the clock (tests only).
	Now func() time.Time
}

// Engine is the single owner of escalation state and the ledger. Every
// inbound trigger (event timer, grace timer, acknowledgment, reset,
// settings change) serializes on one mutex; none of them block on the
// network while holding it.
type Engine struct {
	store    *store.Store
	timers   TimerService
	cast     Broadcaster
	source   TimeSource
	notifier notify.Notifier
	tz       *time.Location
	now      func() time.Time

	mu     sync.Mutex
	active prayer.Event // "" when no escalation is in flight
	locked bool
}

func New(opts Options) *Engine {
	e := &Engine{
		store:    opts.Store,
		cast:     opts.Broadcast,
		source:   opts.Source,
		notifier: opts.Notifier,
		tz:       opts.Timezone,
	}
	if e.tz == nil {
		e.tz = time.Local
	}
	if e.notifier == nil {
		e.notifier = notify.Log{}
	}
	e.now = opts.Now
	if e.now == nil {
		e.now = func() time.Time { return time.Now().In(e.tz) }
	}
	e.timers = opts.Timers
	if e.timers == nil {
		e.timers = sched.New(e.HandleTimer)
	}
	return e
}

// Startup seeds first-run settings from defaults, re-arms today's
// timers from the stored schedule if it is still current, and otherwise
// attempts a refresh. Never fatal: a failed refresh just leaves the
// schedule empty until the next trigger.
func (e *Engine) Startup(ctx context.Context, defaults store.Settings) error {
	_, ok, err := e.store.Settings()
	if err != nil {
		return err
	}
	if !ok {
		if err := e.store.SaveSettings(defaults); err != nil {
			return err
		}
		if _, err := e.store.ResetLedger(); err != nil {
			return err
		}
		e.notifier.Notify("Welcome to Prayer Reminder",
			"Please set your location to get started.")
		appLog.Info("first run, settings seeded",
			"method", defaults.Method,
			"grace_minutes", defaults.GraceMinutes,
			"lock_enabled", defaults.LockEnabled)
	}

	rec, ok, err := e.store.Day()
	if err != nil {
		return err
	}
	now := e.now()
	if ok && rec.Schedule.Date == prayer.DateOf(now) {
		e.mu.Lock()
		e.applyScheduleLocked(rec.Schedule.Times)
		e.mu.Unlock()
		appLog.Info("schedule restored from store", "date", rec.Schedule.Date)
		return nil
	}

	if err := e.Refresh(ctx); err != nil {
		if errors.Is(err, ErrNoLocation) {
			appLog.Info("no location set, schedule empty until configured")
			return nil
		}
		appLog.Error("startup refresh failed", err)
	}
	return nil
}

// applyScheduleLocked rebuilds the event timers for today from times.
// Existing event timers are cancelled first so a rebuild never
// duplicates a firing. Past and malformed times are skipped per event.
func (e *Engine) applyScheduleLocked(times prayer.Times) {
	e.timers.CancelPrefix(eventTimerPrefix)
	now := e.now()
	for _, ev := range prayer.Order {
		raw, ok := times[ev]
		if !ok {
			continue
		}
		c, err := prayer.ParseClock(raw)
		if err != nil {
			appLog.Warn("skipping event with malformed time", "event", ev, "raw", raw)
			continue
		}
		at := c.At(now)
		// An event landing exactly on "now" still gets a timer; it
		// fires immediately. Only strictly-past times are dropped.
		if at.Before(now) {
			appLog.Debug("event time already passed", "event", ev, "at", c.String())
			continue
		}
		e.timers.Create(eventTimerPrefix+string(ev), at)
		appLog.Info("event timer armed", "event", ev, "at", at.Format(time.RFC3339))
	}
}

// HandleTimer dispatches a fired timer key. It is the entry point the
// timer service delivers into.
func (e *Engine) HandleTimer(key string) {
	switch {
	case strings.HasPrefix(key, eventTimerPrefix):
		e.eventFired(prayer.Event(strings.TrimPrefix(key, eventTimerPrefix)))
	case strings.HasPrefix(key, graceTimerPrefix):
		e.graceFired(prayer.Event(strings.TrimPrefix(key, graceTimerPrefix)))
	default:
		appLog.Warn("unknown timer key fired", "key", key)
	}
}

// eventFired enters the Pending state for ev: notify the user and start
// the grace countdown. With enforcement disabled the notification is
// all that happens. The most recent firing wins the single grace slot;
// an older pending event is abandoned.
func (e *Engine) eventFired(ev prayer.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ledger, err := e.store.Ledger()
	if err != nil {
		appLog.Error("event firing: ledger read failed", err, "event", ev)
		return
	}
	if ledger[ev] {
		appLog.Debug("event already acknowledged, staying idle", "event", ev)
		return
	}

	e.notifier.Notify(fmt.Sprintf("%s Prayer Time", ev),
		fmt.Sprintf("It's time for %s prayer.", ev))

	settings, ok, err := e.store.Settings()
	if err != nil || !ok {
		appLog.Error("event firing: settings read failed", err, "event", ev)
		return
	}
	if !settings.LockEnabled {
		appLog.Info("lock disabled, notification only", "event", ev)
		return
	}

	if e.active != "" && e.active != ev {
		appLog.Warn("overlapping escalation, adopting newer event",
			"abandoned", e.active, "event", ev)
	}
	e.active = ev
	// One grace slot system-wide: replacing it cancels any countdown
	// still running for a previous event.
	e.timers.CancelPrefix(graceTimerPrefix)
	deadline := e.now().Add(settings.GracePeriod())
	e.timers.Create(graceTimerPrefix+string(ev), deadline)
	appLog.Info("grace period started", "event", ev,
		"deadline", deadline.Format(time.RFC3339))
}

// graceFired decides escalation for ev. The ledger is re-checked first:
// an acknowledgment that landed during the countdown wins. A stale
// firing for an event that is no longer active is dropped without
// touching the newer event's state.
func (e *Engine) graceFired(ev prayer.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ledger, err := e.store.Ledger()
	if err != nil {
		appLog.Error("grace expiry: ledger read failed", err, "event", ev)
		return
	}
	if ledger[ev] {
		appLog.Info("grace expired but event acknowledged, no lock", "event", ev)
		return
	}
	if e.active != ev {
		appLog.Warn("stale grace expiry ignored", "event", ev, "active", e.active)
		return
	}

	e.locked = true
	e.cast.Lock(ev)
	appLog.Info("escalated to lock", "event", ev)
}

// AckOutcome reports what Acknowledge did.
type AckOutcome struct {
	// Event is the event that was acknowledged; empty when there was
	// nothing to acknowledge.
	Event prayer.Event
	// Already is true when the event had been acknowledged before.
	Already bool
	// Unlocked is true when this acknowledgment cleared an active lock.
	Unlocked bool
}

// Acknowledge marks ev acknowledged for today. An empty ev substitutes
// the currently active event; if none is active the call is a harmless
// no-op. Acknowledging always attempts to clear matching lock state, so
// a lock can never stay stuck once the ledger entry is true.
func (e *Engine) Acknowledge(ev prayer.Event) (AckOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ev == "" {
		if e.active == "" {
			appLog.Debug("nothing to acknowledge")
			return AckOutcome{}, nil
		}
		ev = e.active
	}
	if !ev.Valid() {
		return AckOutcome{}, fmt.Errorf("unknown event %q", ev)
	}

	ledger, err := e.store.Ledger()
	if err != nil {
		return AckOutcome{}, err
	}
	out := AckOutcome{Event: ev, Already: ledger[ev]}
	if !out.Already {
		ledger[ev] = true
		if err := e.store.SaveLedger(ledger); err != nil {
			return AckOutcome{}, err
		}
	}

	e.timers.Cancel(graceTimerPrefix + string(ev))

	if e.active == ev {
		if e.locked {
			e.cast.Unlock()
			out.Unlocked = true
		}
		e.active = ""
		e.locked = false
	}

	appLog.Info("event acknowledged", "event", ev,
		"already", out.Already, "unlocked", out.Unlocked)
	return out, nil
}

// Reset is the daily boundary: clear any escalation without marking it
// acknowledged, reset the ledger, drop the old day's timers, then fetch
// the new day. The boundary is clock-driven, so the clearing steps take
// effect even when the fetch fails.
func (e *Engine) Reset(ctx context.Context) {
	e.mu.Lock()
	e.timers.CancelPrefix(graceTimerPrefix)
	if e.locked {
		e.cast.Unlock()
	}
	e.active = ""
	e.locked = false
	if _, err := e.store.ResetLedger(); err != nil {
		appLog.Error("daily reset: ledger reset failed", err)
	}
	e.timers.CancelPrefix(eventTimerPrefix)
	e.mu.Unlock()

	appLog.Info("daily reset complete, fetching new day")
	if err := e.Refresh(ctx); err != nil && !errors.Is(err, ErrNoLocation) {
		appLog.Error("daily reset: refresh failed, schedule empty", err)
	}
}

// Refresh fetches today's times from the upstream source, persists
// them, and rebuilds the event timers. The ledger is reset only when
// the fetched day differs from the stored one, so a mid-day refresh
// keeps existing acknowledgments. On any failure the prior schedule and
// ledger are left untouched.
func (e *Engine) Refresh(ctx context.Context) error {
	settings, ok, err := e.store.Settings()
	if err != nil {
		return err
	}
	if !ok || settings.Location == "" {
		return ErrNoLocation
	}
	loc, err := aladhan.ParseLocation(settings.Location)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	now := e.now()
	timings, err := e.source.TimingsByCity(ctx, loc, settings.Method, now)
	if err != nil {
		e.notifier.Notify("Prayer Times Error",
			"Could not fetch prayer times. Please check your location.")
		return fmt.Errorf("refresh: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	today := prayer.DateOf(e.now())
	prev, hadDay, err := e.store.Day()
	if err != nil {
		return err
	}
	if !hadDay || prev.Schedule.Date != today {
		if _, err := e.store.ResetLedger(); err != nil {
			return err
		}
	}
	rec := store.DayRecord{
		Schedule:    prayer.DaySchedule{Date: today, Times: timings.Times},
		Date:        timings.Date,
		LastUpdated: e.now(),
	}
	if err := e.store.SaveDay(rec); err != nil {
		return err
	}
	e.applyScheduleLocked(timings.Times)

	e.notifier.Notify("Prayer Times Updated",
		fmt.Sprintf("Prayer times set for %s.", loc))
	appLog.Info("schedule refreshed", "location", loc.String(), "date", today)
	return nil
}

// LockStatus returns the current lock snapshot. Surfaces reconcile
// through this rather than by replaying missed broadcasts.
func (e *Engine) LockStatus() (bool, prayer.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.locked, e.active
}

// Status is a full snapshot for the API and CLI.
type Status struct {
	Date        aladhan.DateInfo `json:"date"`
	Times       prayer.Times     `json:"times"`
	Ledger      prayer.Ledger    `json:"acknowledged"`
	Locked      bool             `json:"locked"`
	Active      prayer.Event     `json:"active_event,omitempty"`
	NextEvent   prayer.Event     `json:"next_event,omitempty"`
	NextAt      *time.Time       `json:"next_at,omitempty"`
	LastUpdated time.Time        `json:"last_updated"`
}

func (e *Engine) Status() (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, _, err := e.store.Day()
	if err != nil {
		return Status{}, err
	}
	ledger, err := e.store.Ledger()
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Date:        rec.Date,
		Times:       rec.Schedule.Times,
		Ledger:      ledger,
		Locked:      e.locked,
		Active:      e.active,
		LastUpdated: rec.LastUpdated,
	}
	if ev, at, ok := rec.Schedule.Next(e.now()); ok {
		st.NextEvent = ev
		st.NextAt = &at
	}
	return st, nil
}

// Settings returns the stored settings, falling back to defaults when
// the store has not been seeded.
func (e *Engine) Settings() (store.Settings, error) {
	s, _, err := e.store.Settings()
	return s, err
}

// UpdateSettings persists new settings and reports whether the change
// requires a schedule refresh (location or calculation method moved).
// Disabling the lock also clears any active escalation.
func (e *Engine) UpdateSettings(next store.Settings) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, _, err := e.store.Settings()
	if err != nil {
		return false, err
	}
	if err := e.store.SaveSettings(next); err != nil {
		return false, err
	}

	if !next.LockEnabled {
		e.timers.CancelPrefix(graceTimerPrefix)
		if e.locked {
			e.cast.Unlock()
		}
		e.active = ""
		e.locked = false
	}

	refresh := next.Location != prev.Location || next.Method != prev.Method
	appLog.Info("settings updated",
		"location", next.Location,
		"method", next.Method,
		"grace_minutes", next.GraceMinutes,
		"lock_enabled", next.LockEnabled,
		"refresh_needed", refresh)
	return refresh, nil
}

// Day returns the stored day record for read-only consumers (the ICS
// export endpoint).
func (e *Engine) Day() (store.DayRecord, bool, error) {
	return e.store.Day()
}

// Timezone returns the engine's wall-clock location.
func (e *Engine) Timezone() *time.Location {
	return e.tz
}
