package store

import (
	"testing"
	"time"

	"prayerd/internal/aladhan"
	"prayerd/internal/prayer"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func TestSettingsRoundTrip(t *testing.T) {
	s := open(t)

	if _, ok, err := s.Settings(); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v, want absent", ok, err)
	}

	in := Settings{Location: "London, UK", Method: 2, GraceMinutes: 15, LockEnabled: true}
	if err := s.SaveSettings(in); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	out, ok, err := s.Settings()
	if err != nil || !ok {
		t.Fatalf("read settings: ok=%v err=%v", ok, err)
	}
	if out != in {
		t.Fatalf("settings = %+v, want %+v", out, in)
	}
}

func TestLedgerDefaultsAllFalse(t *testing.T) {
	s := open(t)
	l, err := s.Ledger()
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	for _, ev := range prayer.Order {
		if l[ev] {
			t.Fatalf("unwritten ledger entry %s should be false", ev)
		}
	}
}

func TestLedgerPersistsAndResets(t *testing.T) {
	s := open(t)

	l, _ := s.Ledger()
	l[prayer.Dhuhr] = true
	if err := s.SaveLedger(l); err != nil {
		t.Fatalf("save ledger: %v", err)
	}

	got, err := s.Ledger()
	if err != nil {
		t.Fatalf("re-read ledger: %v", err)
	}
	if !got[prayer.Dhuhr] || got[prayer.Fajr] {
		t.Fatalf("ledger = %v, want only Dhuhr true", got)
	}

	reset, err := s.ResetLedger()
	if err != nil {
		t.Fatalf("reset ledger: %v", err)
	}
	if reset[prayer.Dhuhr] {
		t.Fatal("reset ledger should clear Dhuhr")
	}
	got, _ = s.Ledger()
	if got[prayer.Dhuhr] {
		t.Fatal("stored ledger should be cleared after reset")
	}
}

func TestDayRoundTrip(t *testing.T) {
	s := open(t)

	if _, ok, err := s.Day(); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v, want absent", ok, err)
	}

	rec := DayRecord{
		Schedule: prayer.DaySchedule{
			Date:  "2026-08-31",
			Times: prayer.Times{prayer.Fajr: "05:10", prayer.Dhuhr: "13:00"},
		},
		Date: aladhan.DateInfo{
			Gregorian: aladhan.CalendarDay{Date: "31-08-2026", Weekday: "Monday"},
			Hijri:     aladhan.CalendarDay{Date: "18-03-1448"},
		},
		LastUpdated: time.Date(2026, 8, 31, 6, 0, 0, 0, time.UTC),
	}
	if err := s.SaveDay(rec); err != nil {
		t.Fatalf("save day: %v", err)
	}

	got, ok, err := s.Day()
	if err != nil || !ok {
		t.Fatalf("read day: ok=%v err=%v", ok, err)
	}
	if got.Schedule.Date != rec.Schedule.Date {
		t.Fatalf("date = %q, want %q", got.Schedule.Date, rec.Schedule.Date)
	}
	if got.Schedule.Times[prayer.Dhuhr] != "13:00" {
		t.Fatalf("times = %v", got.Schedule.Times)
	}
	if got.Date.Gregorian.Weekday != "Monday" {
		t.Fatalf("date info = %+v", got.Date)
	}
	if !got.LastUpdated.Equal(rec.LastUpdated) {
		t.Fatalf("last updated = %v, want %v", got.LastUpdated, rec.LastUpdated)
	}
}

func TestGracePeriodFallback(t *testing.T) {
	if d := (Settings{GraceMinutes: 10}).GracePeriod(); d != 10*time.Minute {
		t.Fatalf("grace = %v, want 10m", d)
	}
	if d := (Settings{}).GracePeriod(); d != 15*time.Minute {
		t.Fatalf("zero grace = %v, want 15m fallback", d)
	}
}
