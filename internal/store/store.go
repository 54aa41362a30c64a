package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/peterbourgon/diskv/v3"

	"prayerd/internal/aladhan"
	"prayerd/internal/prayer"
)

// Store is the durable key-value state surviving daemon restarts. Each
// logical record is one JSON value under a stable key; every read and
// write is a discrete operation, no long-lived transactions.
type Store struct {
	d *diskv.Diskv
}

const (
	keySettings = "settings"
	keyLedger   = "ledger"
	keyDay      = "day"
)

// Settings are the user-tunable knobs. They are seeded from the config
// file on first run and mutated through the API afterwards.
type Settings struct {
	Location     string `json:"location"`
	Method       int    `json:"method"`
	GraceMinutes int    `json:"grace_minutes"`
	LockEnabled  bool   `json:"lock_enabled"`
}

// GracePeriod returns the grace duration, falling back to 15 minutes
// for zero or negative values.
func (s Settings) GracePeriod() time.Duration {
	if s.GraceMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.GraceMinutes) * time.Minute
}

// DayRecord is the persisted form of today's schedule: the event times,
// the calendar date they were fetched for, and when the fetch happened.
type DayRecord struct {
	Schedule    prayer.DaySchedule `json:"schedule"`
	Date        aladhan.DateInfo   `json:"date_info"`
	LastUpdated time.Time          `json:"last_updated"`
}

// Open creates a Store rooted at basePath, creating the directory if
// needed.
func Open(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, errors.New("store base path is empty")
	}
	if err := os.MkdirAll(basePath, 0o700); err != nil {
		return nil, fmt.Errorf("store: ensure base path: %w", err)
	}
	d := diskv.New(diskv.Options{
		BasePath:     basePath,
		Transform:    func(string) []string { return nil },
		CacheSizeMax: 1024 * 1024, // 1MB
	})
	return &Store{d: d}, nil
}

func (s *Store) read(key string, v any) (bool, error) {
	data, err := s.d.Read(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("store: read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) write(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	if err := s.d.Write(key, data); err != nil {
		return fmt.Errorf("store: write %s: %w", key, err)
	}
	return nil
}

// Settings returns the stored settings. ok is false when none have been
// seeded yet.
func (s *Store) Settings() (Settings, bool, error) {
	var out Settings
	ok, err := s.read(keySettings, &out)
	return out, ok, err
}

func (s *Store) SaveSettings(v Settings) error {
	return s.write(keySettings, v)
}

// Ledger returns the stored acknowledgment ledger, or an all-false one
// when nothing is stored.
func (s *Store) Ledger() (prayer.Ledger, error) {
	out := prayer.NewLedger()
	if _, err := s.read(keyLedger, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SaveLedger(l prayer.Ledger) error {
	return s.write(keyLedger, l)
}

// ResetLedger overwrites the ledger with all-false entries.
func (s *Store) ResetLedger() (prayer.Ledger, error) {
	l := prayer.NewLedger()
	return l, s.SaveLedger(l)
}

// Day returns the stored day record. ok is false when no schedule has
// been fetched yet.
func (s *Store) Day() (DayRecord, bool, error) {
	var out DayRecord
	ok, err := s.read(keyDay, &out)
	return out, ok, err
}

func (s *Store) SaveDay(rec DayRecord) error {
	return s.write(keyDay, rec)
}
