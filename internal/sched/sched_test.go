package sched

import (
	"sync"
	"testing"
	"time"
)

// collector records fired keys.
type collector struct {
	mu   sync.Mutex
	keys []string
	ch   chan string
}

func newCollector() *collector {
	return &collector{ch: make(chan string, 16)}
}

func (c *collector) handle(key string) {
	c.mu.Lock()
	c.keys = append(c.keys, key)
	c.mu.Unlock()
	c.ch <- key
}

func (c *collector) wait(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-c.ch:
		if got != want {
			t.Fatalf("fired %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timer %q did not fire", want)
	}
}

func TestCreateFires(t *testing.T) {
	c := newCollector()
	ts := New(c.handle)
	defer ts.Stop()

	ts.Create("a", time.Now().Add(10*time.Millisecond))
	c.wait(t, "a")

	if keys := ts.Keys(); len(keys) != 0 {
		t.Fatalf("fired timer still registered: %v", keys)
	}
}

func TestPastInstantFiresImmediately(t *testing.T) {
	c := newCollector()
	ts := New(c.handle)
	defer ts.Stop()

	ts.Create("past", time.Now().Add(-time.Hour))
	c.wait(t, "past")
}

func TestCreateReplacesExisting(t *testing.T) {
	c := newCollector()
	ts := New(c.handle)
	defer ts.Stop()

	// The first registration would fire far in the future; replacing it
	// must leave exactly one live timer that fires once.
	ts.Create("slot", time.Now().Add(time.Hour))
	ts.Create("slot", time.Now().Add(10*time.Millisecond))
	c.wait(t, "slot")

	select {
	case key := <-c.ch:
		t.Fatalf("unexpected second firing: %q", key)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancel(t *testing.T) {
	ts := New(func(string) { t.Error("cancelled timer fired") })
	defer ts.Stop()

	ts.Create("x", time.Now().Add(20*time.Millisecond))
	if !ts.Cancel("x") {
		t.Fatal("Cancel reported no timer for x")
	}
	if ts.Cancel("x") {
		t.Fatal("second Cancel should report nothing to cancel")
	}
	time.Sleep(60 * time.Millisecond)
}

func TestCancelPrefix(t *testing.T) {
	ts := New(func(string) {})
	defer ts.Stop()

	ts.Create("prayer-Fajr", time.Now().Add(time.Hour))
	ts.Create("prayer-Dhuhr", time.Now().Add(time.Hour))
	ts.Create("grace-Fajr", time.Now().Add(time.Hour))

	if n := ts.CancelPrefix("prayer-"); n != 2 {
		t.Fatalf("CancelPrefix removed %d, want 2", n)
	}
	keys := ts.Keys()
	if len(keys) != 1 || keys[0] != "grace-Fajr" {
		t.Fatalf("remaining keys = %v, want [grace-Fajr]", keys)
	}
}

func TestStopRejectsCreate(t *testing.T) {
	ts := New(func(string) { t.Error("timer fired after Stop") })
	ts.Create("a", time.Now().Add(time.Hour))
	ts.Stop()
	ts.Create("b", time.Now().Add(5*time.Millisecond))
	if keys := ts.Keys(); len(keys) != 0 {
		t.Fatalf("keys after Stop = %v, want none", keys)
	}
	time.Sleep(30 * time.Millisecond)
}
