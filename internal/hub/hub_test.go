package hub

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"prayerd/internal/engine"
	"prayerd/internal/prayer"
)

type fakeCtl struct {
	mu     sync.Mutex
	locked bool
	active prayer.Event
	acked  []prayer.Event
}

func (f *fakeCtl) Acknowledge(ev prayer.Event) (engine.AckOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ev)
	return engine.AckOutcome{Event: ev}, nil
}

func (f *fakeCtl) Refresh(context.Context) error { return nil }

func (f *fakeCtl) LockStatus() (bool, prayer.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locked, f.active
}

// surface is a minimal WebSocket test client.
type surface struct {
	conn net.Conn
	rw   io.ReadWriter
}

func dialSurface(t *testing.T, httpURL string) *surface {
	t.Helper()
	wsURL := strings.Replace(httpURL, "http", "ws", 1)
	conn, br, _, err := ws.Dial(context.Background(), wsURL)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })

	var rw io.ReadWriter = conn
	if br != nil {
		rw = struct {
			io.Reader
			io.Writer
		}{io.MultiReader(br, conn), conn}
	}
	return &surface{conn: conn, rw: rw}
}

func (s *surface) send(t *testing.T, msg Message) {
	t.Helper()
	data, _ := json.Marshal(msg)
	if err := wsutil.WriteClientMessage(s.conn, ws.OpText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (s *surface) recv(t *testing.T) Message {
	t.Helper()
	s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(s.rw)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return msg
}

func waitSurfaces(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Surfaces() != want {
		if time.Now().After(deadline) {
			t.Fatalf("surfaces = %d, want %d", h.Surfaces(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLockBroadcastReachesAllSurfaces(t *testing.T) {
	h := New()
	h.SetController(&fakeCtl{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	a := dialSurface(t, srv.URL)
	b := dialSurface(t, srv.URL)
	waitSurfaces(t, h, 2)

	h.Lock(prayer.Dhuhr)
	for _, s := range []*surface{a, b} {
		msg := s.recv(t)
		if msg.Type != TypeLock || msg.Event != prayer.Dhuhr {
			t.Fatalf("message = %+v, want lock Dhuhr", msg)
		}
	}

	h.Unlock()
	if msg := a.recv(t); msg.Type != TypeUnlock {
		t.Fatalf("message = %+v, want unlock", msg)
	}
}

func TestBroadcastWithNoSurfacesIsNoOp(t *testing.T) {
	h := New()
	// Must not panic or block.
	h.Lock(prayer.Fajr)
	h.Unlock()
}

func TestLateJoinerGetsLockPush(t *testing.T) {
	h := New()
	h.SetController(&fakeCtl{locked: true, active: prayer.Isha})
	srv := httptest.NewServer(h)
	defer srv.Close()

	s := dialSurface(t, srv.URL)
	msg := s.recv(t)
	if msg.Type != TypeLock || msg.Event != prayer.Isha {
		t.Fatalf("join push = %+v, want lock Isha", msg)
	}
}

func TestQueryLockStatus(t *testing.T) {
	h := New()
	h.SetController(&fakeCtl{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	s := dialSurface(t, srv.URL)
	s.send(t, Message{Type: TypeQueryLockStatus})
	msg := s.recv(t)
	if msg.Type != TypeLockStatus {
		t.Fatalf("reply = %+v, want lockStatus", msg)
	}
	if msg.Locked == nil || *msg.Locked {
		t.Fatalf("reply = %+v, want locked=false", msg)
	}
}

func TestAcknowledgeRoutedToController(t *testing.T) {
	ctl := &fakeCtl{}
	h := New()
	h.SetController(ctl)
	srv := httptest.NewServer(h)
	defer srv.Close()

	s := dialSurface(t, srv.URL)
	waitSurfaces(t, h, 1)
	s.send(t, Message{Type: TypeAcknowledge, Event: prayer.Maghrib})

	deadline := time.Now().Add(2 * time.Second)
	for {
		ctl.mu.Lock()
		n := len(ctl.acked)
		ctl.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("acknowledge never reached the controller")
		}
		time.Sleep(5 * time.Millisecond)
	}
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.acked[0] != prayer.Maghrib {
		t.Fatalf("acked = %v, want [Maghrib]", ctl.acked)
	}
}

func TestDisconnectedSurfaceIsDropped(t *testing.T) {
	h := New()
	h.SetController(&fakeCtl{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	s := dialSurface(t, srv.URL)
	waitSurfaces(t, h, 1)
	s.conn.Close()

	// The hub notices on its next read; broadcasting afterwards must
	// not fail and the count settles back to zero.
	waitSurfaces(t, h, 0)
	h.Lock(prayer.Asr)
}
