package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"prayerd/internal/aladhan"
	"prayerd/internal/config"
	"prayerd/internal/engine"
	"prayerd/internal/hub"
	"prayerd/internal/prayer"
	"prayerd/internal/store"
)

type noopTimers struct{}

func (noopTimers) Create(string, time.Time) {}
func (noopTimers) Cancel(string) bool       { return false }
func (noopTimers) CancelPrefix(string) int  { return 0 }

type noopCast struct{}

func (noopCast) Lock(prayer.Event) {}
func (noopCast) Unlock()           {}

type stubSource struct {
	timings aladhan.Timings
}

func (s stubSource) TimingsByCity(context.Context, aladhan.Location, int, time.Time) (aladhan.Timings, error) {
	return s.timings, nil
}

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *engine.Engine) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SaveSettings(store.Settings{
		Location:     "London, UK",
		Method:       2,
		GraceMinutes: 15,
		LockEnabled:  true,
	}); err != nil {
		t.Fatal(err)
	}

	eng := engine.New(engine.Options{
		Store:     st,
		Broadcast: noopCast{},
		Source: stubSource{timings: aladhan.Timings{
			Times: prayer.Times{
				prayer.Fajr:    "05:10",
				prayer.Dhuhr:   "13:00",
				prayer.Asr:     "16:41",
				prayer.Maghrib: "19:45",
				prayer.Isha:    "21:00",
			},
			Date: aladhan.DateInfo{
				Gregorian: aladhan.CalendarDay{Date: "31-08-2026", Weekday: "Monday"},
			},
		}},
		Timers:   noopTimers{},
		Timezone: time.UTC,
		Now: func() time.Time {
			return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
		},
	})

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	srv := httptest.NewServer(NewServer(cfg, eng, hub.New()).Handler())
	t.Cleanup(srv.Close)
	return srv, eng
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s = %d: %s", url, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatal(err)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("health = %d %q", resp.StatusCode, body)
	}
}

func TestStatusAndRefresh(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Post(srv.URL+"/api/refresh", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh = %d", resp.StatusCode)
	}

	var st engine.Status
	getJSON(t, srv.URL+"/api/status", &st)
	if st.Times[prayer.Dhuhr] != "13:00" {
		t.Fatalf("times = %v", st.Times)
	}
	if st.NextEvent != prayer.Dhuhr {
		t.Fatalf("next = %v, want Dhuhr", st.NextEvent)
	}
	if st.Date.Gregorian.Weekday != "Monday" {
		t.Fatalf("date = %+v", st.Date)
	}
}

func TestAckEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	// Nothing active and no event given: successful no-op.
	resp, err := http.Post(srv.URL+"/api/ack", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Acknowledged bool         `json:"acknowledged"`
		Event        prayer.Event `json:"event"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || out.Acknowledged {
		t.Fatalf("empty ack = %d %+v", resp.StatusCode, out)
	}

	// Explicit event.
	resp, err = http.Post(srv.URL+"/api/ack", "application/json",
		strings.NewReader(`{"event":"Fajr"}`))
	if err != nil {
		t.Fatal(err)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if !out.Acknowledged || out.Event != prayer.Fajr {
		t.Fatalf("ack Fajr = %+v", out)
	}

	// Unknown event is an input error.
	resp, err = http.Post(srv.URL+"/api/ack", "application/json",
		strings.NewReader(`{"event":"Brunch"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus ack = %d, want 400", resp.StatusCode)
	}
}

func TestSettingsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var s store.Settings
	getJSON(t, srv.URL+"/api/settings", &s)
	if s.Location != "London, UK" || s.GraceMinutes != 15 {
		t.Fatalf("settings = %+v", s)
	}

	s.GraceMinutes = 10
	data, _ := json.Marshal(s)
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/settings", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT settings = %d", resp.StatusCode)
	}

	var got store.Settings
	getJSON(t, srv.URL+"/api/settings", &got)
	if got.GraceMinutes != 10 {
		t.Fatalf("grace = %d, want 10", got.GraceMinutes)
	}
}

func TestScheduleICS(t *testing.T) {
	srv, eng := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/schedule.ics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("ics before refresh = %d, want 404", resp.StatusCode)
	}

	if err := eng.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	resp, err = http.Get(srv.URL + "/api/schedule.ics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ics = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Fatalf("content type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	text := string(body)
	if !strings.Contains(text, "BEGIN:VCALENDAR") || !strings.Contains(text, "Dhuhr prayer") {
		t.Fatalf("ics body missing expected content:\n%s", text)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	srv, _ := newTestServer(t, cfg)

	// /health stays open.
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health with auth enabled = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/status", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d", resp.StatusCode)
	}
}
