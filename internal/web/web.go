package web

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ical "github.com/arran4/golang-ical"

	"prayerd/internal/config"
	"prayerd/internal/engine"
	"prayerd/internal/hub"
	appLog "prayerd/internal/log"
	"prayerd/internal/prayer"
	"prayerd/internal/store"
)

// Server exposes the daemon's HTTP API: status and settings for the
// popup/CLI, acknowledgment and refresh triggers, the surface WebSocket
// endpoint, and an ICS export of today's schedule.
type Server struct {
	cfg *config.Config
	eng *engine.Engine
	hub *hub.Hub
	mux *http.ServeMux
}

func NewServer(cfg *config.Config, eng *engine.Engine, h *hub.Hub) *Server {
	s := &Server{
		cfg: cfg,
		eng: eng,
		hub: h,
		mux: http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler, wrapped in basic auth when
// configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="prayerd", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/lock", s.handleLock)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	s.mux.HandleFunc("/api/ack", s.handleAck)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
	s.mux.HandleFunc("/api/schedule.ics", s.handleScheduleICS)
	s.mux.Handle("/ws", s.hub)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	st, err := s.eng.Status()
	if err != nil {
		appLog.Error("api status failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// lockResponse mirrors the WS lockStatus payload for plain-HTTP
// consumers.
type lockResponse struct {
	Locked bool         `json:"locked"`
	Event  prayer.Event `json:"event,omitempty"`
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	locked, active := s.eng.LockStatus()
	writeJSON(w, http.StatusOK, lockResponse{Locked: locked, Event: active})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := s.eng.Settings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read settings")
			return
		}
		writeJSON(w, http.StatusOK, settings)

	case http.MethodPut:
		var next store.Settings
		if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
			writeError(w, http.StatusBadRequest, "malformed settings body")
			return
		}
		refresh, err := s.eng.UpdateSettings(next)
		if err != nil {
			appLog.Error("api settings update failed", err)
			writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
		if refresh {
			if err := s.eng.Refresh(r.Context()); err != nil {
				// Settings are saved either way; the refresh outcome is
				// advisory.
				appLog.Error("api settings: refresh failed", err)
			}
		}
		writeJSON(w, http.StatusOK, next)

	default:
		writeError(w, http.StatusMethodNotAllowed, "GET or PUT only")
	}
}

type ackRequest struct {
	Event prayer.Event `json:"event"`
}

type ackResponse struct {
	Acknowledged bool         `json:"acknowledged"`
	Event        prayer.Event `json:"event,omitempty"`
	Already      bool         `json:"already,omitempty"`
	Unlocked     bool         `json:"unlocked,omitempty"`
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req ackRequest
	if r.Body != nil {
		// An empty body means "acknowledge whatever is active".
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	out, err := s.eng.Acknowledge(req.Event)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{
		Acknowledged: out.Event != "",
		Event:        out.Event,
		Already:      out.Already,
		Unlocked:     out.Unlocked,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	if err := s.eng.Refresh(r.Context()); err != nil {
		appLog.Error("api refresh failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	st, err := s.eng.Status()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleScheduleICS serializes today's prayer times as a VCALENDAR so
// calendar apps can subscribe to the schedule.
func (s *Server) handleScheduleICS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	rec, ok, err := s.eng.Day()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read schedule")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no schedule fetched yet")
		return
	}

	day, err := time.ParseInLocation("2006-01-02", rec.Schedule.Date, s.eng.Timezone())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stored schedule date is malformed")
		return
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//prayerd//schedule//EN")
	for _, ev := range prayer.Order {
		raw, present := rec.Schedule.Times[ev]
		if !present {
			continue
		}
		c, err := prayer.ParseClock(raw)
		if err != nil {
			continue
		}
		start := c.At(day)
		ve := cal.AddEvent(fmt.Sprintf("%s-%s@prayerd", rec.Schedule.Date, ev))
		ve.SetSummary(fmt.Sprintf("%s prayer", ev))
		ve.SetStartAt(start)
		ve.SetEndAt(start.Add(30 * time.Minute))
		ve.SetDtStampTime(rec.LastUpdated)
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = cal.SerializeTo(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
