// Package hub is the broadcast channel between the engine and its
// surfaces. Surfaces connect over WebSocket; lock and unlock commands
// fan out to every connection best-effort, and a late joiner reconciles
// by querying the current lock snapshot instead of replaying history.
package hub

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"prayerd/internal/engine"
	appLog "prayerd/internal/log"
	"prayerd/internal/prayer"
)

// Message is the single wire shape for both directions.
//
// Engine to surface: lock, unlock, lockStatus.
// Surface to engine: acknowledge, requestRefresh, queryLockStatus.
type Message struct {
	Type   string       `json:"type"`
	Event  prayer.Event `json:"event,omitempty"`
	Locked *bool        `json:"locked,omitempty"`
}

const (
	TypeLock            = "lock"
	TypeUnlock          = "unlock"
	TypeLockStatus      = "lockStatus"
	TypeAcknowledge     = "acknowledge"
	TypeRequestRefresh  = "requestRefresh"
	TypeQueryLockStatus = "queryLockStatus"
)

// Controller is the slice of the engine the hub drives on behalf of
// surfaces.
type Controller interface {
	Acknowledge(ev prayer.Event) (engine.AckOutcome, error)
	Refresh(ctx context.Context) error
	LockStatus() (bool, prayer.Event)
}

// Hub tracks connected surfaces and fans broadcasts out to them.
type Hub struct {
	mu    sync.Mutex
	conns map[*surfaceConn]struct{}
	ctl   Controller
}

type surfaceConn struct {
	raw net.Conn
	wmu sync.Mutex
}

func New() *Hub {
	return &Hub{conns: make(map[*surfaceConn]struct{})}
}

// SetController wires the engine in after construction; the engine
// itself is built with the hub as its Broadcaster, so one of the two
// has to be attached late.
func (h *Hub) SetController(ctl Controller) {
	h.mu.Lock()
	h.ctl = ctl
	h.mu.Unlock()
}

// Lock broadcasts a lock command carrying the escalated event.
func (h *Hub) Lock(event prayer.Event) {
	h.broadcast(Message{Type: TypeLock, Event: event})
}

// Unlock broadcasts an unlock command.
func (h *Hub) Unlock() {
	h.broadcast(Message{Type: TypeUnlock})
}

func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		appLog.Error("hub: broadcast encode failed", err, "type", msg.Type)
		return
	}

	h.mu.Lock()
	targets := make([]*surfaceConn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.write(data); err != nil {
			// Unreachable surfaces are dropped silently, not retried.
			h.drop(c)
		}
	}
	appLog.Info("broadcast sent", "type", msg.Type, "event", msg.Event, "surfaces", len(targets))
}

func (c *surfaceConn) write(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.raw.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return wsutil.WriteServerMessage(c.raw, ws.OpText, data)
}

func (h *Hub) drop(c *surfaceConn) {
	h.mu.Lock()
	_, present := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if present {
		c.raw.Close()
	}
}

// Surfaces returns the number of connected surfaces.
func (h *Hub) Surfaces() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// ServeHTTP upgrades the request to a WebSocket surface connection. The
// current lock state is pushed immediately so a surface joining during
// an escalation is brought into compliance without asking.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		appLog.Error("hub: upgrade failed", err, "remote", r.RemoteAddr)
		return
	}

	c := &surfaceConn{raw: raw}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	ctl := h.ctl
	h.mu.Unlock()
	appLog.Info("surface connected", "remote", r.RemoteAddr)

	if ctl != nil {
		if locked, active := ctl.LockStatus(); locked {
			if data, err := json.Marshal(Message{Type: TypeLock, Event: active}); err == nil {
				if err := c.write(data); err != nil {
					h.drop(c)
					return
				}
			}
		}
	}

	h.readLoop(c, ctl)
}

func (h *Hub) readLoop(c *surfaceConn, ctl Controller) {
	defer h.drop(c)
	for {
		data, err := wsutil.ReadClientText(c.raw)
		if err != nil {
			appLog.Debug("surface disconnected", "err", err)
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			appLog.Warn("hub: malformed surface message", "err", err)
			continue
		}
		h.handle(c, ctl, msg)
	}
}

func (h *Hub) handle(c *surfaceConn, ctl Controller, msg Message) {
	if ctl == nil {
		return
	}
	switch msg.Type {
	case TypeAcknowledge:
		if _, err := ctl.Acknowledge(msg.Event); err != nil {
			appLog.Warn("hub: acknowledge rejected", "event", msg.Event, "err", err)
		}

	case TypeRequestRefresh:
		// Refresh hits the network; keep the read loop responsive.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := ctl.Refresh(ctx); err != nil {
				appLog.Error("hub: surface-requested refresh failed", err)
			}
		}()

	case TypeQueryLockStatus:
		locked, active := ctl.LockStatus()
		reply := Message{Type: TypeLockStatus, Locked: &locked, Event: active}
		data, err := json.Marshal(reply)
		if err != nil {
			return
		}
		if err := c.write(data); err != nil {
			h.drop(c)
		}

	default:
		appLog.Warn("hub: unknown message type", "type", msg.Type)
	}
}
