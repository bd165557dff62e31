package handlers

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/PortNumber53/agency-portal/backend/internal/middleware"
	"github.com/PortNumber53/agency-portal/backend/internal/models"
)

type realtimeHub struct {
	mu    sync.Mutex
	conns map[string]map[*websocket.Conn]struct{}
}

func newRealtimeHub() *realtimeHub {
	return &realtimeHub{
		conns: make(map[string]map[*websocket.Conn]struct{}),
	}
}

func (h *realtimeHub) add(userID string, c *websocket.Conn) {
	if h == nil || c == nil || strings.TrimSpace(userID) == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.conns[userID]
	if m == nil {
		m = make(map[*websocket.Conn]struct{})
		h.conns[userID] = m
	}
	m[c] = struct{}{}
}

func (h *realtimeHub) remove(userID string, c *websocket.Conn) {
	if h == nil || c == nil || strings.TrimSpace(userID) == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.conns[userID]
	if m == nil {
		return
	}
	delete(m, c)
	if len(m) == 0 {
		delete(h.conns, userID)
	}
}

func (h *realtimeHub) broadcast(userID string, msg []byte) {
	if h == nil || strings.TrimSpace(userID) == "" || len(msg) == 0 {
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, 8)
	for c := range h.conns[userID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := websocket.Message.Send(c, string(msg)); err != nil {
			_ = c.Close()
			h.remove(userID, c)
		}
	}
}

func (h *realtimeHub) count(userID string) int {
	if h == nil || strings.TrimSpace(userID) == "" {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}

func isLocalhostRemoteAddr(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil && h != "" {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

// eventsAllowed reports whether the request may open an events socket for userID. An
// authenticated caller must be that user or an admin. Otherwise the internal secret is required;
// loopback callers are only trusted while authentication is off.
func (h *Handler) eventsAllowed(r *http.Request, userID string) bool {
	if c, ok := middleware.ClaimsFrom(r.Context()); ok {
		return c.Subject == userID || c.IsAdmin()
	}
	if h.wsSecret != "" && strings.TrimSpace(r.Header.Get(middleware.InternalWSSecretHeader)) == h.wsSecret {
		return true
	}
	return !h.authRequired && isLocalhostRemoteAddr(r.RemoteAddr)
}

type realtimeEvent struct {
	Type string `json:"type"`

	UserID        string `json:"user_id"`
	MeetingID     string `json:"meetingId,omitempty"`
	InstanceID    string `json:"instanceId,omitempty"`
	BookingID     string `json:"bookingId,omitempty"`
	ScheduledDate string `json:"scheduledDate,omitempty"`
	ScheduledTime string `json:"scheduledTime,omitempty"`

	Status       string               `json:"status,omitempty"`
	IDs          []string             `json:"ids,omitempty"`
	Count        int                  `json:"count,omitempty"`
	Notification *models.Notification `json:"notification,omitempty"`
	Now          string               `json:"now,omitempty"`
	At           string               `json:"at"`
}

// EventsWebSocket streams realtime meeting, booking and notification events for one user.
//
// URL: /api/events/ws?userId=...&token=...
// Auth: bearer token (header or ?token=) for userId, or X-Internal-WS-Secret
func (h *Handler) EventsWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "userId is required")
		return
	}
	if !h.eventsAllowed(r, userID) {
		log.Printf("[RealtimeWS] forbidden userId=%s remote=%s secSet=%v", userID, r.RemoteAddr, h.wsSecret != "")
		writeError(w, http.StatusForbidden, "FORBIDDEN", "forbidden")
		return
	}

	// golang.org/x/net/websocket rejects Origin != Host by default; callers are already authenticated above.
	wsServer := websocket.Server{
		Handshake: func(cfg *websocket.Config, req *http.Request) error {
			return nil
		},
		Handler: func(c *websocket.Conn) {
			log.Printf("[RealtimeWS] connect userId=%s remote=%s ua=%q", userID, r.RemoteAddr, truncate(r.UserAgent(), 120))
			h.rt.add(userID, c)
			defer h.rt.remove(userID, c)
			defer log.Printf("[RealtimeWS] disconnect userId=%s remote=%s", userID, r.RemoteAddr)

			hello := realtimeEvent{Type: "hello", UserID: userID, At: h.now().UTC().Format(time.RFC3339)}
			if b, err := json.Marshal(hello); err == nil {
				_ = websocket.Message.Send(c, string(b))
			}

			// Periodic clock events keep intermediaries from idling the socket out.
			done := make(chan struct{})
			var doneOnce sync.Once
			closeDone := func() { doneOnce.Do(func() { close(done) }) }
			go func() {
				ticker := time.NewTicker(30 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						now := h.now().UTC()
						b, err := json.Marshal(realtimeEvent{Type: "clock", UserID: userID, Now: now.Format("15:04:05"), At: now.Format(time.RFC3339)})
						if err != nil {
							continue
						}
						if err := websocket.Message.Send(c, string(b)); err != nil {
							closeDone()
							return
						}
					}
				}
			}()

			for {
				var ignored string
				if err := websocket.Message.Receive(c, &ignored); err != nil {
					closeDone()
					break
				}
			}
		},
	}

	wsServer.ServeHTTP(w, r)
}

func (h *Handler) emitEvent(userID string, ev realtimeEvent) {
	if h == nil || h.rt == nil || strings.TrimSpace(userID) == "" {
		return
	}
	ev.UserID = userID
	if strings.TrimSpace(ev.At) == "" {
		ev.At = h.now().UTC().Format(time.RFC3339)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Realtime] marshal_failed userId=%s err=%v", userID, err)
		return
	}
	subs := h.rt.count(userID)
	if subs == 0 {
		return
	}
	log.Printf("[Realtime] emit userId=%s type=%s meetingId=%s instanceId=%s status=%s subs=%d",
		userID, ev.Type, ev.MeetingID, ev.InstanceID, ev.Status, subs)
	h.rt.broadcast(userID, b)
}
