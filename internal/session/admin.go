package session

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/sensorapi/internal/httputil"
	"github.com/banshee-data/sensorapi/internal/monitoring"
	"github.com/banshee-data/sensorapi/internal/scanmsg"
)

// AttachAdminRoutes registers session debug pages on the /debug/ index of
// mux. tsweb limits them to loopback and tailnet clients.
func (m *Manager) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("live sessions", func() any {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.sessions.live
	})
	debug.KVFunc("messages dispatched", func() any {
		var total uint64
		for _, s := range m.stats.Summary() {
			total += s.Delivered
		}
		return total
	})

	// ?id=<session id> selects one session.
	debug.HandleFunc("sessions", "Live sessions with state and listener counts", httputil.GetOnly(func(w http.ResponseWriter, r *http.Request) {
		infos := m.Sessions()
		id := r.URL.Query().Get("id")
		if id == "" {
			httputil.WriteJSON(w, http.StatusOK, infos)
			return
		}
		for _, info := range infos {
			if info.ID == id {
				httputil.WriteJSON(w, http.StatusOK, info)
				return
			}
		}
		httputil.NotFound(w, "no live session "+id)
	}))

	// ?kind=<name> selects one message kind.
	debug.HandleFunc("dispatch-stats", "Per-kind dispatch counters and latency", httputil.GetOnly(func(w http.ResponseWriter, r *http.Request) {
		summary := m.Stats()
		name := r.URL.Query().Get("kind")
		if name == "" {
			httputil.WriteJSON(w, http.StatusOK, summary)
			return
		}
		kind, err := scanmsg.ParseKind(name)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		out := []monitoring.KindSummary{}
		for _, s := range summary {
			if s.Kind == kind.String() {
				out = append(out, s)
			}
		}
		httputil.WriteJSON(w, http.StatusOK, out)
	}))
}
