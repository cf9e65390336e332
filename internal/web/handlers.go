package web

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/HelioGo/internal/calibrate"
	"github.com/cjeanneret/HelioGo/internal/profile"
)

// RunControl is the slice of the calibration runner the web surface
// drives.
type RunControl interface {
	Start(ctx context.Context) error
	Pause()
	Resume()
	Abort()
	Advance()
	Snapshot() calibrate.Snapshot
}

// ProfileStore is the slice of the profile store the web surface
// reads. Nil disables the profile endpoints.
type ProfileStore interface {
	List() ([]profile.Meta, error)
	Load(id string) (*profile.Profile, error)
	Latest() (*profile.Profile, error)
}

// RigInfo describes the configured rig for the UI.
type RigInfo struct {
	GridRows int    `json:"grid_rows"`
	GridCols int    `json:"grid_cols"`
	Mode     string `json:"mode"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Runner      RunControl
	Store       ProfileStore
	Rig         RigInfo
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies. If runner
// is nil, the control endpoints return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, runner RunControl, store ProfileStore, rig RigInfo, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Runner:      runner,
		Store:       store,
		Rig:         rig,
		staticFS:    staticFS,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HandleConfig returns the rig description as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Rig)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleCalibrate handles POST /calibrate to start a run.
func (h *Handlers) HandleCalibrate(w http.ResponseWriter, r *http.Request) {
	if h.Runner == nil {
		http.Error(w, "runner not configured", http.StatusServiceUnavailable)
		return
	}
	err := h.Runner.Start(context.Background())
	switch {
	case errors.Is(err, calibrate.ErrRunActive):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, calibrate.ErrNoCalibratableTiles):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		h.Broadcaster.BroadcastMsg("calibration run started")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

// HandlePause handles POST /pause.
func (h *Handlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.control(w, func(rc RunControl) { rc.Pause() }, "paused")
}

// HandleResume handles POST /resume.
func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.control(w, func(rc RunControl) { rc.Resume() }, "resumed")
}

// HandleAbort handles POST /abort.
func (h *Handlers) HandleAbort(w http.ResponseWriter, r *http.Request) {
	h.control(w, func(rc RunControl) { rc.Abort() }, "aborting")
}

// HandleAdvance handles POST /advance (step mode).
func (h *Handlers) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	h.control(w, func(rc RunControl) { rc.Advance() }, "advanced")
}

func (h *Handlers) control(w http.ResponseWriter, fn func(RunControl), status string) {
	if h.Runner == nil {
		http.Error(w, "runner not configured", http.StatusServiceUnavailable)
		return
	}
	fn(h.Runner)
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// HandleState returns the current run snapshot.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if h.Runner == nil {
		http.Error(w, "runner not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.Runner.Snapshot())
}

// HandleProfiles returns stored profile metadata, newest first.
func (h *Handlers) HandleProfiles(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		http.Error(w, "profile store not configured", http.StatusServiceUnavailable)
		return
	}
	metas, err := h.Store.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if metas == nil {
		metas = []profile.Meta{}
	}
	writeJSON(w, http.StatusOK, metas)
}

// HandleProfile returns one stored profile; the id "latest" resolves
// to the most recent.
func (h *Handlers) HandleProfile(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		http.Error(w, "profile store not configured", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	var (
		p   *profile.Profile
		err error
	)
	if id == "latest" {
		p, err = h.Store.Latest()
	} else {
		p, err = h.Store.Load(id)
	}
	if errors.Is(err, profile.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleStatusStream handles GET /state/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
