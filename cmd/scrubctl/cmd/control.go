package cmd

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/NVIDIA/btrfs-scrub/scrub"
)

// controlServer exposes scrub.Manager's operator API over HTTP so that
// pause/resume/cancel/progress can run as short-lived commands against a
// long-lived serve process rather than embedding a Manager themselves.
type controlServer struct {
	mgr *scrub.Manager
}

func newControlMux(mgr *scrub.Manager) *http.ServeMux {
	cs := &controlServer{mgr: mgr}
	mux := http.NewServeMux()
	mux.HandleFunc("/pause", cs.handlePause)
	mux.HandleFunc("/resume", cs.handleResume)
	mux.HandleFunc("/cancel", cs.handleCancel)
	mux.HandleFunc("/progress", cs.handleProgress)
	return mux
}

func parseID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.URL.Query().Get("id"))
}

func (cs *controlServer) handlePause(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := cs.mgr.Pause(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (cs *controlServer) handleResume(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := cs.mgr.Resume(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (cs *controlServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := cs.mgr.Cancel(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (cs *controlServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	stats, err := cs.mgr.Progress(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}
