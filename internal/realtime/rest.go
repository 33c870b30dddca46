package realtime

import (
	"encoding/json"
	"io"
	"net/http"

	"presenced/internal/protocol"
)

const maxEventBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ev, err := protocol.ParseHostMessage(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.engine.Deliver(ev) {
		writeError(w, http.StatusServiceUnavailable, "presence engine stopped")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleGetPresence(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleClearPresence(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Clear() {
		writeError(w, http.StatusServiceUnavailable, "presence engine stopped")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cleared"})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Reconnect() {
		writeError(w, http.StatusServiceUnavailable, "presence engine stopped")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reconnecting"})
}
