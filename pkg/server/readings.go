package server

import (
	"net/http"
)

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	snap := s.feed.Snapshot()
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, snap)
}
