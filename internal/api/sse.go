package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// streamEvents serves a job's event stream over Server-Sent Events. The
// stream replays the retained tail, follows live events, and ends after the
// terminal status event.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.registry.Job(jobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := s.streams.Subscribe(jobID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-sub.Events():
			if !open {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				s.logger.Error("encode stream event failed",
					zap.String("job_id", jobID), zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
