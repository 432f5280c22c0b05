package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/c0deZ3R0/listsync/logging"
)

type Server struct {
	source    RevisionSource
	logger    *slog.Logger
	interval  time.Duration
	heartbeat time.Duration
}

// NewServer creates a Server publishing revisions from source.
func NewServer(source RevisionSource, logger *slog.Logger) *Server {
	return &Server{
		source:    source,
		logger:    logging.OrDefault(logger, component),
		interval:  200 * time.Millisecond,
		heartbeat: 15 * time.Second,
	}
}

// Handler streams one notice with the current revision, then one per
// revision change until the client goes away. Idle streams get a comment
// line every heartbeat.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		ctx := r.Context()
		last := s.source.Revision()
		if err := s.send(w, last); err != nil {
			return
		}
		flusher.Flush()
		s.logger.Debug("change stream opened", slog.String("remote", r.RemoteAddr))

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		idle := time.Now()
		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("change stream closed", slog.String("remote", r.RemoteAddr))
				return
			case <-ticker.C:
			}

			rev := s.source.Revision()
			switch {
			case rev != last:
				if err := s.send(w, rev); err != nil {
					return
				}
				last = rev
			case time.Since(idle) >= s.heartbeat:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
			default:
				continue
			}
			idle = time.Now()
			flusher.Flush()
		}
	})
}

func (s *Server) send(w http.ResponseWriter, rev int64) error {
	b, err := json.Marshal(Notice{Revision: rev, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}
