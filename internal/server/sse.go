package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-discovery/internal/events"
	"github.com/sells-group/portfolio-discovery/internal/model"
	"github.com/sells-group/portfolio-discovery/internal/registry"
)

// sseWriter writes Server-Sent Events.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, eris.New("server: streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) event(name string, data []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) ping() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// handleRunEvents streams RunState snapshots, starting with the current
// one, and ends the stream after a terminal status.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	ctx := r.Context()

	// Subscribe before reading so no write between the two is missed.
	ch := s.deps.Events.Subscribe(ctx, events.RunTopic(runID))

	run, err := s.deps.Runs.GetRun(ctx, runID)
	switch {
	case errors.Is(err, registry.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "could not load run")
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	initial, err := json.Marshal(run)
	if err != nil {
		return
	}
	if err := sse.event("snapshot", initial); err != nil || run.Status.IsTerminal() {
		return
	}

	s.stream(r, sse, ch, "snapshot", func(payload []byte) bool {
		var st model.RunState
		if err := json.Unmarshal(payload, &st); err != nil {
			zap.L().Debug("server: decode run snapshot", zap.Error(err))
			return false
		}
		return st.Status.IsTerminal()
	})
}

// handleUserEvents streams lifecycle events for one user until the client
// goes away.
func (s *Server) handleUserEvents(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ch := s.deps.Events.Subscribe(r.Context(), events.UserTopic(userID))

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.stream(r, sse, ch, "user", func([]byte) bool { return false })
}

// stream forwards events until the subscription closes, the client leaves,
// a write fails or done reports true for a payload.
func (s *Server) stream(r *http.Request, sse *sseWriter, ch <-chan events.Event, name string, done func([]byte) bool) {
	ticker := time.NewTicker(s.deps.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := sse.event(name, evt.Payload); err != nil || done(evt.Payload) {
				return
			}
		case <-ticker.C:
			if err := sse.ping(); err != nil {
				return
			}
		}
	}
}
