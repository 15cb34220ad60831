package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-discovery/internal/discovery"
	"github.com/sells-group/portfolio-discovery/internal/registry"
)

const maxPayloadBytes = 1 << 20

type discoverPayload struct {
	SponsorName  string `json:"sponsorName" validate:"required,max=200"`
	SponsorID    *int64 `json:"sponsorId" validate:"omitempty,gt=0"`
	PortfolioURL string `json:"portfolioUrl" validate:"omitempty,url"`
	Mode         string `json:"mode" validate:"omitempty,oneof=append update replace"`
	UserID       string `json:"userId" validate:"omitempty,max=128"`
}

func (p discoverPayload) startRequest() discovery.StartRequest {
	return discovery.StartRequest{
		SponsorName:  p.SponsorName,
		SponsorID:    p.SponsorID,
		PortfolioURL: p.PortfolioURL,
		Mode:         p.Mode,
		UserID:       p.UserID,
	}
}

type cancelPayload struct {
	RunID string `json:"runId" validate:"required"`
}

// decode reads a JSON body into v and validates it. It writes the 400
// response itself and reports whether the handler should continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
	}
	return strings.Join(msgs, "; ")
}

func (s *Server) readDiscover(w http.ResponseWriter, r *http.Request) (discoverPayload, bool) {
	var p discoverPayload
	if !s.decode(w, r, &p) {
		return p, false
	}
	p.SponsorName = strings.TrimSpace(p.SponsorName)
	if p.SponsorName == "" {
		writeError(w, http.StatusBadRequest, "SponsorName failed required")
		return p, false
	}
	return p, true
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	p, ok := s.readDiscover(w, r)
	if !ok {
		return
	}
	res, err := s.deps.Starter.Start(r.Context(), p.startRequest())
	if err != nil {
		zap.L().Error("server: start run", zap.String("sponsor", p.SponsorName), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start run")
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// handleQueue runs a delivered start request to completion. A failure
// answers 500 so the queue redelivers.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	p, ok := s.readDiscover(w, r)
	if !ok {
		return
	}
	res, err := s.deps.Starter.RunSync(r.Context(), p.startRequest())
	if err != nil {
		zap.L().Error("server: queued run failed",
			zap.String("sponsor", p.SponsorName), zap.String("run_id", res.RunID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"runId": res.RunID, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var p cancelPayload
	if !s.decode(w, r, &p) {
		return
	}
	err := s.deps.Runs.CancelRun(r.Context(), p.RunID)
	switch {
	case errors.Is(err, registry.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case err != nil:
		zap.L().Error("server: cancel run", zap.String("run_id", p.RunID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not cancel run")
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := s.deps.Runs.GetRun(r.Context(), runID)
	switch {
	case errors.Is(err, registry.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found")
		return
	case err != nil:
		zap.L().Error("server: get run", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load run")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, run)
}
