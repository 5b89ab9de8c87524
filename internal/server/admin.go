package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/headline-goat/growthgoat/internal/experiment"
	"github.com/headline-goat/growthgoat/internal/notify"
	"github.com/headline-goat/growthgoat/internal/offer"
	"github.com/headline-goat/growthgoat/internal/stats"
)

type experimentSummary struct {
	experiment.Experiment
	Rates map[string]experiment.Rate `json:"rates"`
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	exps := s.app.Assigner.Experiments()
	out := make([]experimentSummary, 0, len(exps))
	for _, e := range exps {
		out = append(out, experimentSummary{Experiment: e, Rates: s.app.Assigner.GetConversionRates(r.Context(), e.ID)})
	}
	respondJSON(w, http.StatusOK, out)
}

type resultsResponse struct {
	ExperimentID string                     `json:"experimentId"`
	Rates        map[string]experiment.Rate `json:"rates"`
	Analysis     *stats.Result              `json:"analysis"`
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "experimentID")
	if _, ok := s.app.Assigner.Experiment(id); !ok {
		respondError(w, http.StatusNotFound, "experiment not found")
		return
	}
	respondJSON(w, http.StatusOK, resultsResponse{
		ExperimentID: id,
		Rates:        s.app.Assigner.GetConversionRates(r.Context(), id),
		Analysis:     s.app.Assigner.Analyze(r.Context(), id),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "experimentID")
	if _, ok := s.app.Assigner.Experiment(id); !ok {
		respondError(w, http.StatusNotFound, "experiment not found")
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = experiment.FormatCSV
	}
	if format != experiment.FormatCSV && format != experiment.FormatJSON {
		respondError(w, http.StatusBadRequest, "format must be csv or json")
		return
	}

	contentType := "text/csv"
	if format == experiment.FormatJSON {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"."+format))
	if err := experiment.Export(w, format, id, s.app.Assigner.Results(r.Context(), id)); err != nil {
		s.logger.Warn("failed to export results", zap.String("experiment_id", id), zap.Error(err))
	}
}

func (s *Server) handleResetResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "experimentID")
	if _, ok := s.app.Assigner.Experiment(id); !ok {
		respondError(w, http.StatusNotFound, "experiment not found")
		return
	}
	s.app.Assigner.ResetResults(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFunnelMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "funnelID")
	if _, ok := s.app.Funnels.Funnel(id); !ok {
		respondError(w, http.StatusNotFound, "funnel not found")
		return
	}
	respondJSON(w, http.StatusOK, s.app.Funnels.Metrics(r.Context(), id))
}

func (s *Server) handleJourneys(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "funnelID")
	if _, ok := s.app.Funnels.Funnel(id); !ok {
		respondError(w, http.StatusNotFound, "funnel not found")
		return
	}
	respondJSON(w, http.StatusOK, s.app.Funnels.Journeys(r.Context(), id))
}

func (s *Server) handleResetFunnel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "funnelID")
	if _, ok := s.app.Funnels.Funnel(id); !ok {
		respondError(w, http.StatusNotFound, "funnel not found")
		return
	}
	s.app.Funnels.Reset(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetOffers(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Offers.Reset(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// handleNotify plans a notification for the session's subject from its
// current offer and recommendations, and sends it when permitted.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if s.app.Planner == nil {
		respondError(w, http.StatusServiceUnavailable, "push notifications are not configured")
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	recs := sess.Recs.Current()
	if len(recs) == 0 {
		recs = sess.Refresh()
	}
	var presented *offer.Offer
	if o, shown := sess.Offers.Current(); shown {
		presented = &o
	}
	out, err := s.app.Planner.Notify(r.Context(), sess.SubjectID, recs, presented)
	switch {
	case errors.Is(err, notify.ErrNoSubscription):
		respondJSON(w, http.StatusConflict, out)
	case err != nil:
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		respondJSON(w, http.StatusOK, out)
	}
}
