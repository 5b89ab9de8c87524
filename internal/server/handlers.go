package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/headline-goat/growthgoat/internal/behavior"
	"github.com/headline-goat/growthgoat/internal/experiment"
	"github.com/headline-goat/growthgoat/internal/notify"
	"github.com/headline-goat/growthgoat/internal/offer"
	"github.com/headline-goat/growthgoat/internal/session"
)

const maxBodyBytes = 64 << 10

type HealthResponse struct {
	Status        string `json:"status"`
	Store         string `json:"store"`
	Experiments   int    `json:"experiments"`
	Offers        int    `json:"offers"`
	Funnels       int    `json:"funnels"`
	Sessions      int    `json:"sessions"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Error         string `json:"error,omitempty"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Store:         s.app.Config.Store,
		Experiments:   len(s.app.Catalog.Experiments),
		Offers:        len(s.app.Catalog.Offers),
		Funnels:       len(s.app.Catalog.Funnels),
		Sessions:      s.app.Sessions.Len(),
		UptimeSeconds: int64(time.Since(s.app.StartTime).Seconds()),
	}

	if p, ok := s.app.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// Sessions

type openSessionRequest struct {
	SessionID string `json:"sessionId"`
	SubjectID string `json:"subjectId"`
}

type offerView struct {
	offer.Offer
	Discount        int    `json:"discount"`
	TimeLeftSeconds int64  `json:"timeLeftSeconds"`
	Clock           string `json:"clock"`
}

type sessionResponse struct {
	SessionID string     `json:"sessionId"`
	SubjectID string     `json:"subjectId"`
	Device    string     `json:"device"`
	Offer     *offerView `json:"offer"`
}

type signalResponse struct {
	Offer *offerView `json:"offer"`
}

func viewOf(sess *session.Session, o offer.Offer, ok bool) *offerView {
	if !ok {
		return nil
	}
	// whole seconds, rounded up so a fresh 10m offer reads 10:00
	secs := int64((sess.Offers.TimeLeft() + time.Second - 1) / time.Second)
	return &offerView{
		Offer:           o,
		Discount:        o.Discount(),
		TimeLeftSeconds: secs,
		Clock:           offer.FormatClock(time.Duration(secs) * time.Second),
	}
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	sess, err := s.app.Sessions.Open(r.Context(), session.Options{
		SessionID: req.SessionID,
		SubjectID: req.SubjectID,
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
		IP:        clientAddr(r),
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, ok := sess.Offers.Current()
	respondJSON(w, http.StatusCreated, sessionResponse{
		SessionID: sess.ID,
		SubjectID: sess.SubjectID,
		Device:    string(sess.Tracker.Snapshot().DeviceType),
		Offer:     viewOf(sess, o, ok),
	})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.app.Sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return sess, true
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	err := s.app.Sessions.End(r.Context(), chi.URLParam(r, "sessionID"))
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.logger.Warn("failed to save ended session", zap.Error(err))
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

type pageViewRequest struct {
	Path string `json:"path"`
}

func (s *Server) handlePageView(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req pageViewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Path == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	o, shown := sess.PageView(r.Context(), req.Path)
	respondJSON(w, http.StatusOK, signalResponse{Offer: viewOf(sess, o, shown)})
}

type scrollRequest struct {
	Path    string  `json:"path"`
	Percent float64 `json:"percent"`
}

func (s *Server) handleScroll(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req scrollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Percent < 0 || req.Percent > 100 {
		respondError(w, http.StatusBadRequest, "percent must be between 0 and 100")
		return
	}
	o, shown := sess.Scroll(r.Context(), req.Path, req.Percent)
	respondJSON(w, http.StatusOK, signalResponse{Offer: viewOf(sess, o, shown)})
}

type pointerLeaveRequest struct {
	ClientY   float64 `json:"clientY"`
	ToElement bool    `json:"toElement"`
}

func (s *Server) handlePointerLeave(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req pointerLeaveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, shown := sess.PointerLeave(r.Context(), req.ClientY, req.ToElement)
	respondJSON(w, http.StatusOK, signalResponse{Offer: viewOf(sess, o, shown)})
}

type tickRequest struct {
	Seconds int `json:"seconds"`
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req tickRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Seconds < 0 {
		respondError(w, http.StatusBadRequest, "seconds must not be negative")
		return
	}
	o, shown := sess.Tick(r.Context(), req.Seconds)
	respondJSON(w, http.StatusOK, signalResponse{Offer: viewOf(sess, o, shown)})
}

type interactionRequest struct {
	Type    string `json:"type"`
	Element string `json:"element"`
	Value   string `json:"value"`
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req interactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := behavior.ParseInteractionKind(req.Type)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess.Interaction(kind, req.Element, req.Value)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCurrentOffer(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	o, shown := sess.Offers.Current()
	respondJSON(w, http.StatusOK, signalResponse{Offer: viewOf(sess, o, shown)})
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	o, accepted := sess.Offers.Accept(r.Context())
	if !accepted {
		respondError(w, http.StatusNotFound, "no offer on screen")
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (s *Server) handleCloseOffer(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Offers.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sess.Refresh())
}

// Experiments

type variantResponse struct {
	ExperimentID string             `json:"experimentId"`
	SubjectID    string             `json:"subjectId"`
	Variant      experiment.Variant `json:"variant"`
}

func (s *Server) handleVariant(w http.ResponseWriter, r *http.Request) {
	experimentID := chi.URLParam(r, "experimentID")
	subjectID := r.URL.Query().Get("subject")
	if subjectID == "" {
		respondError(w, http.StatusBadRequest, "subject parameter required")
		return
	}
	v, ok := s.app.Assigner.GetVariant(r.Context(), experimentID, subjectID)
	if !ok {
		respondError(w, http.StatusNotFound, "experiment not running")
		return
	}
	respondJSON(w, http.StatusOK, variantResponse{ExperimentID: experimentID, SubjectID: subjectID, Variant: *v})
}

type trackRequest struct {
	SubjectID string   `json:"subjectId"`
	Goal      string   `json:"goal"`
	Value     *float64 `json:"value"`
}

func (s *Server) decodeTrack(w http.ResponseWriter, r *http.Request) (string, trackRequest, bool) {
	experimentID := chi.URLParam(r, "experimentID")
	if _, ok := s.app.Assigner.Experiment(experimentID); !ok {
		respondError(w, http.StatusNotFound, "experiment not found")
		return "", trackRequest{}, false
	}
	var req trackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return "", trackRequest{}, false
	}
	if req.SubjectID == "" {
		respondError(w, http.StatusBadRequest, "subjectId is required")
		return "", trackRequest{}, false
	}
	return experimentID, req, true
}

func (s *Server) handleExposure(w http.ResponseWriter, r *http.Request) {
	experimentID, req, ok := s.decodeTrack(w, r)
	if !ok {
		return
	}
	s.app.Assigner.TrackExposure(r.Context(), experimentID, req.SubjectID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExperimentConversion(w http.ResponseWriter, r *http.Request) {
	experimentID, req, ok := s.decodeTrack(w, r)
	if !ok {
		return
	}
	s.app.Assigner.TrackConversion(r.Context(), experimentID, req.SubjectID, req.Goal, req.Value)
	w.WriteHeader(http.StatusNoContent)
}

// Funnels

type funnelRequest struct {
	StepID    string            `json:"stepId"`
	UserID    string            `json:"userId"`
	SessionID string            `json:"sessionId"`
	Value     *float64          `json:"value"`
	Metadata  map[string]string `json:"metadata"`
}

func (s *Server) decodeFunnel(w http.ResponseWriter, r *http.Request) (string, funnelRequest, bool) {
	funnelID := chi.URLParam(r, "funnelID")
	if _, ok := s.app.Funnels.Funnel(funnelID); !ok {
		respondError(w, http.StatusNotFound, "funnel not found")
		return "", funnelRequest{}, false
	}
	var req funnelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return "", funnelRequest{}, false
	}
	if req.UserID == "" || req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "userId and sessionId are required")
		return "", funnelRequest{}, false
	}
	return funnelID, req, true
}

func (s *Server) handleFunnelStep(w http.ResponseWriter, r *http.Request) {
	funnelID, req, ok := s.decodeFunnel(w, r)
	if !ok {
		return
	}
	s.app.Funnels.TrackStep(r.Context(), funnelID, req.StepID, req.UserID, req.SessionID, req.Metadata)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFunnelConversion(w http.ResponseWriter, r *http.Request) {
	funnelID, req, ok := s.decodeFunnel(w, r)
	if !ok {
		return
	}
	s.app.Funnels.TrackConversion(r.Context(), funnelID, req.UserID, req.SessionID, req.Value, req.Metadata)
	w.WriteHeader(http.StatusNoContent)
}

// Push

func (s *Server) pushEnabled(w http.ResponseWriter) bool {
	if s.app.Push == nil {
		respondError(w, http.StatusServiceUnavailable, "push notifications are not configured")
		return false
	}
	return true
}

func (s *Server) handleVAPIDKey(w http.ResponseWriter, r *http.Request) {
	if !s.pushEnabled(w) {
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"publicKey": s.app.Push.VAPIDPublicKey()})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if !s.pushEnabled(w) {
		return
	}
	var sub notify.Subscription
	if err := decodeJSON(w, r, &sub); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.app.Push.Subscribe(r.Context(), chi.URLParam(r, "subjectID"), sub); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type permissionRequest struct {
	Permission string `json:"permission"`
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	if !s.pushEnabled(w) {
		return
	}
	var req permissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := notify.ParsePermission(req.Permission)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.app.Push.SetPermission(r.Context(), chi.URLParam(r, "subjectID"), p); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save permission")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Helpers

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty: %w", err)
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
