// Package server exposes the growth components over HTTP. Page scripts post
// behaviour signals to the public API; admin routes are token protected.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/headline-goat/growthgoat/internal/app"
)

type Server struct {
	app       *app.App
	logger    *zap.Logger
	port      int
	token     string
	tokenFile string
	limiter   *clientLimiter
	router    chi.Router
	http      *http.Server
}

// New builds the server. An empty token generates one.
func New(a *app.App, port int, token, tokenFile string) *Server {
	if token == "" {
		token = generateToken()
	}
	srv := &Server{
		app:       a,
		logger:    a.Logger.Named("server"),
		port:      port,
		token:     token,
		tokenFile: tokenFile,
		limiter:   newClientLimiter(a.Config.RateLimit, a.Config.RateBurst),
	}
	srv.router = srv.routes()
	return srv
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/gg.js", s.handleClientJS)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.app.Metrics, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(cors)
		r.Use(s.rateLimit)

		r.Post("/sessions", s.handleOpenSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Delete("/", s.handleEndSession)
			r.Post("/pageview", s.handlePageView)
			r.Post("/scroll", s.handleScroll)
			r.Post("/pointer-leave", s.handlePointerLeave)
			r.Post("/tick", s.handleTick)
			r.Post("/interaction", s.handleInteraction)
			r.Get("/offer", s.handleCurrentOffer)
			r.Post("/offer/accept", s.handleAcceptOffer)
			r.Post("/offer/close", s.handleCloseOffer)
			r.Get("/recommendations", s.handleRecommendations)
		})

		r.Get("/experiments/{experimentID}/variant", s.handleVariant)
		r.Post("/experiments/{experimentID}/exposure", s.handleExposure)
		r.Post("/experiments/{experimentID}/conversion", s.handleExperimentConversion)

		r.Post("/funnels/{funnelID}/steps", s.handleFunnelStep)
		r.Post("/funnels/{funnelID}/conversion", s.handleFunnelConversion)

		r.Get("/push/key", s.handleVAPIDKey)
		r.Post("/push/{subjectID}/subscribe", s.handleSubscribe)
		r.Post("/push/{subjectID}/permission", s.handlePermission)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/experiments", s.handleListExperiments)
		r.Get("/experiments/{experimentID}/results", s.handleResults)
		r.Get("/experiments/{experimentID}/export", s.handleExport)
		r.Delete("/experiments/{experimentID}/results", s.handleResetResults)
		r.Get("/funnels/{funnelID}/metrics", s.handleFunnelMetrics)
		r.Get("/funnels/{funnelID}/journeys", s.handleJourneys)
		r.Delete("/funnels/{funnelID}", s.handleResetFunnel)
		r.Post("/sessions/{sessionID}/offers/reset", s.handleResetOffers)
		r.Post("/sessions/{sessionID}/notify", s.handleNotify)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.tokenFile != "" {
		if err := os.WriteFile(s.tokenFile, []byte(s.token), 0o600); err != nil {
			s.logger.Warn("failed to write token file", zap.String("path", s.tokenFile), zap.Error(err))
		}
		defer os.Remove(s.tokenFile)
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.Int("port", s.port))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func generateToken() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(bytes)
}
