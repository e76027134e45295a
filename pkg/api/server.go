// Package api serves the user actions over HTTP: schedule updates, optimize
// and save, forced refresh, mode changes and status.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nergy-se/curvecontrol/pkg/alarm"
	"github.com/nergy-se/curvecontrol/pkg/api/v1/types"
	"github.com/nergy-se/curvecontrol/pkg/coordinator"
	"github.com/nergy-se/curvecontrol/pkg/metrics"
	"github.com/nergy-se/curvecontrol/pkg/version"
	"github.com/sirupsen/logrus"
)

type Coordinator interface {
	UpdateSchedule(ctx context.Context, patch coordinator.Patch, persist bool) error
	OptimizeAndSave(ctx context.Context, immediate bool) error
	ForceOptimization(ctx context.Context) error
	SetMode(ctx context.Context, mode types.Mode) error
	Status() coordinator.Status
}

// ActionLogger records user actions for the daily summary.
type ActionLogger interface {
	LogUserInput(service string, data interface{})
}

type Server struct {
	router  *chi.Mux
	coord   Coordinator
	actions ActionLogger
	alarms  *alarm.ActiveAlarms
	secret  []byte
}

// New returns a Server. An empty secret disables token checks.
func New(coord Coordinator, actions ActionLogger, alarms *alarm.ActiveAlarms, secret string) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		coord:   coord,
		actions: actions,
		alarms:  alarms,
	}
	if secret != "" {
		s.secret = []byte(secret)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.secret != nil {
			r.Use(requireToken(s.secret))
		}
		r.Post("/schedule", s.updateSchedule)
		r.Post("/optimize", s.optimizeAndSave)
		r.Post("/refresh", s.refresh)
		r.Put("/mode", s.setMode)
		r.Get("/status", s.status)
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on address until ctx is done.
func (s *Server) Start(ctx context.Context, wg *sync.WaitGroup, address string) {
	srv := &http.Server{
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		logrus.WithField("address", address).Info("http api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("http api: %s", err)
		}
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("http api shutdown: %s", err)
		}
	}()
}

func (s *Server) logAction(service string, data interface{}) {
	if s.actions != nil {
		s.actions.LogUserInput(service, data)
	}
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	patch := coordinator.Patch{}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	persist, err := boolParam(r, "persist", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.logAction("update_schedule", patch)
	if err := s.coord.UpdateSchedule(detach(r), patch, persist); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	s.status(w, r)
}

func (s *Server) optimizeAndSave(w http.ResponseWriter, r *http.Request) {
	immediate, err := boolParam(r, "immediate", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.logAction("optimize_and_save", map[string]bool{"immediate": immediate})
	if err := s.coord.OptimizeAndSave(detach(r), immediate); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	s.status(w, r)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	s.logAction("force_optimization", nil)
	if err := s.coord.ForceOptimization(detach(r)); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	s.status(w, r)
}

type modeRequest struct {
	Mode types.Mode `json:"mode"`
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	req := &modeRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.logAction("set_mode", req)
	if err := s.coord.SetMode(detach(r), req.Mode); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	s.status(w, r)
}

type statusResponse struct {
	coordinator.Status
	Alarms  []string     `json:"alarms"`
	Version version.Info `json:"version"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &statusResponse{
		Status:  s.coord.Status(),
		Alarms:  s.alarms.List(),
		Version: version.Current,
	})
}

// detach keeps request values but not its cancellation. A client giving up
// must not abort optimizer or store calls, those are bounded by their own
// timeouts.
func detach(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func boolParam(r *http.Request, name string, def bool) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.ParseBool(v)
}

func writeCoordinatorError(w http.ResponseWriter, err error) {
	if errors.Is(err, coordinator.ErrInvalidPatch) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeError(w, http.StatusBadGateway, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("error writing response: %s", err)
	}
}
