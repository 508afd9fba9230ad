// Copyright 2026 AX Platform
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package server exposes the supervisor over a local HTTP control plane.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ax-platform/relay/pkg/config"
	"github.com/ax-platform/relay/pkg/killswitch"
	"github.com/ax-platform/relay/pkg/store"
	"github.com/ax-platform/relay/pkg/supervisor"
)

// Server is the control-plane HTTP server. It is a thin JSON layer over the
// supervisor and store; all state lives below it.
type Server struct {
	sup        *supervisor.Supervisor
	store      *store.Store
	killSwitch *killswitch.Switch
	groups     *config.GroupLoader
	logger     *zap.Logger
	http       *http.Server
}

// Config configures a Server.
type Config struct {
	Addr       string
	Supervisor *supervisor.Supervisor
	Store      *store.Store
	KillSwitch *killswitch.Switch
	Groups     *config.GroupLoader
	Logger     *zap.Logger
}

// New creates the server. Call ListenAndServe to start it.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Server{
		sup:        cfg.Supervisor,
		store:      cfg.Store,
		killSwitch: cfg.KillSwitch,
		groups:     cfg.Groups,
		logger:     cfg.Logger,
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed separately so tests can drive the
// handlers without a listener.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/monitors", func(r chi.Router) {
			r.Get("/", s.handleListMonitors)
			r.Post("/", s.handleStartMonitor)
			r.Post("/{id}/stop", s.handleStopMonitor)
			r.Post("/{id}/restart", s.handleRestartMonitor)
			r.Post("/{id}/kill", s.handleKillMonitor)
			r.Delete("/{id}", s.handleDeleteMonitor)
			r.Get("/{id}/logs", s.handleMonitorLogs)
			r.Get("/{id}/logs/stream", s.handleMonitorLogStream)
		})

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", s.handleListGroups)
			r.Post("/reload", s.handleReloadGroups)
			r.Post("/{id}/start", s.handleStartGroup)
			r.Post("/{id}/stop", s.handleStopGroup)
		})

		r.Route("/killswitch", func(r chi.Router) {
			r.Get("/", s.handleKillSwitchStatus)
			r.Post("/activate", s.handleKillSwitchActivate)
			r.Post("/deactivate", s.handleKillSwitchDeactivate)
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/{agent}/stats", s.handleQueueStats)
			r.Get("/{agent}/dead", s.handleDeadLetters)
			r.Post("/{agent}/clear", s.handleQueueClear)
			r.Post("/{agent}/pause", s.handleQueuePause)
			r.Post("/{agent}/resume", s.handleQueueResume)
		})

		r.Post("/kill-all", s.handleKillAll)
	})

	return r
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control plane listening", zap.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "supervisor_id": s.sup.ID()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
