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
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ax-platform/relay/pkg/logtail"
	"github.com/ax-platform/relay/pkg/supervisor"
)

type startMonitorRequest struct {
	AgentID        string `json:"agent_id"`
	Handler        string `json:"handler,omitempty"`
	Model          string `json:"model,omitempty"`
	ProcessBacklog bool   `json:"process_backlog,omitempty"`
}

func (s *Server) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"monitors": s.sup.List()})
}

func (s *Server) handleStartMonitor(w http.ResponseWriter, r *http.Request) {
	var req startMonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse request: %w", err))
		return
	}

	rec, err := s.sup.Start(r.Context(), supervisor.StartSpec{
		AgentID:        req.AgentID,
		Handler:        req.Handler,
		Model:          req.Model,
		ProcessBacklog: req.ProcessBacklog,
	})
	switch {
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
	default:
		writeJSON(w, http.StatusCreated, rec)
	}
}

func (s *Server) handleStopMonitor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sup.Stop(id); err != nil {
		writeError(w, monitorErrStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "id": id})
}

func (s *Server) handleRestartMonitor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	processBacklog := r.URL.Query().Get("process_backlog") == "true"

	rec, err := s.sup.Restart(r.Context(), id, processBacklog)
	if err != nil {
		writeError(w, monitorErrStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleKillMonitor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sup.Kill(id); err != nil {
		writeError(w, monitorErrStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "killed", "id": id})
}

func (s *Server) handleDeleteMonitor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sup.Delete(id); err != nil {
		writeError(w, monitorErrStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMonitorLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.sup.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, supervisor.ErrNotFound)
		return
	}

	content, err := logtail.New(rec.LogFile, rec.ID, s.logger).Dump()
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("read log: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "log": content})
}

// handleMonitorLogStream streams appended log lines as NDJSON until the
// client disconnects.
func (s *Server) handleMonitorLogStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.sup.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, supervisor.ErrNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	lines := make(chan logtail.Line, 64)
	tailer := logtail.New(rec.LogFile, rec.ID, s.logger)
	go func() {
		if err := tailer.Follow(r.Context(), lines); err != nil {
			s.logger.Warn("log stream ended", zap.String("monitor_id", id), zap.Error(err))
		}
	}()

	enc := json.NewEncoder(w)
	for line := range lines {
		if err := enc.Encode(map[string]string{"monitor_id": line.MonitorID, "line": line.Text}); err != nil {
			return
		}
		flusher.Flush()
	}
}

func monitorErrStatus(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrStillRunning):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
