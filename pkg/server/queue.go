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
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ax-platform/relay/pkg/config"
)

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	if err := config.ValidateAgentID(agent); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	stats, err := s.store.GetStats(r.Context(), agent)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status, err := s.store.GetStatus(r.Context(), agent)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agent":                  agent,
		"total":                  stats.Total,
		"pending":                stats.Pending,
		"completed":              stats.Completed,
		"dead":                   stats.Dead,
		"avg_processing_time_ms": stats.AvgProcessingTime.Milliseconds(),
		"paused":                 status.Paused(),
		"pause_reason":           status.Reason,
	})
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	dead, err := s.store.DeadLetters(r.Context(), agent)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	type deadLetter struct {
		ID         string    `json:"id"`
		Sender     string    `json:"sender"`
		Content    string    `json:"content"`
		EnqueuedAt time.Time `json:"enqueued_at"`
		RetryCount int       `json:"retry_count"`
	}
	out := make([]deadLetter, 0, len(dead))
	for _, m := range dead {
		out = append(out, deadLetter{
			ID:         m.ID,
			Sender:     m.Sender,
			Content:    m.Content,
			EnqueuedAt: m.EnqueuedAt,
			RetryCount: m.RetryCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": agent, "dead_letters": out})
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")

	var n int
	var err error
	if r.URL.Query().Get("all") == "true" {
		n, err = s.store.ClearAgent(r.Context(), agent)
	} else {
		n, err = s.store.ClearPending(r.Context(), agent)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": agent, "cleared": n})
}

func (s *Server) handleQueuePause(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")

	var req struct {
		Reason        string `json:"reason,omitempty"`
		ResumeAfterMS int    `json:"resume_after_ms,omitempty"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "Paused via control plane"
	}
	var resumeAt time.Time
	if req.ResumeAfterMS > 0 {
		resumeAt = time.Now().Add(time.Duration(req.ResumeAfterMS) * time.Millisecond)
	}

	if err := s.store.Pause(r.Context(), agent, req.Reason, resumeAt); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": agent, "paused": true})
}

func (s *Server) handleQueueResume(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	if err := s.store.Resume(r.Context(), agent); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": agent, "paused": false})
}

func (s *Server) handleKillSwitchStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"active": s.killSwitch.Active()})
}

func (s *Server) handleKillSwitchActivate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "activated via control plane"
	}
	if err := s.killSwitch.Activate(req.Reason); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": true})
}

func (s *Server) handleKillSwitchDeactivate(w http.ResponseWriter, r *http.Request) {
	if err := s.killSwitch.Deactivate(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": false})
}

// handleKillAll is the emergency stop. Destructive enough to demand explicit
// confirmation in the request.
func (s *Server) handleKillAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if !req.Confirm {
		writeError(w, http.StatusBadRequest, fmt.Errorf("kill-all requires confirm=true"))
		return
	}

	killed, cleared, err := s.sup.KillAllAndClear(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"killed": killed, "backlog_cleared": cleared})
}
