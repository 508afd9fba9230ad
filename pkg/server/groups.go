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
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	if s.groups == nil {
		writeJSON(w, http.StatusOK, map[string]any{"groups": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": s.groups.List()})
}

func (s *Server) handleReloadGroups(w http.ResponseWriter, r *http.Request) {
	if s.groups == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("deployment groups not configured"))
		return
	}
	if err := s.groups.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"groups": len(s.groups.List())})
}

func (s *Server) handleStartGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.groups == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("deployment groups not configured"))
		return
	}
	group, ok := s.groups.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("group %q not found", id))
		return
	}
	results := s.sup.StartGroup(r.Context(), group)
	writeJSON(w, http.StatusOK, map[string]any{"group": id, "results": results})
}

func (s *Server) handleStopGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	results := s.sup.StopGroup(id)
	writeJSON(w, http.StatusOK, map[string]any{"group": id, "results": results})
}
