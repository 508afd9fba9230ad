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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ax-platform/relay/pkg/config"
	"github.com/ax-platform/relay/pkg/killswitch"
	"github.com/ax-platform/relay/pkg/store"
	"github.com/ax-platform/relay/pkg/supervisor"
)

type testServer struct {
	srv   *Server
	store *store.Store
	sw    *killswitch.Switch
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	st, err := store.Open(filepath.Join(dir, "relay.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sw := killswitch.New(filepath.Join(dir, "KILL_SWITCH"))

	groupsPath := filepath.Join(dir, "groups.yaml")
	require.NoError(t, os.WriteFile(groupsPath, []byte("groups:\n  - id: demo\n    agents:\n      - id: alice\n"), 0o644))
	groups, err := config.NewGroupLoader(groupsPath, logger)
	require.NoError(t, err)

	sup, err := supervisor.New(supervisor.Config{
		BinPath:       "/bin/true",
		LogDir:        filepath.Join(dir, "logs"),
		OwnershipPath: filepath.Join(dir, "monitors.json"),
		Store:         st,
		KillSwitch:    sw,
		Logger:        logger,
	})
	require.NoError(t, err)

	srv := New(Config{
		Addr:       "127.0.0.1:0",
		Supervisor: sup,
		Store:      st,
		KillSwitch: sw,
		Groups:     groups,
		Logger:     logger,
	})
	return &testServer{srv: srv, store: st, sw: sw}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	ts.srv.Routes().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestListMonitorsEmpty(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/monitors/", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStartMonitorRejectsBadAgentID(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/monitors/", `{"agent_id":"../etc/passwd"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStopUnknownMonitorIs404(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/monitors/nope/stop", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestKillSwitchLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/killswitch/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["active"])

	rec = ts.do(t, http.MethodPost, "/api/v1/killswitch/activate", `{"reason":"drill"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.sw.Active())

	rec = ts.do(t, http.MethodPost, "/api/v1/killswitch/deactivate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ts.sw.Active())
}

func TestQueueStatsAndClear(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	ts.store.Put(ctx, "m1", "alice", "bob", "@alice hi")
	ts.store.Put(ctx, "m2", "alice", "bob", "@alice again")

	rec := ts.do(t, http.MethodGet, "/api/v1/queue/alice/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 2, body["pending"])
	assert.Equal(t, false, body["paused"])

	rec = ts.do(t, http.MethodPost, "/api/v1/queue/alice/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["cleared"])
}

func TestQueueStatsRejectsBadAgent(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/queue/bad..agent/stats", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueuePauseAndResume(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	rec := ts.do(t, http.MethodPost, "/api/v1/queue/alice/pause", `{"reason":"maintenance"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	status, err := ts.store.GetStatus(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, status.Paused())
	assert.Equal(t, "maintenance", status.Reason)

	rec = ts.do(t, http.MethodPost, "/api/v1/queue/alice/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)

	status, err = ts.store.GetStatus(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, status.Paused())
}

func TestKillAllRequiresConfirmation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/kill-all", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ctx := context.Background()
	ts.store.Put(ctx, "m1", "alice", "bob", "@alice pending")

	rec = ts.do(t, http.MethodPost, "/api/v1/kill-all", `{"confirm":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["backlog_cleared"])
	assert.True(t, ts.sw.Active())
}

func TestGroupEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/groups/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/groups/absent/start", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/groups/reload", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
