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
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const sampleGroupsYAML = `groups:
  - id: standup
    name: Standup crew
    defaults:
      handler: llm
      model: claude-sonnet-4-5
      start_delay_ms: 500
    agents:
      - id: alice
      - id: bob
        handler: echo
        process_backlog: true
  - id: solo
    agents:
      - id: carol
`

func TestGroupLoaderParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleGroupsYAML), 0o644))

	loader, err := NewGroupLoader(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	groups := loader.List()
	require.Len(t, groups, 2)
	assert.Equal(t, "solo", groups[1].ID)

	standup, ok := loader.Get("standup")
	require.True(t, ok)
	assert.Equal(t, "llm", standup.Defaults.Handler)
	assert.Equal(t, 500, standup.Defaults.StartDelayMS)
	require.Len(t, standup.Agents, 2)
	assert.Equal(t, "echo", standup.Agents[1].Handler)
	require.NotNil(t, standup.Agents[1].ProcessBacklog)
	assert.True(t, *standup.Agents[1].ProcessBacklog)
}

func TestGroupLoaderMissingFileStartsEmpty(t *testing.T) {
	loader, err := NewGroupLoader(filepath.Join(t.TempDir(), "absent.yaml"), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Empty(t, loader.List())
}

func TestGroupLoaderReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.yaml")
	require.NoError(t, os.WriteFile(path, []byte("groups:\n  - id: first\n    agents: []\n"), 0o644))

	loader, err := NewGroupLoader(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, loader.List(), 1)

	require.NoError(t, os.WriteFile(path, []byte(sampleGroupsYAML), 0o644))
	require.NoError(t, loader.Reload())
	assert.Len(t, loader.List(), 2)
}

func TestGroupLoaderRejectsGroupWithoutID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.yaml")
	require.NoError(t, os.WriteFile(path, []byte("groups:\n  - name: nameless\n    agents: []\n"), 0o644))

	_, err := NewGroupLoader(path, zaptest.NewLogger(t))
	assert.Error(t, err)
}
