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
)

const sampleAgentJSON = `{
  "mcpServers": {
    "side-channel": {
      "command": "npx",
      "args": ["side-tool", "--local"]
    },
    "ax-gcp": {
      "command": "npx",
      "args": ["ax-mcp", "https://mcp.example.com/agents/alice", "--oauth-server", "https://auth.example.com"],
      "env": {"AX_TOKEN_DIR": "/tmp/tokens"}
    }
  }
}`

func writeAgentConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateAgentID(t *testing.T) {
	assert.NoError(t, ValidateAgentID("alice"))
	assert.NoError(t, ValidateAgentID("agent_2-prod"))
	assert.Error(t, ValidateAgentID(""))
	assert.Error(t, ValidateAgentID("../escape"))
	assert.Error(t, ValidateAgentID("has space"))
	assert.Error(t, ValidateAgentID("semi;colon"))
}

func TestLoadAgentConfigExtractsIDFromURL(t *testing.T) {
	path := writeAgentConfig(t, t.TempDir(), "whatever.json", sampleAgentJSON)

	cfg, err := LoadAgentConfig(path)
	require.NoError(t, err)

	// The id comes from the transport URL, not the file name.
	assert.Equal(t, "alice", cfg.AgentID)
}

func TestLoadAgentConfigPreservesDeclarationOrder(t *testing.T) {
	path := writeAgentConfig(t, t.TempDir(), "alice.json", sampleAgentJSON)

	cfg, err := LoadAgentConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.Transports, 2)
	assert.Equal(t, "side-channel", cfg.Transports[0].Name)
	assert.Equal(t, "ax-gcp", cfg.Transports[1].Name)
}

func TestPrimaryPrefersConventionalName(t *testing.T) {
	path := writeAgentConfig(t, t.TempDir(), "alice.json", sampleAgentJSON)
	cfg, err := LoadAgentConfig(path)
	require.NoError(t, err)

	primary, err := cfg.Primary()
	require.NoError(t, err)
	// ax-gcp wins even though it is declared second.
	assert.Equal(t, "ax-gcp", primary.Name)
}

func TestPrimaryFallsBackToFirstDeclared(t *testing.T) {
	content := `{
  "mcpServers": {
    "custom": {"command": "run", "args": ["https://hub.example.com/agents/bob"]},
    "other": {"command": "run2", "args": []}
  }
}`
	path := writeAgentConfig(t, t.TempDir(), "bob.json", content)
	cfg, err := LoadAgentConfig(path)
	require.NoError(t, err)

	primary, err := cfg.Primary()
	require.NoError(t, err)
	assert.Equal(t, "custom", primary.Name)
}

func TestTransportSpecURLSkipsOAuthServer(t *testing.T) {
	spec := TransportSpec{
		Command: "npx",
		Args:    []string{"tool", "--oauth-server", "https://auth.example.com", "https://mcp.example.com/agents/carol"},
	}
	assert.Equal(t, "https://mcp.example.com/agents/carol", spec.URL())
	assert.True(t, spec.Remote())

	local := TransportSpec{Command: "local-tool", Args: []string{"--stdio"}}
	assert.Empty(t, local.URL())
	assert.False(t, local.Remote())
}

func TestLoadAgentConfigRejectsMissingTransports(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadAgentConfig(writeAgentConfig(t, dir, "a.json", `{}`))
	assert.Error(t, err)

	_, err = LoadAgentConfig(writeAgentConfig(t, dir, "b.json", `{"mcpServers": {}}`))
	assert.Error(t, err)

	_, err = LoadAgentConfig(writeAgentConfig(t, dir, "c.json", `{"mcpServers": {"x": {"args": []}}}`))
	assert.Error(t, err, "transport without command")
}

func TestFindAgentConfigMatchesByURLNotFilename(t *testing.T) {
	dir := t.TempDir()
	// The descriptor for alice lives under a misleading file name.
	writeAgentConfig(t, dir, "renamed-team-bot.json", sampleAgentJSON)

	cfg, err := FindAgentConfig(dir, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.AgentID)

	_, err = FindAgentConfig(dir, "nobody")
	assert.Error(t, err)
}
