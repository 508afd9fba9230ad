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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// PrimaryTransportName is the conventional label of the messaging transport.
// A transport with this name is always selected as primary; otherwise the
// first declared transport wins.
const PrimaryTransportName = "ax-gcp"

var agentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateAgentID reports whether id is a legal agent identifier. Path
// separators and empty ids are rejected to keep ids safe for file names and
// process arguments.
func ValidateAgentID(id string) error {
	if id == "" {
		return fmt.Errorf("agent id is empty")
	}
	if !agentIDPattern.MatchString(id) {
		return fmt.Errorf("invalid agent id %q: only [A-Za-z0-9_-] allowed", id)
	}
	return nil
}

// TransportSpec describes how to launch one transport session: the launcher
// command, its arguments and an environment overlay.
type TransportSpec struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
}

// URL returns the first http(s) URL in the spec's arguments that is not the
// value of an --oauth-server flag, or "" when the spec has none.
func (s TransportSpec) URL() string {
	for i, arg := range s.Args {
		if !strings.HasPrefix(arg, "http://") && !strings.HasPrefix(arg, "https://") {
			continue
		}
		if i > 0 && s.Args[i-1] == "--oauth-server" {
			continue
		}
		return arg
	}
	return ""
}

// Remote reports whether the spec points at a networked endpoint. Remote
// sessions get a heartbeat; local in-process transports do not.
func (s TransportSpec) Remote() bool {
	return s.URL() != ""
}

// NamedTransport is one entry of an agent's ordered transport list.
type NamedTransport struct {
	Name string
	Spec TransportSpec
}

// AgentConfig is a resolved agent descriptor. The descriptor file name is not
// authoritative: AgentID is always extracted from the transport URL of the
// form .../agents/<agent_id>.
type AgentConfig struct {
	AgentID    string
	Transports []NamedTransport
	// Permissions and HandlerParams are opaque pass-through for handlers.
	Permissions   json.RawMessage
	HandlerParams json.RawMessage

	// Path the descriptor was loaded from, for diagnostics.
	Path string
}

// Primary returns the primary transport (the messaging channel): the entry
// named PrimaryTransportName if present, else the first declared entry.
func (c *AgentConfig) Primary() (NamedTransport, error) {
	if len(c.Transports) == 0 {
		return NamedTransport{}, fmt.Errorf("agent %s: no transports declared", c.AgentID)
	}
	for _, t := range c.Transports {
		if t.Name == PrimaryTransportName {
			return t, nil
		}
	}
	return c.Transports[0], nil
}

// LoadAgentConfig parses an agent descriptor file. Declaration order of the
// transports object is preserved, which is why the object is decoded with a
// token stream instead of a map.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent config: %w", err)
	}

	var raw struct {
		Permissions   json.RawMessage `json:"permissions"`
		HandlerParams json.RawMessage `json:"handlerParams"`
		MCPServers    json.RawMessage `json:"mcpServers"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse agent config %s: %w", path, err)
	}
	if len(raw.MCPServers) == 0 {
		return nil, fmt.Errorf("agent config %s: missing mcpServers", path)
	}

	transports, err := decodeOrderedTransports(raw.MCPServers)
	if err != nil {
		return nil, fmt.Errorf("agent config %s: %w", path, err)
	}
	if len(transports) == 0 {
		return nil, fmt.Errorf("agent config %s: mcpServers is empty", path)
	}

	cfg := &AgentConfig{
		Transports:    transports,
		Permissions:   raw.Permissions,
		HandlerParams: raw.HandlerParams,
		Path:          path,
	}

	agentID, err := extractAgentID(transports)
	if err != nil {
		return nil, fmt.Errorf("agent config %s: %w", path, err)
	}
	cfg.AgentID = agentID

	return cfg, nil
}

// FindAgentConfig locates and loads the descriptor for agentID under dir.
// It scans every *.json descriptor and matches on the authoritative
// URL-derived agent id, falling back to <dir>/<agentID>.json.
func FindAgentConfig(dir, agentID string) (*AgentConfig, error) {
	if err := ValidateAgentID(agentID); err != nil {
		return nil, err
	}

	direct := filepath.Join(dir, agentID+".json")
	if cfg, err := LoadAgentConfig(direct); err == nil && cfg.AgentID == agentID {
		return cfg, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read agent config dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		cfg, err := LoadAgentConfig(filepath.Join(dir, entry.Name()))
		if err != nil {
			// Malformed descriptors are skipped, never silently renamed.
			continue
		}
		if cfg.AgentID == agentID {
			return cfg, nil
		}
	}
	return nil, fmt.Errorf("no agent config found for %q in %s", agentID, dir)
}

func decodeOrderedTransports(raw json.RawMessage) ([]NamedTransport, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("mcpServers must be an object")
	}

	var transports []NamedTransport
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token in mcpServers")
		}

		var spec TransportSpec
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("transport %q: %w", name, err)
		}
		if spec.Command == "" {
			return nil, fmt.Errorf("transport %q: missing command", name)
		}
		transports = append(transports, NamedTransport{Name: name, Spec: spec})
	}

	return transports, nil
}

// extractAgentID pulls the agent id out of the first transport URL of the
// form .../agents/<agent_id>.
func extractAgentID(transports []NamedTransport) (string, error) {
	for _, t := range transports {
		url := t.Spec.URL()
		if url == "" {
			continue
		}
		idx := strings.LastIndex(url, "/agents/")
		if idx < 0 {
			continue
		}
		id := url[idx+len("/agents/"):]
		if slash := strings.IndexByte(id, '/'); slash >= 0 {
			id = id[:slash]
		}
		id = strings.TrimSpace(id)
		if err := ValidateAgentID(id); err != nil {
			return "", fmt.Errorf("agent id in transport %q URL: %w", t.Name, err)
		}
		return id, nil
	}
	return "", fmt.Errorf("no transport URL of the form .../agents/<agent_id>")
}
