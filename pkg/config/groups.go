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
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// GroupAgent is one entry of a deployment group. Zero-valued fields fall back
// to the group defaults.
type GroupAgent struct {
	ID             string `yaml:"id"`
	Handler        string `yaml:"handler,omitempty"`
	Model          string `yaml:"model,omitempty"`
	StartDelayMS   int    `yaml:"start_delay_ms,omitempty"`
	ProcessBacklog *bool  `yaml:"process_backlog,omitempty"`
}

// GroupDefaults are applied to agents that do not override them.
type GroupDefaults struct {
	Handler        string `yaml:"handler,omitempty"`
	Model          string `yaml:"model,omitempty"`
	StartDelayMS   int    `yaml:"start_delay_ms,omitempty"`
	ProcessBacklog *bool  `yaml:"process_backlog,omitempty"`
}

// DeploymentGroup is a named set of agents started together.
type DeploymentGroup struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name,omitempty"`
	Description string        `yaml:"description,omitempty"`
	Defaults    GroupDefaults `yaml:"defaults,omitempty"`
	Agents      []GroupAgent  `yaml:"agents"`
}

// GroupLoader reads deployment groups from a YAML file and optionally hot
// reloads them when the file changes.
type GroupLoader struct {
	mu     sync.RWMutex
	path   string
	groups map[string]DeploymentGroup
	logger *zap.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewGroupLoader loads groups from path. A missing file is not an error: the
// loader starts empty and picks the file up on Reload or via the watcher.
func NewGroupLoader(path string, logger *zap.Logger) (*GroupLoader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &GroupLoader{
		path:   path,
		groups: make(map[string]DeploymentGroup),
		logger: logger,
	}
	if err := l.Reload(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return l, nil
}

// Reload re-reads the group file.
func (l *GroupLoader) Reload() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}

	var file struct {
		Groups []DeploymentGroup `yaml:"groups"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse deployment groups %s: %w", l.path, err)
	}

	groups := make(map[string]DeploymentGroup, len(file.Groups))
	for _, g := range file.Groups {
		if g.ID == "" {
			return fmt.Errorf("deployment group without id in %s", l.path)
		}
		groups[g.ID] = g
	}

	l.mu.Lock()
	l.groups = groups
	l.mu.Unlock()

	l.logger.Info("deployment groups loaded",
		zap.String("path", l.path),
		zap.Int("count", len(groups)))
	return nil
}

// Get returns a group by id.
func (l *GroupLoader) Get(id string) (DeploymentGroup, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	g, ok := l.groups[id]
	return g, ok
}

// List returns all groups sorted by id.
func (l *GroupLoader) List() []DeploymentGroup {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]DeploymentGroup, 0, len(l.groups))
	for _, g := range l.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Watch starts hot reloading the group file until Close is called.
func (l *GroupLoader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(l.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", l.path, err)
	}

	l.watcher = watcher
	l.done = make(chan struct{})

	go func() {
		for {
			select {
			case <-l.done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := l.Reload(); err != nil {
					l.logger.Warn("deployment group reload failed", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("deployment group watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close stops the watcher, if any.
func (l *GroupLoader) Close() error {
	if l.watcher == nil {
		return nil
	}
	close(l.done)
	return l.watcher.Close()
}
