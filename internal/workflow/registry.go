// Package workflow implements C4, the Workflow Registry: YAML-defined tool
// sequences matched against a parsed command by a cascade of strategies,
// hot-reloaded from disk.
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"basegraph.app/pandora/internal/llmstage"
	"basegraph.app/pandora/internal/model"
)

// MatchThreshold is the minimum confidence for a match to be used (§4.4).
const MatchThreshold = 0.7

type Registry struct {
	mu        sync.RWMutex
	dir       string
	workflows map[string]model.Workflow
	runner    *llmstage.Runner
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
}

// LoadRegistry reads every *.yaml/*.yml under dir into the registry and
// starts an fsnotify watch so edits take effect without a restart. runner may
// be nil, in which case the semantic-classifier matching strategy is skipped.
func LoadRegistry(dir string, runner *llmstage.Runner) (*Registry, error) {
	r := &Registry{
		dir:       dir,
		workflows: make(map[string]model.Workflow),
		runner:    runner,
		stopCh:    make(chan struct{}),
	}

	if err := r.reloadAll(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating workflow file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching workflow directory %s: %w", dir, err)
	}
	r.watcher = watcher

	go r.watchLoop()

	return r, nil
}

func (r *Registry) Close() error {
	close(r.stopCh)
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

func (r *Registry) watchLoop() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !isYAML(event.Name) {
				continue
			}
			if err := r.reloadAll(); err != nil {
				continue
			}
		case _, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
		case <-r.stopCh:
			return
		}
	}
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func (r *Registry) reloadAll() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading workflow directory %s: %w", r.dir, err)
	}

	loaded := make(map[string]model.Workflow, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading workflow file %s: %w", path, err)
		}
		var wf model.Workflow
		if err := yaml.Unmarshal(raw, &wf); err != nil {
			return fmt.Errorf("parsing workflow file %s: %w", path, err)
		}
		if wf.Name == "" {
			return fmt.Errorf("workflow file %s missing name", path)
		}
		loaded[wf.Name] = wf
	}

	r.mu.Lock()
	r.workflows = loaded
	r.mu.Unlock()
	return nil
}

// All returns a snapshot of every currently loaded workflow.
func (r *Registry) All() []model.Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Workflow, 0, len(r.workflows))
	for _, wf := range r.workflows {
		out = append(out, wf)
	}
	return out
}

func (r *Registry) Get(name string) (model.Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[name]
	return wf, ok
}
