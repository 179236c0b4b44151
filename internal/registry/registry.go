package registry

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/DavidSchwarz2/agentpipe/internal/models"
	"github.com/fsnotify/fsnotify"
)

// localAgentsDir is the well-known directory, relative to a pipeline's
// working_dir, searched for per-project agent overrides.
const localAgentsDir = ".agentpipe/agents"

// Registry owns the current immutable Snapshot and reloads it on change.
// The zero value is not usable; construct with New.
type Registry struct {
	agentsPath    string
	templatesPath string

	current atomic.Pointer[Snapshot]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New loads the initial snapshot from the two configuration documents. A
// failure here is fatal to process startup.
func New(agentsPath, templatesPath string) (*Registry, error) {
	snap, err := loadSnapshot(agentsPath, templatesPath)
	if err != nil {
		return nil, err
	}
	r := &Registry{agentsPath: agentsPath, templatesPath: templatesPath}
	r.current.Store(snap)
	return r, nil
}

// Current returns the current immutable snapshot. Callers should hold the
// returned value for the duration of one logical operation rather than
// calling Current repeatedly, so a reload mid-operation cannot produce an
// inconsistent view.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Reload parses a fresh snapshot and atomically swaps it in on success. On
// validation failure, the prior snapshot is kept and the error is returned
// for the caller to log as a warning — it is never fatal after initial load.
func (r *Registry) Reload() error {
	snap, err := loadSnapshot(r.agentsPath, r.templatesPath)
	if err != nil {
		return err
	}
	r.current.Store(snap)
	return nil
}

// Watch starts an fsnotify watcher on both configuration paths and calls
// Reload on every write/create/rename event, logging a warning (and keeping
// the prior snapshot) on validation failure. It returns once the watcher is
// established; call Stop to tear it down.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, p := range []string{r.agentsPath, r.templatesPath} {
		if err := w.Add(filepath.Dir(p)); err != nil {
			_ = w.Close()
			return err
		}
	}
	r.watcher = w
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !relevantEvent(ev, r.agentsPath, r.templatesPath) {
					continue
				}
				if err := r.Reload(); err != nil {
					slog.Warn("registry reload failed, keeping prior snapshot", "error", err.Error())
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("registry watcher error", "error", err.Error())
			}
		}
	}()
	return nil
}

func relevantEvent(ev fsnotify.Event, agentsPath, templatesPath string) bool {
	if ev.Name != agentsPath && ev.Name != templatesPath {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// Stop closes the underlying watcher and waits for the event loop to exit.
func (r *Registry) Stop() error {
	if r.watcher == nil {
		return nil
	}
	err := r.watcher.Close()
	<-r.done
	return err
}

// EffectiveFor returns a derived Snapshot where agents found under
// "<workingDir>/.agentpipe/agents/*.yaml" override globals by name (and new
// names are added); templates are inherited unchanged. The derived view does
// NOT re-validate referential integrity across the merged set: a global
// template may reference an agent absent from the local overrides, since the
// global agent of that name remains available in the merged map.
func (r *Registry) EffectiveFor(workingDir string) *Snapshot {
	base := r.Current()
	if workingDir == "" {
		return base
	}

	local := loadLocalAgents(filepath.Join(workingDir, localAgentsDir))
	if len(local) == 0 {
		return base
	}

	merged := make(map[string]models.AgentProfile, len(base.agents)+len(local))
	for name, a := range base.agents {
		merged[name] = a
	}
	for name, a := range local {
		merged[name] = a
	}
	return &Snapshot{agents: merged, templates: base.templates}
}
