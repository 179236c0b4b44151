// Package lifecycle owns the set of background pipeline-executor goroutines:
// launching new runs, cancelling aborted ones, and re-dispatching whatever
// was still active when the process last exited.
package lifecycle

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	"github.com/DavidSchwarz2/agentpipe/internal/store"
)

// Runner is the subset of runner.Runner the Manager drives. Declared as an
// interface here so Manager can be tested without a real Runner/store/
// AgentClient stack.
type Runner interface {
	Run(ctx context.Context, pipelineID int64) error
	Resume(ctx context.Context, pipelineID int64) error
	Restart(ctx context.Context, pipelineID int64) error
	Abort(ctx context.Context, pipelineID int64) error
}

// Manager maintains a pipeline_id -> task mapping for every in-flight
// pipeline executor goroutine. The PipelineRunner itself holds no
// process-wide state; this is the one place that does.
type Manager struct {
	db     *sql.DB
	runner Runner

	mu      sync.Mutex
	tasks   map[int64]taskEntry
	nextGen uint64
	wg      sync.WaitGroup
}

// New returns a Manager wired against runner and a store handle used only by
// Recover to list pipelines still marked active.
func New(db *sql.DB, runner Runner) *Manager {
	return &Manager{db: db, runner: runner, tasks: make(map[int64]taskEntry)}
}

// Launch starts pipelineID fresh via Runner.Run on its own goroutine and
// registers it so Abort can cancel it later. A done-callback removes the
// registration once the goroutine exits.
func (m *Manager) Launch(pipelineID int64) {
	m.dispatch(pipelineID, m.runner.Run)
}

// Resume re-enters pipelineID via Runner.Resume on its own goroutine — used
// by Recover. The approve/reject API paths do not call it: they wake the
// suspended executor through the approval Coordinator instead.
func (m *Manager) Resume(pipelineID int64) {
	m.dispatch(pipelineID, m.runner.Resume)
}

// Restart re-enters pipelineID via Runner.Restart on its own goroutine —
// Runner.Restart performs the failed->running status flip and the
// failed/running step reset before resuming, so the API's restart path must
// go through this rather than Resume directly.
func (m *Manager) Restart(pipelineID int64) {
	m.dispatch(pipelineID, m.runner.Restart)
}

// taskEntry pairs a task's CancelFunc with the generation it was registered
// under, so deregister can tell "my registration" apart from a newer one
// that relaunched the same pipeline id after I was cancelled but before my
// goroutine unwound.
type taskEntry struct {
	cancel context.CancelFunc
	gen    uint64
}

func (m *Manager) dispatch(pipelineID int64, entry func(context.Context, int64) error) {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if existing, ok := m.tasks[pipelineID]; ok {
		// A task is already registered for this pipeline (at-most-one
		// concurrent executor invariant) — cancel the stale registration
		// rather than run two executors against the same rows.
		existing.cancel()
	}
	m.nextGen++
	gen := m.nextGen
	m.tasks[pipelineID] = taskEntry{cancel: cancel, gen: gen}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.deregister(pipelineID, gen)
		if err := entry(ctx, pipelineID); err != nil {
			slog.Warn("lifecycle: pipeline executor exited with error", "pipeline_id", pipelineID, "error", err.Error())
		}
	}()
}

// deregister removes the tracked task for pipelineID only if it is still the
// same registration this goroutine installed. A relaunch that raced ahead of
// this goroutine's exit (dispatch above cancels the stale entry then
// overwrites the map with a fresh generation) must survive: without the
// generation check, this delete could remove the new, still-running task's
// entry instead of its own, leaving a live goroutine untracked.
func (m *Manager) deregister(pipelineID int64, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.tasks[pipelineID]; ok && current.gen == gen {
		delete(m.tasks, pipelineID)
	}
}

// Abort cancels the background task for pipelineID (if any is tracked) and
// asks the Runner to perform its own abort bookkeeping (session interrupt,
// step/pipeline failure transition). Idempotent: aborting an untracked or
// already-terminal pipeline is a no-op from the Manager's point of view.
func (m *Manager) Abort(ctx context.Context, pipelineID int64) error {
	m.mu.Lock()
	entry, ok := m.tasks[pipelineID]
	m.mu.Unlock()
	if ok {
		entry.cancel()
	}
	return m.runner.Abort(ctx, pipelineID)
}

// Recover queries the store for every pipeline left `running` or
// `waiting_for_approval` by a prior process, and re-dispatches each one via
// Resume. Called once at process startup.
func (m *Manager) Recover() error {
	pipelines, err := store.ListActivePipelines(m.db)
	if err != nil {
		return err
	}
	for _, p := range pipelines {
		slog.Info("lifecycle: recovering interrupted pipeline", "pipeline_id", p.ID, "status", string(p.Status))
		m.Resume(p.ID)
	}
	return nil
}

// Shutdown cancels every tracked task and waits for all executor goroutines
// to exit. The Runner's own cancellation handling leaves pipeline rows in a
// resumable state, so a subsequent Recover can re-dispatch them.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.tasks))
	for _, e := range m.tasks {
		cancels = append(cancels, e.cancel)
	}
	m.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	m.wg.Wait()
}

// TrackedCount returns the number of currently-registered pipeline tasks;
// exposed for tests and diagnostics.
func (m *Manager) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}
