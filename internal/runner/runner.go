// Package runner contains the run lifecycle engine: the RunService
// contract, the Run state machine, and the execution backends that
// actually launch containers.
package runner

import (
	"context"
	"errors"

	"github.com/jamesturk/bobsled/internal/storage"
)

// ErrAlreadyRunning is returned by RunTask when a non-terminal run for
// the same task name already exists. Callers must not retry without
// operator intervention.
var ErrAlreadyRunning = errors.New("task already has an active run")

// RunService drives task executions through their lifecycle. Both
// backends satisfy identical external semantics; callers never depend
// on which one is active.
type RunService interface {
	// RunTask launches a new run of the task, or fails with
	// ErrAlreadyRunning if a non-terminal run for the task exists.
	RunTask(ctx context.Context, task *storage.Task) (*storage.Run, error)

	// UpdateStatus refreshes a run against the live backend resource.
	// Terminal runs are returned unchanged. With updateLogs set, a log
	// snapshot is persisted even when the status does not change.
	UpdateStatus(ctx context.Context, runID string, updateLogs bool) (*storage.Run, error)

	// StopRun force-removes the backend resource of a Running run and
	// marks it UserKilled. It is a no-op for runs in any other status.
	StopRun(ctx context.Context, runID string) error

	// GetRuns returns runs matching the filter, optionally refreshing
	// each one via UpdateStatus first (sequential, not atomic).
	GetRuns(ctx context.Context, filter storage.RunFilter, updateStatus bool) ([]*storage.Run, error)

	// GetLogs fetches current logs from the live backend resource,
	// best-effort: an already-removed resource yields an empty string.
	GetLogs(ctx context.Context, run *storage.Run) (string, error)

	// Cleanup force-removes backend resources still live for
	// non-terminal runs and returns how many were removed. Run
	// statuses are corrected on their next UpdateStatus, not here.
	Cleanup(ctx context.Context) (int, error)

	// RegisterCrons hands the tasks' trigger metadata to the external
	// scheduler hook. No cron evaluation happens in the engine.
	RegisterCrons(ctx context.Context, tasks []*storage.Task) error
}

// ResourceState classifies what a backend reports about a live resource.
type ResourceState int

const (
	// StateGone means the resource cannot be located; it was removed
	// out-of-band.
	StateGone ResourceState = iota
	// StateActive means the resource is still executing.
	StateActive
	// StateExited means the resource finished and holds an exit result.
	StateExited
)

// Inspection is a backend's snapshot of one resource.
type Inspection struct {
	State ResourceState
	// ExitCode is valid only when State is StateExited.
	ExitCode int
	// ExitError carries an execution-level error message, if the
	// backend reported one alongside the exit.
	ExitError string
}

// Backend is the capability set shared by the local and remote
// execution substrates. RunInfo returned by Launch is the opaque handle
// all other calls are keyed by.
type Backend interface {
	// Kind identifies which RunInfo variant this backend produces.
	Kind() storage.BackendKind

	// Launch starts a container for the task with the resolved
	// environment variables and returns its handle.
	Launch(ctx context.Context, task *storage.Task, env map[string]string) (storage.RunInfo, error)

	// Inspect reports the current state of the resource.
	Inspect(ctx context.Context, info storage.RunInfo) (Inspection, error)

	// Logs fetches the full log text of the resource. A resource that
	// no longer exists yields empty text, not an error.
	Logs(ctx context.Context, info storage.RunInfo) (string, error)

	// Remove releases the resource. With force set it tears down a
	// still-running resource; removal of an already-gone resource is
	// not an error.
	Remove(ctx context.Context, info storage.RunInfo, force bool) error
}

// Callback is notified synchronously after a terminal persist, once per
// transition. Success triggers OnSuccess; Error and TimedOut trigger
// OnError.
type Callback interface {
	OnSuccess(ctx context.Context, run *storage.Run, store storage.Storage) error
	OnError(ctx context.Context, run *storage.Run, store storage.Storage) error
}

// Scheduler receives trigger metadata from RegisterCrons. The engine
// never evaluates cron expressions itself.
type Scheduler interface {
	Register(ctx context.Context, tasks []*storage.Task) error
}

// NoopScheduler discards trigger registrations.
type NoopScheduler struct{}

func (NoopScheduler) Register(ctx context.Context, tasks []*storage.Task) error { return nil }
