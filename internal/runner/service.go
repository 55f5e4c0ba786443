package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jamesturk/bobsled/internal/environment"
	"github.com/jamesturk/bobsled/internal/storage"
)

// EnvironmentResolver supplies variable bundles for injection and masks
// secret values out of captured text.
type EnvironmentResolver interface {
	GetEnvironment(name string) (*environment.Environment, error)
	MaskVariables(text string) string
}

// keyedMutex hands out one mutex per key so state transitions for the
// same run (or launches for the same task name) are serialized while
// unrelated runs proceed concurrently. Entries are reference counted
// and dropped once the last holder releases, so the map does not grow
// with every run id the process has ever seen.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Service is the run lifecycle engine. It is the only component that
// talks to the execution backend; storage is the only durable record.
type Service struct {
	backend   Backend
	store     storage.Storage
	env       EnvironmentResolver
	callbacks []Callback
	scheduler Scheduler
	log       *slog.Logger

	taskLocks keyedMutex
	runLocks  keyedMutex

	tracer       trace.Tracer
	runsStarted  metric.Int64Counter
	runsFinished metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithCallbacks sets the hooks invoked on terminal transitions.
func WithCallbacks(cbs ...Callback) Option {
	return func(s *Service) { s.callbacks = cbs }
}

// WithScheduler sets the external scheduler hook for RegisterCrons.
func WithScheduler(sched Scheduler) Option {
	return func(s *Service) { s.scheduler = sched }
}

// NewService creates a run lifecycle engine over the given backend.
func NewService(backend Backend, store storage.Storage, env EnvironmentResolver, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		backend:   backend,
		store:     store,
		env:       env,
		scheduler: NoopScheduler{},
		log:       log,
		tracer:    otel.Tracer("bobsled/runner"),
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := otel.Meter("bobsled/runner")
	var err error
	if s.runsStarted, err = meter.Int64Counter("bobsled.runs.started",
		metric.WithDescription("Runs launched"), metric.WithUnit("{run}")); err != nil {
		log.Warn("failed to create runs.started counter", "error", err)
	}
	if s.runsFinished, err = meter.Int64Counter("bobsled.runs.finished",
		metric.WithDescription("Runs reaching a terminal status"), metric.WithUnit("{run}")); err != nil {
		log.Warn("failed to create runs.finished counter", "error", err)
	}
	return s
}

// RunTask implements RunService.RunTask. The mutual-exclusion check and
// the launch are serialized per task name, so two in-process callers
// cannot both pass the check; cross-process atomicity is out of scope.
func (s *Service) RunTask(ctx context.Context, task *storage.Task) (*storage.Run, error) {
	unlock := s.taskLocks.lock(task.Name)
	defer unlock()

	ctx, span := s.tracer.Start(ctx, "run_task", trace.WithAttributes(
		attribute.String("task.name", task.Name),
		attribute.String("task.image", task.Image),
	))
	defer span.End()

	active, err := s.store.GetRuns(ctx, storage.RunFilter{
		Statuses: storage.ActiveStatuses,
		TaskName: task.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check active runs for %s: %w", task.Name, err)
	}
	if len(active) > 0 {
		return nil, fmt.Errorf("task %s: %w", task.Name, ErrAlreadyRunning)
	}

	env, err := s.resolveEnvironment(task)
	if err != nil {
		return nil, err
	}

	info, err := s.backend.Launch(ctx, task, env)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to launch task %s: %w", task.Name, err)
	}

	now := time.Now().UTC()
	if task.TimeoutMinutes > 0 {
		timeoutAt := now.Add(task.Timeout())
		info.TimeoutAt = &timeoutAt
	}

	run := &storage.Run{
		UUID:    uuid.NewString(),
		Task:    task.Name,
		Status:  storage.StatusRunning,
		Start:   now,
		RunInfo: info,
	}
	if err := s.store.AddRun(ctx, run); err != nil {
		// The container is already up; tear it down rather than leak it.
		if rerr := s.backend.Remove(ctx, info, true); rerr != nil {
			s.log.Warn("failed to remove resource after storage error",
				"task", task.Name, "error", rerr)
		}
		return nil, fmt.Errorf("failed to persist run for %s: %w", task.Name, err)
	}

	if s.runsStarted != nil {
		s.runsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("task", task.Name)))
	}
	s.log.Info("run started", "task", task.Name, "run_id", run.UUID)
	return run, nil
}

func (s *Service) resolveEnvironment(task *storage.Task) (map[string]string, error) {
	if task.Environment == "" {
		return nil, nil
	}
	env, err := s.env.GetEnvironment(task.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve environment for %s: %w", task.Name, err)
	}
	return env.Values, nil
}

// UpdateStatus implements RunService.UpdateStatus. Transitions for one
// run id are serialized; callbacks therefore fire at most once per
// terminal transition.
func (s *Service) UpdateStatus(ctx context.Context, runID string, updateLogs bool) (*storage.Run, error) {
	unlock := s.runLocks.lock(runID)
	defer unlock()

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if run == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if run.Status.Terminal() {
		return run, nil
	}

	insp, err := s.backend.Inspect(ctx, run.RunInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect resource for run %s: %w", runID, err)
	}

	switch insp.State {
	case StateGone:
		// Removed out-of-band. Terminal so operators investigate; no
		// automatic retry.
		s.log.Warn("resource missing for run", "run_id", run.UUID, "task", run.Task)
		return run, s.finish(ctx, run, storage.StatusMissing)

	case StateExited:
		logs, err := s.backend.Logs(ctx, run.RunInfo)
		if err != nil {
			s.log.Warn("failed to fetch logs for exited run", "run_id", run.UUID, "error", err)
		} else {
			run.Logs = s.env.MaskVariables(logs)
		}
		run.ExitCode = &insp.ExitCode

		status := storage.StatusSuccess
		if insp.ExitCode != 0 || insp.ExitError != "" {
			status = storage.StatusError
		}
		if err := s.finish(ctx, run, status); err != nil {
			return nil, err
		}
		if err := s.backend.Remove(ctx, run.RunInfo, false); err != nil {
			s.log.Warn("failed to remove exited resource", "run_id", run.UUID, "error", err)
		}
		s.invokeCallbacks(ctx, run)
		return run, nil

	default: // StateActive
		if run.RunInfo.TimeoutAt != nil && time.Now().UTC().After(*run.RunInfo.TimeoutAt) {
			if logs, err := s.backend.Logs(ctx, run.RunInfo); err == nil {
				run.Logs = s.env.MaskVariables(logs)
			}
			if err := s.backend.Remove(ctx, run.RunInfo, true); err != nil {
				s.log.Warn("failed to remove timed out resource", "run_id", run.UUID, "error", err)
			}
			if err := s.finish(ctx, run, storage.StatusTimedOut); err != nil {
				return nil, err
			}
			s.invokeCallbacks(ctx, run)
			return run, nil
		}
		if updateLogs {
			logs, err := s.backend.Logs(ctx, run.RunInfo)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch logs for run %s: %w", runID, err)
			}
			run.Logs = s.env.MaskVariables(logs)
			if err := s.store.SaveRun(ctx, run); err != nil {
				return nil, fmt.Errorf("failed to save logs for run %s: %w", runID, err)
			}
		}
		return run, nil
	}
}

// finish moves a run to a terminal status, stamps end, and persists.
func (s *Service) finish(ctx context.Context, run *storage.Run, status storage.Status) error {
	now := time.Now().UTC()
	run.Status = status
	run.End = &now
	if err := s.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.UUID, err)
	}

	if s.runsFinished != nil {
		s.runsFinished.Add(ctx, 1, metric.WithAttributes(
			attribute.String("task", run.Task),
			attribute.String("status", string(status)),
		))
	}
	logArgs := []any{"run_id", run.UUID, "task", run.Task, "status", status}
	if run.ExitCode != nil {
		logArgs = append(logArgs, "exit_code", *run.ExitCode)
	}
	s.log.Info("run finished", logArgs...)
	return nil
}

func (s *Service) invokeCallbacks(ctx context.Context, run *storage.Run) {
	for _, cb := range s.callbacks {
		var err error
		switch run.Status {
		case storage.StatusSuccess:
			err = cb.OnSuccess(ctx, run, s.store)
		case storage.StatusError, storage.StatusTimedOut:
			err = cb.OnError(ctx, run, s.store)
		}
		if err != nil {
			s.log.Warn("callback failed", "run_id", run.UUID, "error", err)
		}
	}
}

// StopRun implements RunService.StopRun.
func (s *Service) StopRun(ctx context.Context, runID string) error {
	unlock := s.runLocks.lock(runID)
	defer unlock()

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	if run.Status != storage.StatusRunning {
		return nil
	}

	insp, err := s.backend.Inspect(ctx, run.RunInfo)
	if err != nil {
		return fmt.Errorf("failed to inspect resource for run %s: %w", runID, err)
	}
	if insp.State == StateGone {
		s.log.Warn("resource already gone while stopping run", "run_id", run.UUID, "task", run.Task)
	} else if err := s.backend.Remove(ctx, run.RunInfo, true); err != nil {
		s.log.Warn("failed to remove resource while stopping run", "run_id", run.UUID, "error", err)
	}

	return s.finish(ctx, run, storage.StatusUserKilled)
}

// GetRuns implements RunService.GetRuns. The refresh loop is sequential
// and not atomic as a batch; a status observed mid-loop may be stale
// relative to later entries in the same call.
func (s *Service) GetRuns(ctx context.Context, filter storage.RunFilter, updateStatus bool) ([]*storage.Run, error) {
	runs, err := s.store.GetRuns(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	if !updateStatus {
		return runs, nil
	}

	refreshed := make([]*storage.Run, 0, len(runs))
	for _, r := range runs {
		updated, err := s.UpdateStatus(ctx, r.UUID, false)
		if err != nil {
			return nil, err
		}
		refreshed = append(refreshed, updated)
	}
	return refreshed, nil
}

// GetLogs implements RunService.GetLogs. This is a live fetch, distinct
// from the persisted Logs field, which is a point-in-time snapshot.
func (s *Service) GetLogs(ctx context.Context, run *storage.Run) (string, error) {
	logs, err := s.backend.Logs(ctx, run.RunInfo)
	if err != nil {
		return "", fmt.Errorf("failed to fetch logs for run %s: %w", run.UUID, err)
	}
	return s.env.MaskVariables(logs), nil
}

// Cleanup implements RunService.Cleanup.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	runs, err := s.store.GetRuns(ctx, storage.RunFilter{Statuses: storage.ActiveStatuses})
	if err != nil {
		return 0, fmt.Errorf("failed to query active runs: %w", err)
	}

	removed := 0
	for _, run := range runs {
		insp, err := s.backend.Inspect(ctx, run.RunInfo)
		if err != nil {
			s.log.Warn("failed to inspect resource during cleanup", "run_id", run.UUID, "error", err)
			continue
		}
		if insp.State == StateGone {
			continue
		}
		if err := s.backend.Remove(ctx, run.RunInfo, true); err != nil {
			s.log.Warn("failed to remove resource during cleanup", "run_id", run.UUID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("cleaned up orphaned resources", "count", removed)
	}
	return removed, nil
}

// RegisterCrons implements RunService.RegisterCrons.
func (s *Service) RegisterCrons(ctx context.Context, tasks []*storage.Task) error {
	var withTriggers []*storage.Task
	for _, t := range tasks {
		if len(t.Triggers) > 0 {
			withTriggers = append(withTriggers, t)
		}
	}
	if len(withTriggers) == 0 {
		return nil
	}
	if err := s.scheduler.Register(ctx, withTriggers); err != nil {
		return fmt.Errorf("failed to register crons: %w", err)
	}
	s.log.Info("registered cron triggers", "tasks", len(withTriggers))
	return nil
}

var _ RunService = (*Service)(nil)
