package storage

import "context"

// RunFilter narrows GetRuns results. Zero values mean "no constraint".
type RunFilter struct {
	// Statuses limits results to runs in any of the given statuses.
	Statuses []Status
	// TaskName limits results to runs of a single task.
	TaskName string
	// Latest truncates results to the N most recent runs.
	Latest int
}

// Matches reports whether a run passes the status and task name constraints.
func (f RunFilter) Matches(r *Run) bool {
	if f.TaskName != "" && r.Task != f.TaskName {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

// Storage is the durable record-keeper for runs, tasks and users.
// Implementations must order GetRuns by start time descending.
type Storage interface {
	// AddRun inserts a new run record.
	AddRun(ctx context.Context, run *Run) error

	// SaveRun overwrites the mutable fields of an existing run.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun returns the run with the given uuid, or nil if none exists.
	GetRun(ctx context.Context, uuid string) (*Run, error)

	// GetRuns returns runs matching the filter, newest first.
	GetRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// GetTasks returns all registered tasks.
	GetTasks(ctx context.Context) ([]*Task, error)

	// GetTask returns the task with the given name, or nil if none exists.
	GetTask(ctx context.Context, name string) (*Task, error)

	// SetTasks replaces the full task set: tasks in the new set are
	// upserted by name, tasks absent from it are removed.
	SetTasks(ctx context.Context, tasks []*Task) error

	// SetUser creates or replaces a user with the given password.
	SetUser(ctx context.Context, username, password string, permissions []string) error

	// CheckPassword reports whether the password matches the stored hash.
	// An unknown username is not an error; it reports false.
	CheckPassword(ctx context.Context, username, password string) (bool, error)

	// GetUser returns the user with the given username, or nil if none exists.
	GetUser(ctx context.Context, username string) (*User, error)

	// GetUsers returns all users.
	GetUsers(ctx context.Context) ([]*User, error)
}
