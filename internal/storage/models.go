// Package storage contains the persistence layer for bobsled.
package storage

import "time"

// Status represents the lifecycle state of a Run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
	StatusTimedOut   Status = "timed-out"
	StatusUserKilled Status = "user-killed"
	StatusMissing    Status = "missing"
)

// Terminal reports whether a Run in this status will never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusTimedOut, StatusUserKilled, StatusMissing:
		return true
	}
	return false
}

// ActiveStatuses are the statuses a live Run can hold. At most one Run
// per task name may be in one of these at any instant.
var ActiveStatuses = []Status{StatusPending, StatusRunning}

// Trigger is a cron-style schedule attached to a task. It is metadata
// consumed by an external scheduler, never evaluated by the engine.
type Trigger struct {
	Cron string `json:"cron" yaml:"cron"`
}

// Task is an immutable execution template. Name is the unique key;
// re-registering a name replaces the definition.
type Task struct {
	Name           string    `json:"name" yaml:"name"`
	Image          string    `json:"image" yaml:"image"`
	Entrypoint     []string  `json:"entrypoint,omitempty" yaml:"entrypoint,omitempty"`
	Environment    string    `json:"environment,omitempty" yaml:"environment,omitempty"`
	Memory         int       `json:"memory,omitempty" yaml:"memory,omitempty"` // MiB
	CPU            int       `json:"cpu,omitempty" yaml:"cpu,omitempty"`       // units, 1024 = one vCPU
	Enabled        bool      `json:"enabled" yaml:"enabled"`
	TimeoutMinutes float64   `json:"timeout_minutes,omitempty" yaml:"timeout_minutes,omitempty"`
	Tags           []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	Triggers       []Trigger `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	NextTasks      []string  `json:"next_tasks,omitempty" yaml:"next_tasks,omitempty"`
}

// Timeout converts the task's timeout into a duration. Zero means no timeout.
func (t *Task) Timeout() time.Duration {
	return time.Duration(t.TimeoutMinutes * float64(time.Minute))
}

// BackendKind discriminates the RunInfo tagged union.
type BackendKind string

const (
	BackendDocker     BackendKind = "docker"
	BackendKubernetes BackendKind = "kubernetes"
)

// DockerInfo addresses a container on the local daemon.
type DockerInfo struct {
	ContainerID string `json:"container_id"`
}

// KubernetesInfo addresses a batch Job inside a cluster namespace.
// PodName is the log stream identifier; it is resolved lazily after the
// Job's pod is scheduled and cached here once known.
type KubernetesInfo struct {
	Namespace string `json:"namespace"`
	JobName   string `json:"job_name"`
	PodName   string `json:"pod_name,omitempty"`
}

// RunInfo is the backend-specific handle for a Run's live resource.
// Exactly one of the backend sub-structs is set, keyed by Kind.
type RunInfo struct {
	Kind       BackendKind     `json:"kind"`
	TimeoutAt  *time.Time      `json:"timeout_at,omitempty"`
	Docker     *DockerInfo     `json:"docker,omitempty"`
	Kubernetes *KubernetesInfo `json:"kubernetes,omitempty"`
}

// Run records one execution of a Task.
type Run struct {
	UUID     string     `json:"uuid"`
	Task     string     `json:"task"` // task name, weak reference
	Status   Status     `json:"status"`
	Start    time.Time  `json:"start"`
	End      *time.Time `json:"end,omitempty"`
	RunInfo  RunInfo    `json:"run_info"`
	Logs     string     `json:"logs,omitempty"`
	ExitCode *int       `json:"exit_code,omitempty"`
}

// Clone returns a copy of the run that shares no pointers with the
// original.
func (r *Run) Clone() *Run {
	cp := *r
	if r.End != nil {
		end := *r.End
		cp.End = &end
	}
	if r.ExitCode != nil {
		code := *r.ExitCode
		cp.ExitCode = &code
	}
	if r.RunInfo.TimeoutAt != nil {
		at := *r.RunInfo.TimeoutAt
		cp.RunInfo.TimeoutAt = &at
	}
	if r.RunInfo.Docker != nil {
		d := *r.RunInfo.Docker
		cp.RunInfo.Docker = &d
	}
	if r.RunInfo.Kubernetes != nil {
		k := *r.RunInfo.Kubernetes
		cp.RunInfo.Kubernetes = &k
	}
	return &cp
}

// User is an operator account for the HTTP API.
type User struct {
	Username     string   `json:"username"`
	PasswordHash string   `json:"-"`
	Permissions  []string `json:"permissions"`
}
