package storage

import (
	"context"
	"testing"
	"time"
)

func newRun(task string, status Status, start time.Time) *Run {
	return &Run{
		UUID:   task + "-" + start.Format("150405.000"),
		Task:   task,
		Status: status,
		Start:  start,
		RunInfo: RunInfo{
			Kind:   BackendDocker,
			Docker: &DockerInfo{ContainerID: "c-" + task},
		},
	}
}

func TestMemory_RunRoundtrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	run := newRun("hello", StatusRunning, time.Now())
	if err := m.AddRun(ctx, run); err != nil {
		t.Fatalf("AddRun failed: %v", err)
	}
	if err := m.AddRun(ctx, run); err == nil {
		t.Error("expected error adding duplicate run")
	}

	got, err := m.GetRun(ctx, run.UUID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Task != "hello" || got.Status != StatusRunning {
		t.Errorf("got %+v", got)
	}

	// mutating the returned copy must not touch the stored record
	got.Status = StatusError
	again, _ := m.GetRun(ctx, run.UUID)
	if again.Status != StatusRunning {
		t.Error("stored run mutated through returned copy")
	}

	end := time.Now()
	code := 0
	run.Status = StatusSuccess
	run.End = &end
	run.ExitCode = &code
	run.Logs = "done"
	if err := m.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	got, _ = m.GetRun(ctx, run.UUID)
	if got.Status != StatusSuccess || got.End == nil || got.Logs != "done" {
		t.Errorf("got %+v after save", got)
	}
}

func TestMemory_GetRunAbsent(t *testing.T) {
	m := NewMemory()
	got, err := m.GetRun(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil for absent run", got)
	}
}

func TestMemory_SaveRunAbsent(t *testing.T) {
	m := NewMemory()
	run := newRun("ghost", StatusRunning, time.Now())
	if err := m.SaveRun(context.Background(), run); err == nil {
		t.Error("expected error saving run that was never added")
	}
}

func TestMemory_GetRunsFilters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := []*Run{
		newRun("alpha", StatusSuccess, base),
		newRun("alpha", StatusRunning, base.Add(2*time.Minute)),
		newRun("beta", StatusError, base.Add(1*time.Minute)),
		newRun("beta", StatusPending, base.Add(3*time.Minute)),
	}
	for _, r := range seed {
		if err := m.AddRun(ctx, r); err != nil {
			t.Fatalf("AddRun failed: %v", err)
		}
	}

	all, err := m.GetRuns(ctx, RunFilter{})
	if err != nil {
		t.Fatalf("GetRuns failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("got %d runs, want 4", len(all))
	}
	// newest first
	for i := 1; i < len(all); i++ {
		if all[i].Start.After(all[i-1].Start) {
			t.Errorf("runs out of order at %d: %v after %v", i, all[i].Start, all[i-1].Start)
		}
	}

	active, _ := m.GetRuns(ctx, RunFilter{Statuses: ActiveStatuses})
	if len(active) != 2 {
		t.Errorf("got %d active runs, want 2", len(active))
	}

	alpha, _ := m.GetRuns(ctx, RunFilter{TaskName: "alpha"})
	if len(alpha) != 2 {
		t.Errorf("got %d alpha runs, want 2", len(alpha))
	}

	latest, _ := m.GetRuns(ctx, RunFilter{Latest: 1})
	if len(latest) != 1 || latest[0].Task != "beta" {
		t.Errorf("got %+v, want single newest beta run", latest)
	}

	combined, _ := m.GetRuns(ctx, RunFilter{Statuses: []Status{StatusSuccess}, TaskName: "alpha"})
	if len(combined) != 1 || combined[0].Status != StatusSuccess {
		t.Errorf("got %+v", combined)
	}
}

func TestMemory_SetTasksFullSync(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first := []*Task{
		{Name: "b-task", Image: "alpine", Enabled: true},
		{Name: "a-task", Image: "alpine", Enabled: true},
	}
	if err := m.SetTasks(ctx, first); err != nil {
		t.Fatalf("SetTasks failed: %v", err)
	}

	tasks, err := m.GetTasks(ctx)
	if err != nil {
		t.Fatalf("GetTasks failed: %v", err)
	}
	if len(tasks) != 2 || tasks[0].Name != "a-task" || tasks[1].Name != "b-task" {
		t.Errorf("got %+v", tasks)
	}

	// a second sync replaces the full set
	if err := m.SetTasks(ctx, []*Task{{Name: "c-task", Image: "busybox", Enabled: true}}); err != nil {
		t.Fatalf("SetTasks failed: %v", err)
	}
	tasks, _ = m.GetTasks(ctx)
	if len(tasks) != 1 || tasks[0].Name != "c-task" {
		t.Errorf("got %+v after resync", tasks)
	}

	gone, err := m.GetTask(ctx, "a-task")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if gone != nil {
		t.Errorf("got %+v, want nil for removed task", gone)
	}
}

func TestMemory_Users(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.SetUser(ctx, "admin", "hunter2", []string{"admin"}); err != nil {
		t.Fatalf("SetUser failed: %v", err)
	}

	ok, err := m.CheckPassword(ctx, "admin", "hunter2")
	if err != nil || !ok {
		t.Errorf("CheckPassword = %v, %v; want true", ok, err)
	}
	ok, _ = m.CheckPassword(ctx, "admin", "wrong")
	if ok {
		t.Error("wrong password accepted")
	}
	ok, _ = m.CheckPassword(ctx, "nobody", "hunter2")
	if ok {
		t.Error("unknown user accepted")
	}

	u, err := m.GetUser(ctx, "admin")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if u.Username != "admin" || len(u.Permissions) != 1 {
		t.Errorf("got %+v", u)
	}

	// overwriting rotates the password
	if err := m.SetUser(ctx, "admin", "correcthorse", nil); err != nil {
		t.Fatalf("SetUser failed: %v", err)
	}
	if ok, _ := m.CheckPassword(ctx, "admin", "hunter2"); ok {
		t.Error("old password still accepted after rotation")
	}
	if ok, _ := m.CheckPassword(ctx, "admin", "correcthorse"); !ok {
		t.Error("new password rejected")
	}

	users, err := m.GetUsers(ctx)
	if err != nil {
		t.Fatalf("GetUsers failed: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("got %d users, want 1", len(users))
	}
}

func TestMemory_RunCopiesShareNoPointers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	end := time.Now()
	code := 1
	timeout := end.Add(time.Hour)
	run := &Run{
		UUID:   "r-1",
		Task:   "hello",
		Status: StatusRunning,
		Start:  time.Now(),
		End:    &end,
		RunInfo: RunInfo{
			Kind:      BackendKubernetes,
			TimeoutAt: &timeout,
			Kubernetes: &KubernetesInfo{
				Namespace: "default",
				JobName:   "bobsled-hello",
			},
		},
		ExitCode: &code,
	}
	if err := m.AddRun(ctx, run); err != nil {
		t.Fatalf("AddRun failed: %v", err)
	}

	// mutating pointer fields on the caller's run must not touch the store
	run.RunInfo.Kubernetes.PodName = "caller-pod"
	*run.ExitCode = 42
	*run.End = end.Add(time.Minute)

	got, err := m.GetRun(ctx, "r-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.RunInfo.Kubernetes.PodName != "" {
		t.Errorf("stored run picked up pod name %q through shared pointer", got.RunInfo.Kubernetes.PodName)
	}
	if *got.ExitCode != 1 {
		t.Errorf("stored exit code mutated, got %d", *got.ExitCode)
	}
	if !got.End.Equal(end) {
		t.Errorf("stored end time mutated, got %v", got.End)
	}

	// and the same for copies handed back by GetRun
	got.RunInfo.Kubernetes.PodName = "reader-pod"
	*got.RunInfo.TimeoutAt = timeout.Add(time.Hour)

	again, _ := m.GetRun(ctx, "r-1")
	if again.RunInfo.Kubernetes.PodName != "" {
		t.Errorf("stored run mutated through returned copy, pod name %q", again.RunInfo.Kubernetes.PodName)
	}
	if !again.RunInfo.TimeoutAt.Equal(timeout) {
		t.Errorf("stored timeout mutated, got %v", again.RunInfo.TimeoutAt)
	}
}
