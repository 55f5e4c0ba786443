package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/jamesturk/bobsled/internal/storage"
)

func taskRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"name", "image", "entrypoint", "environment", "memory", "cpu",
		"enabled", "timeout_minutes", "tags", "triggers", "next_tasks",
	})
}

func TestGetTask(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM tasks WHERE name = \$1`).
		WithArgs("full-example").
		WillReturnRows(taskRows().AddRow(
			"full-example", "example/full", []byte(`["python","sync.py"]`), "prod",
			512, 1024, true, 90.0, []byte(`["nightly"]`),
			[]byte(`[{"cron":"0 4 * * *"}]`), []byte(`["report"]`),
		))

	task, err := store.GetTask(context.Background(), "full-example")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.Name != "full-example" || task.Image != "example/full" {
		t.Errorf("got %+v", task)
	}
	if len(task.Entrypoint) != 2 || task.Entrypoint[1] != "sync.py" {
		t.Errorf("got entrypoint %v", task.Entrypoint)
	}
	if task.Memory != 512 || task.CPU != 1024 || task.TimeoutMinutes != 90 {
		t.Errorf("got resources %d/%d timeout %v", task.Memory, task.CPU, task.TimeoutMinutes)
	}
	if len(task.Triggers) != 1 || task.Triggers[0].Cron != "0 4 * * *" {
		t.Errorf("got triggers %v", task.Triggers)
	}
	if len(task.NextTasks) != 1 || task.NextTasks[0] != "report" {
		t.Errorf("got next_tasks %v", task.NextTasks)
	}
}

func TestGetTask_Absent(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM tasks WHERE name = \$1`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	task, err := store.GetTask(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task != nil {
		t.Errorf("got %+v, want nil for absent task", task)
	}
}

func TestGetTasks(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM tasks ORDER BY name`).
		WillReturnRows(taskRows().
			AddRow("a-task", "alpine", []byte(`[]`), "", 0, 0, true, 0.0, []byte(`[]`), []byte(`[]`), []byte(`[]`)).
			AddRow("b-task", "busybox", []byte(`[]`), "", 0, 0, false, 0.0, []byte(`[]`), []byte(`[]`), []byte(`[]`)))

	tasks, err := store.GetTasks(context.Background())
	if err != nil {
		t.Fatalf("GetTasks failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].Name != "a-task" || tasks[1].Name != "b-task" {
		t.Errorf("got %s, %s", tasks[0].Name, tasks[1].Name)
	}
	if !tasks[0].Enabled || tasks[1].Enabled {
		t.Error("enabled flags mixed up")
	}
}

func TestSetTasks(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	tasks := []*storage.Task{
		{Name: "keep-me", Image: "alpine", Enabled: true},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM tasks WHERE NOT \(name = ANY\(\$1\)\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO tasks`).
		WithArgs("keep-me", "alpine", []byte(`[]`), "", 0, 0, true, 0.0,
			[]byte(`[]`), []byte(`[]`), []byte(`[]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.SetTasks(context.Background(), tasks); err != nil {
		t.Fatalf("SetTasks failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSetTasks_RollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM tasks`).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := store.SetTasks(context.Background(), []*storage.Task{
		{Name: "x", Image: "alpine", Enabled: true},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
