package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jamesturk/bobsled/internal/auth"
)

// Memory is an in-memory Storage implementation. It is the reference
// implementation for tests and single-process deployments; nothing
// survives a restart.
type Memory struct {
	mu    sync.RWMutex
	runs  map[string]*Run
	tasks map[string]*Task
	users map[string]*User
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		runs:  make(map[string]*Run),
		tasks: make(map[string]*Task),
		users: make(map[string]*User),
	}
}

func (m *Memory) AddRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.UUID]; ok {
		return fmt.Errorf("run %s already exists", run.UUID)
	}
	m.runs[run.UUID] = run.Clone()
	return nil
}

func (m *Memory) SaveRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.UUID]; !ok {
		return fmt.Errorf("run %s does not exist", run.UUID)
	}
	m.runs[run.UUID] = run.Clone()
	return nil
}

func (m *Memory) GetRun(ctx context.Context, uuid string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[uuid]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (m *Memory) GetRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var runs []*Run
	for _, r := range m.runs {
		if filter.Matches(r) {
			runs = append(runs, r.Clone())
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Start.After(runs[j].Start)
	})
	if filter.Latest > 0 && len(runs) > filter.Latest {
		runs = runs[:filter.Latest]
	}
	return runs, nil
}

func (m *Memory) GetTasks(ctx context.Context) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		cp := *t
		tasks = append(tasks, &cp)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks, nil
}

func (m *Memory) GetTask(ctx context.Context, name string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[name]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) SetTasks(ctx context.Context, tasks []*Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		cp := *t
		next[t.Name] = &cp
	}
	m.tasks = next
	return nil
}

func (m *Memory) SetUser(ctx context.Context, username, password string, permissions []string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[username] = &User{
		Username:     username,
		PasswordHash: hash,
		Permissions:  append([]string(nil), permissions...),
	}
	return nil
}

func (m *Memory) CheckPassword(ctx context.Context, username, password string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return false, nil
	}
	return auth.VerifyPassword(u.PasswordHash, password), nil
}

func (m *Memory) GetUser(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUsers(ctx context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		users = append(users, &cp)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}
