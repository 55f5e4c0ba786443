// Package taskfile loads task definitions from YAML files. The file is
// the source of truth; syncing it into storage replaces the full task set.
package taskfile

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/jamesturk/bobsled/internal/storage"
)

// taskDef mirrors one entry in the task file. Enabled defaults to true
// when omitted, so it is a pointer here.
type taskDef struct {
	Image          string            `yaml:"image"`
	Entrypoint     []string          `yaml:"entrypoint"`
	Environment    string            `yaml:"environment"`
	Memory         int               `yaml:"memory"`
	CPU            int               `yaml:"cpu"`
	Enabled        *bool             `yaml:"enabled"`
	TimeoutMinutes float64           `yaml:"timeout_minutes"`
	Tags           []string          `yaml:"tags"`
	Triggers       []storage.Trigger `yaml:"triggers"`
	NextTasks      []string          `yaml:"next_tasks"`
}

// Load parses a YAML file mapping task names to definitions:
//
//	hello-world:
//	  image: hello-world
//	  timeout_minutes: 5
//	  triggers:
//	    - cron: "0 4 * * *"
//
// Tasks are returned sorted by name.
func Load(filename string) ([]*storage.Task, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	return Parse(data)
}

// Parse parses task definitions from raw YAML.
func Parse(data []byte) ([]*storage.Task, error) {
	var raw map[string]taskDef
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse task file: %w", err)
	}

	tasks := make([]*storage.Task, 0, len(raw))
	for name, def := range raw {
		if def.Image == "" {
			return nil, fmt.Errorf("task %s has no image", name)
		}
		enabled := true
		if def.Enabled != nil {
			enabled = *def.Enabled
		}
		tasks = append(tasks, &storage.Task{
			Name:           name,
			Image:          def.Image,
			Entrypoint:     def.Entrypoint,
			Environment:    def.Environment,
			Memory:         def.Memory,
			CPU:            def.CPU,
			Enabled:        enabled,
			TimeoutMinutes: def.TimeoutMinutes,
			Tags:           def.Tags,
			Triggers:       def.Triggers,
			NextTasks:      def.NextTasks,
		})
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks, nil
}
