package execconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"execengine/internal/app/execution/teamlead"
	"execengine/internal/domain/execution"
)

// TaskGraphFile is the on-disk YAML shape a project's services and tasks
// are declared in, grounded on the teacher's internal/config YAML-first
// file layer. Dependency resolution between services is deliberately not
// supported — spec.md's Non-goals exclude graph-dependency resolution, so
// every service here runs independently.
type TaskGraphFile struct {
	ProjectID string              `yaml:"project_id"`
	Services  []TaskGraphService  `yaml:"services"`
}

// TaskGraphService is one service's ordered task list.
type TaskGraphService struct {
	Name  string          `yaml:"name"`
	Tasks []TaskGraphEntry `yaml:"tasks"`
}

// TaskGraphEntry is one task's declared prompt material.
type TaskGraphEntry struct {
	ID           string   `yaml:"id"`
	Title        string   `yaml:"title"`
	Description  string   `yaml:"description"`
	TestCommands []string `yaml:"test_commands"`
}

// LoadTaskGraph reads and parses a task-graph YAML file.
func LoadTaskGraph(path string) (*TaskGraphFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("execconfig: read task graph %s: %w", path, err)
	}
	var g TaskGraphFile
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("execconfig: parse task graph %s: %w", path, err)
	}
	if g.ProjectID == "" {
		return nil, fmt.Errorf("execconfig: task graph %s missing project_id", path)
	}
	return &g, nil
}

// NewState builds a fresh execution.State from the task graph, with every
// task pending, ready for a brand-new (non-recovered) run.
func (g *TaskGraphFile) NewState() *execution.State {
	st := execution.NewState(g.ProjectID)
	for _, svc := range g.Services {
		taskIDs := make([]string, 0, len(svc.Tasks))
		for _, task := range svc.Tasks {
			st.Tasks[task.ID] = &execution.Task{
				TaskID:      task.ID,
				Title:       task.Title,
				ServiceName: svc.Name,
				Status:      execution.TaskPending,
				Description: task.Description,
			}
			taskIDs = append(taskIDs, task.ID)
		}
		st.Services[svc.Name] = &execution.Service{ServiceName: svc.Name, TaskIDs: taskIDs}
	}
	st.Recount()
	return st
}

// TeamLeadTasks returns svc's declared tasks in teamlead.Task form (with
// Description and TestCommands populated), for building a TeamLead on a
// brand-new run where the checkpoint hasn't stripped that prompt material.
func (g *TaskGraphFile) TeamLeadTasks(serviceName string) []teamlead.Task {
	for _, svc := range g.Services {
		if svc.Name != serviceName {
			continue
		}
		out := make([]teamlead.Task, 0, len(svc.Tasks))
		for _, task := range svc.Tasks {
			out = append(out, teamlead.Task{
				Task: execution.Task{
					TaskID:      task.ID,
					Title:       task.Title,
					ServiceName: serviceName,
					Status:      execution.TaskPending,
					Description: task.Description,
				},
				TestCommands: task.TestCommands,
			})
		}
		return out
	}
	return nil
}
