// Package generate expands generator parent tasks into the sub-tasks, build
// variants, and suite files that make up a generated Evergreen configuration.
package generate

import (
	"github.com/evergreen-ci/shrub"
	"github.com/evergreen-ci/utility"

	"github.com/evergreen-ci/mongo-task-generator/evergreen"
)

// SubSuite is one slice of a split resmoke suite.
type SubSuite struct {
	// Index is the position of the sub-suite in its parent; nil marks the
	// catch-all "_misc" sub-suite.
	Index *int
	// Name is the sub-task and suite-file name.
	Name string
	// TestList are the tests the sub-suite runs.
	TestList []string
	// OriginSuite is the suite the sub-suite was derived from.
	OriginSuite string
	// MvExcludeTags are tags to exclude when running against an old version.
	MvExcludeTags string
	// IsEnterprise is set when generating for an enterprise build variant.
	IsEnterprise bool
	// Platform is the platform group the parent's variant runs on.
	Platform string
}

// GeneratedSubTask is one sub-task of a generated parent.
type GeneratedSubTask struct {
	Task           *shrub.Task
	UseLargeDistro bool
}

// GeneratedSuite is the expansion of one generator parent task.
type GeneratedSuite struct {
	// TaskName is the display name of the parent, without its "_gen" suffix.
	TaskName string
	// SubTasks are the sub-tasks the parent expands to.
	SubTasks []GeneratedSubTask
}

// DisplayName returns the name the generated sub-tasks are grouped under.
func (s *GeneratedSuite) DisplayName() string {
	return s.TaskName
}

// UseLargeDistro checks whether any sub-task wants the large distro.
func (s *GeneratedSuite) UseLargeDistro() bool {
	for _, subTask := range s.SubTasks {
		if subTask.UseLargeDistro {
			return true
		}
	}
	return false
}

// IsMultiversion checks whether any sub-task depends on multiversion binary
// selection.
func (s *GeneratedSuite) IsMultiversion() bool {
	for _, subTask := range s.SubTasks {
		for _, dep := range subTask.Task.Dependencies {
			if dep.Name == evergreen.MultiversionBinarySelection {
				return true
			}
		}
	}
	return false
}

// BuildDisplayTask builds the display task grouping the generated sub-tasks.
func (s *GeneratedSuite) BuildDisplayTask() DisplayTask {
	executionTasks := make([]string, 0, len(s.SubTasks))
	for _, subTask := range s.SubTasks {
		executionTasks = append(executionTasks, subTask.Task.Name)
	}
	return DisplayTask{
		Name:           s.DisplayName(),
		ExecutionTasks: executionTasks,
	}
}

// BuildTaskRefs builds the task references a build variant needs to run the
// generated sub-tasks. Sub-tasks wanting the large distro carry the given
// distro list; all references start deactivated.
func (s *GeneratedSuite) BuildTaskRefs(largeDistros []string, dependsOn []shrub.TaskDependency) []TaskRef {
	refs := make([]TaskRef, 0, len(s.SubTasks))
	for _, subTask := range s.SubTasks {
		var distros []string
		if subTask.UseLargeDistro {
			distros = largeDistros
		}
		refs = append(refs, TaskRef{
			Name:      subTask.Task.Name,
			Distros:   distros,
			Activate:  utility.FalsePtr(),
			DependsOn: dependsOn,
		})
	}
	return refs
}

// TaskRef is a reference to a task in a generated build variant.
type TaskRef struct {
	Name      string                 `json:"name"`
	Distros   []string               `json:"distros,omitempty"`
	Activate  *bool                  `json:"activate,omitempty"`
	DependsOn []shrub.TaskDependency `json:"depends_on,omitempty"`
}

// DisplayTask groups execution tasks under one display name.
type DisplayTask struct {
	Name           string   `json:"name"`
	ExecutionTasks []string `json:"execution_tasks"`
}

// GeneratedVariant is one build variant of the generated configuration.
type GeneratedVariant struct {
	Name         string            `json:"name"`
	DisplayName  string            `json:"display_name,omitempty"`
	RunOn        []string          `json:"run_on,omitempty"`
	Modules      []string          `json:"modules,omitempty"`
	Activate     *bool             `json:"activate,omitempty"`
	Expansions   map[string]string `json:"expansions,omitempty"`
	Tasks        []TaskRef         `json:"tasks"`
	DisplayTasks []DisplayTask     `json:"display_tasks,omitempty"`
}

// GeneratedConfig is the combined document handed to generate.tasks.
type GeneratedConfig struct {
	BuildVariants []GeneratedVariant `json:"buildvariants"`
	Tasks         []*shrub.Task      `json:"tasks"`
}
