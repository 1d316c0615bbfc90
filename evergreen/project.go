package evergreen

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

const requiredSuffix = "-required"

// Project is an evaluated Evergreen project configuration.
type Project struct {
	BuildVariants []BuildVariant `yaml:"buildvariants"`
	Tasks         []Task         `yaml:"tasks"`
	Modules       []Module       `yaml:"modules"`
}

// Module is a git module included in a project.
type Module struct {
	Name   string `yaml:"name"`
	Repo   string `yaml:"repo"`
	Prefix string `yaml:"prefix"`
	Branch string `yaml:"branch"`
}

// BuildVariant is a single build variant of a project.
type BuildVariant struct {
	Name         string            `yaml:"name"`
	DisplayName  string            `yaml:"display_name"`
	RunOn        []string          `yaml:"run_on"`
	Modules      []string          `yaml:"modules"`
	Expansions   map[string]string `yaml:"expansions"`
	Tasks        []TaskRef         `yaml:"tasks"`
	DisplayTasks []DisplayTask     `yaml:"display_tasks"`
}

// TaskRef is a reference from a build variant to a task definition.
type TaskRef struct {
	Name      string           `yaml:"name"`
	Distros   []string         `yaml:"distros"`
	DependsOn []TaskDependency `yaml:"depends_on"`
}

// DisplayTask groups execution tasks under one display name.
type DisplayTask struct {
	Name           string   `yaml:"name"`
	ExecutionTasks []string `yaml:"execution_tasks"`
}

// Task is a project task definition.
type Task struct {
	Name            string           `yaml:"name"`
	Tags            []string         `yaml:"tags"`
	Commands        []Command        `yaml:"commands"`
	DependsOn       []TaskDependency `yaml:"depends_on"`
	ExecTimeoutSecs int              `yaml:"exec_timeout_secs"`
}

// TaskDependency is a dependency of one task on another.
type TaskDependency struct {
	Name    string `yaml:"name"`
	Variant string `yaml:"variant,omitempty"`
}

// Command is a single build step: either a function call with vars or a
// built-in command with params.
type Command struct {
	Func    string                 `yaml:"func,omitempty"`
	Command string                 `yaml:"command,omitempty"`
	Vars    map[string]interface{} `yaml:"vars,omitempty"`
	Params  map[string]interface{} `yaml:"params,omitempty"`
}

// ProjectConfig provides access to an evaluated project configuration.
type ProjectConfig struct {
	project *Project
	bvMap   map[string]*BuildVariant
	taskMap map[string]*Task
}

// LoadProjectConfig evaluates the project file at the given location with the
// evergreen CLI and parses the result.
func LoadProjectConfig(ctx context.Context, evgProjectLocation string) (*ProjectConfig, error) {
	startAt := time.Now()
	cmd := exec.CommandContext(ctx, "evergreen", "evaluate", evgProjectLocation)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrapf(err, "evaluating project config '%s': %s", evgProjectLocation, stderr.String())
	}

	grip.Info(message.Fields{
		"message":     "evaluated project config",
		"project":     evgProjectLocation,
		"duration_ms": time.Since(startAt).Milliseconds(),
	})

	return NewProjectConfig(output)
}

// NewProjectConfig parses an already-evaluated project configuration.
func NewProjectConfig(config []byte) (*ProjectConfig, error) {
	project := &Project{}
	if err := yaml.Unmarshal(config, project); err != nil {
		return nil, errors.Wrap(err, "parsing evaluated project config")
	}

	c := &ProjectConfig{
		project: project,
		bvMap:   map[string]*BuildVariant{},
		taskMap: map[string]*Task{},
	}
	for i := range project.BuildVariants {
		bv := &project.BuildVariants[i]
		c.bvMap[bv.Name] = bv
	}
	for i := range project.Tasks {
		task := &project.Tasks[i]
		c.taskMap[task.Name] = task
	}

	return c, nil
}

// BuildVariantMap returns a map of build variant names to their definitions.
func (c *ProjectConfig) BuildVariantMap() map[string]*BuildVariant {
	return c.bvMap
}

// TaskMap returns a map of task names to their definitions.
func (c *ProjectConfig) TaskMap() map[string]*Task {
	return c.taskMap
}

// GetBuildVariant returns the named build variant.
func (c *ProjectConfig) GetBuildVariant(name string) (*BuildVariant, error) {
	bv, ok := c.bvMap[name]
	if !ok {
		return nil, errors.Errorf("build variant '%s' not found in project config", name)
	}
	return bv, nil
}

// SortBuildVariantsRequiredFirst returns the build variant names with every
// variant whose name ends in "-required" before any other; ties keep the
// order the evaluator produced.
func (c *ProjectConfig) SortBuildVariantsRequiredFirst() []string {
	var names []string
	for _, bv := range c.project.BuildVariants {
		if strings.HasSuffix(bv.Name, requiredSuffix) {
			names = append(names, bv.Name)
		}
	}
	for _, bv := range c.project.BuildVariants {
		if !strings.HasSuffix(bv.Name, requiredSuffix) {
			names = append(names, bv.Name)
		}
	}
	return names
}

// ModuleDir returns the checkout directory of the named module, joining its
// declared prefix with the module name.
func (c *ProjectConfig) ModuleDir(moduleName string) (string, bool) {
	for _, module := range c.project.Modules {
		if module.Name == moduleName {
			return fmt.Sprintf("%s/%s", module.Prefix, moduleName), true
		}
	}
	return "", false
}
