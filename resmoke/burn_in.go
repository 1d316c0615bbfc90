package resmoke

import (
	"context"
	"strings"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// DiscoveredTask is a task burn-in discovery selected, with the tests to run.
type DiscoveredTask struct {
	// TaskName is the name of the task to run.
	TaskName string `yaml:"task_name"`
	// TestList are the tests to run as part of the task.
	TestList []string `yaml:"test_list"`
}

// discoveredTaskList is the shape of the burn-in discovery output.
type discoveredTaskList struct {
	DiscoveredTasks []DiscoveredTask `yaml:"discovered_tasks"`
}

// BurnInDiscovery queries which tasks and tests burn-in should cover.
type BurnInDiscovery interface {
	// DiscoverTasks returns the tasks and tests to burn in on the given
	// build variant.
	DiscoverTasks(ctx context.Context, buildVariant string) ([]DiscoveredTask, error)
}

// BurnInProxy implements BurnInDiscovery by shelling out to the burn-in
// tooling.
type BurnInProxy struct {
	cmd            []string
	evgProjectFile string
}

// NewBurnInProxy creates a proxy that invokes the given burn-in command line,
// e.g. "python buildscripts/burn_in_tests.py run".
func NewBurnInProxy(burnInCmd string, evgProjectFile string) *BurnInProxy {
	return &BurnInProxy{
		cmd:            strings.Fields(burnInCmd),
		evgProjectFile: evgProjectFile,
	}
}

// DiscoverTasks returns the tasks and tests to burn in on the given build
// variant.
func (p *BurnInProxy) DiscoverTasks(ctx context.Context, buildVariant string) ([]DiscoveredTask, error) {
	startAt := time.Now()
	args := append(append([]string{}, p.cmd...),
		"--build-variant", buildVariant,
		"--yaml",
		"--evg-project-file", p.evgProjectFile,
	)
	output, err := runCommand(ctx, args)
	if err != nil {
		return nil, errors.Wrapf(err, "discovering burn-in tasks for build variant '%s'", buildVariant)
	}
	grip.Info(message.Fields{
		"message":       "burn-in discovery finished",
		"build_variant": buildVariant,
		"duration_ms":   time.Since(startAt).Milliseconds(),
	})

	discovered := discoveredTaskList{}
	if err := yaml.Unmarshal(output, &discovered); err != nil {
		return nil, errors.Wrap(err, "parsing burn-in discovery output")
	}
	return discovered.DiscoveredTasks, nil
}
