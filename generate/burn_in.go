package generate

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/evergreen-ci/utility"
	"github.com/pkg/errors"

	"github.com/evergreen-ci/mongo-task-generator/evergreen"
	"github.com/evergreen-ci/mongo-task-generator/resmoke"
	"github.com/evergreen-ci/mongo-task-generator/util"
)

// burnInRepeatConfig is appended to resmoke invocations so the targeted tests
// run repeatedly.
const burnInRepeatConfig = "--repeatTestsSecs=600 --repeatTestsMin=2 --repeatTestsMax=1000"

// Labels prefixed to burn-in sub-task names.
const (
	burnInLabel      = "burn_in"
	burnInTasksLabel = "burn_in_tasks"
)

// BurnInBuildVariantSuffix is appended to base variant names to form the
// derived variant burn_in_tags tasks run on.
const BurnInBuildVariantSuffix = "generated-by-burn-in-tags"

// BurnInService expands the burn-in generators: re-running recently changed
// tests, or whole tasks, enough times to surface flakiness.
type BurnInService struct {
	discovery    resmoke.BurnInDiscovery
	extraction   *ConfigExtractionService
	multiversion *MultiversionService
}

// NewBurnInService builds a burn-in generation service.
func NewBurnInService(discovery resmoke.BurnInDiscovery, extraction *ConfigExtractionService, multiversion *MultiversionService) *BurnInService {
	return &BurnInService{
		discovery:    discovery,
		extraction:   extraction,
		multiversion: multiversion,
	}
}

// GenerateBurnInSuite builds the burn_in_tests task for the given build
// variant: one sub-task per discovered test, fanned out across multiversion
// combinations where the owning task asks for them.
func (s *BurnInService) GenerateBurnInSuite(ctx context.Context, bv *evergreen.BuildVariant, runBuildVariant string, taskMap map[string]*evergreen.Task) (*GeneratedSuite, error) {
	gen := &GeneratedSuite{TaskName: util.RemoveGenSuffix(evergreen.BurnInTestsTask)}

	discovered, err := s.discovery.DiscoverTasks(ctx, bv.Name)
	if err != nil {
		return nil, errors.Wrapf(err, "discovering burn-in tasks for build variant '%s'", bv.Name)
	}

	for _, discoveredTask := range discovered {
		taskDef, ok := taskMap[discoveredTask.TaskName]
		if !ok {
			continue
		}
		subTasks, err := s.buildTestsForTask(ctx, discoveredTask, taskDef, bv, runBuildVariant)
		if err != nil {
			return nil, err
		}
		gen.SubTasks = append(gen.SubTasks, subTasks...)
	}
	return gen, nil
}

// GenerateBurnInTasksSuite builds the burn_in_tasks task for the given build
// variant: whole tasks named by the variant's burn_in_task_name expansion run
// under the repeat configuration.
func (s *BurnInService) GenerateBurnInTasksSuite(ctx context.Context, bv *evergreen.BuildVariant, taskMap map[string]*evergreen.Task) (*GeneratedSuite, error) {
	gen := &GeneratedSuite{TaskName: util.RemoveGenSuffix(evergreen.BurnInTasksTask)}

	taskNames, ok := bv.GetExpansion(evergreen.BurnInTaskNameExpansion)
	if !ok {
		return gen, nil
	}

	for _, taskName := range strings.Fields(taskNames) {
		taskDef, ok := taskMap[taskName]
		if !ok {
			continue
		}
		params, err := s.burnInResmokeParams(taskDef, bv)
		if err != nil {
			return nil, err
		}
		params.ResmokeArgs = strings.TrimSpace(fmt.Sprintf("%s %s", params.ResmokeArgs, burnInRepeatConfig))

		subTasks, err := s.fanOutSubTask(ctx, params, burnInTasksLabel, bv.Name, 0, 1)
		if err != nil {
			return nil, err
		}
		gen.SubTasks = append(gen.SubTasks, subTasks...)
	}
	return gen, nil
}

// BuildBurnInTagsVariant builds the deactivated build variant that runs a
// burn_in_tags generated task: a copy of the base variant's execution context
// with the compile dependency at the head of its task list.
func BuildBurnInTagsVariant(base *evergreen.BuildVariant, runBuildVariant string, gen *GeneratedSuite, compileTask string) *GeneratedVariant {
	tasks := []TaskRef{{Name: compileTask, Activate: utility.FalsePtr()}}
	tasks = append(tasks, gen.BuildTaskRefs(nil, nil)...)

	return &GeneratedVariant{
		Name:        runBuildVariant,
		DisplayName: "! " + base.DisplayName,
		RunOn:       base.RunOn,
		Modules:     base.Modules,
		Activate:    utility.FalsePtr(),
		Expansions: map[string]string{
			evergreen.BurnInBypassExpansion: base.Name,
		},
		Tasks:        tasks,
		DisplayTasks: []DisplayTask{gen.BuildDisplayTask()},
	}
}

// buildTestsForTask builds the burn-in sub-tasks covering one discovered
// task's tests.
func (s *BurnInService) buildTestsForTask(ctx context.Context, discoveredTask resmoke.DiscoveredTask, taskDef *evergreen.Task, bv *evergreen.BuildVariant, runBuildVariant string) ([]GeneratedSubTask, error) {
	var subTasks []GeneratedSubTask
	for index, test := range discoveredTask.TestList {
		params, err := s.burnInResmokeParams(taskDef, bv)
		if err != nil {
			return nil, err
		}
		params.ResmokeArgs = strings.TrimSpace(fmt.Sprintf("%s %s %s", params.ResmokeArgs, burnInRepeatConfig, test))

		testSubTasks, err := s.fanOutSubTask(ctx, params, burnInLabel, runBuildVariant, index, len(discoveredTask.TestList))
		if err != nil {
			return nil, err
		}
		subTasks = append(subTasks, testSubTasks...)
	}
	return subTasks, nil
}

// fanOutSubTask builds the sub-task running one burn-in unit, fanned out
// across multiversion combinations when the owning task asks for them.
func (s *BurnInService) fanOutSubTask(ctx context.Context, params *ResmokeGenParams, label, variant string, index, total int) ([]GeneratedSubTask, error) {
	if !params.GenerateMultiversionCombos {
		subSuite := burnInSubSuite(label, params.TaskName, params.SuiteName, variant, index, total, "")
		return []GeneratedSubTask{{Task: buildResmokeSubTask(subSuite, params, subSuite.OriginSuite)}}, nil
	}

	combos, err := s.multiversion.Combos(ctx, params.SuiteName, params.LastVersions)
	if err != nil {
		return nil, errors.Wrapf(err, "enumerating multiversion combinations for task '%s'", params.TaskName)
	}
	var subTasks []GeneratedSubTask
	for _, combo := range combos {
		mvSuite := NameMultiversionSuite(params.SuiteName, combo.OldVersion, combo.Layout)
		subSuite := burnInSubSuite(label, mvSuite, mvSuite, variant, index, total,
			s.multiversion.ExcludeTags(params.TaskName, combo.OldVersion))
		subTasks = append(subTasks, GeneratedSubTask{Task: buildResmokeSubTask(subSuite, params, subSuite.OriginSuite)})
	}
	return subTasks, nil
}

// burnInResmokeParams extracts resmoke parameters for a burn-in sub-task.
// Burn-in never splits enterprise and community apart, so the enterprise flag
// is cleared.
func (s *BurnInService) burnInResmokeParams(taskDef *evergreen.Task, bv *evergreen.BuildVariant) (*ResmokeGenParams, error) {
	params, err := s.extraction.ResmokeGenParams(taskDef, bv)
	if err != nil {
		return nil, err
	}
	params.IsEnterprise = false
	return params, nil
}

// burnInSubSuite describes one burn-in sub-task. The name carries the index
// directly, zero-padded to the width of the test count.
func burnInSubSuite(label, taskName, originSuite, variant string, index, total int, mvExcludeTags string) SubSuite {
	width := int(math.Ceil(math.Log10(float64(total))))
	return SubSuite{
		Index:         &index,
		Name:          fmt.Sprintf("%s:%s-%s-%0*d", label, taskName, variant, width, index),
		OriginSuite:   originSuite,
		MvExcludeTags: mvExcludeTags,
	}
}
