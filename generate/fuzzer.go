package generate

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/evergreen-ci/shrub"
	"github.com/pkg/errors"

	"github.com/evergreen-ci/mongo-task-generator/evergreen"
	"github.com/evergreen-ci/mongo-task-generator/util"
)

// GenFuzzerTaskService expands fuzzer generator parents into sub-tasks.
type GenFuzzerTaskService struct {
	multiversion *MultiversionService
}

// NewGenFuzzerTaskService builds a fuzzer generation service.
func NewGenFuzzerTaskService(multiversion *MultiversionService) *GenFuzzerTaskService {
	return &GenFuzzerTaskService{multiversion: multiversion}
}

// GenerateFuzzerTask expands one fuzzer generator parent into its sub-tasks.
// Multiversion fuzzers fan out across every old-version and layout
// combination of their suite.
func (s *GenFuzzerTaskService) GenerateFuzzerTask(ctx context.Context, params *FuzzerGenTaskParams) (*GeneratedSuite, error) {
	gen := &GeneratedSuite{TaskName: params.TaskName}

	if params.IsMultiversion {
		combos, err := s.multiversion.Combos(ctx, params.Suite, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "enumerating multiversion combinations for task '%s'", params.TaskName)
		}
		for _, combo := range combos {
			mvTask := NameMultiversionSuite(params.TaskName, combo.OldVersion, combo.Layout)
			mvSuite := NameMultiversionSuite(params.Suite, combo.OldVersion, combo.Layout)
			for i := 0; i < int(params.NumTasks); i++ {
				gen.SubTasks = append(gen.SubTasks, GeneratedSubTask{
					Task:           buildFuzzerSubTask(mvTask, i, params, mvSuite, combo.Layout),
					UseLargeDistro: params.UseLargeDistro,
				})
			}
		}
		return gen, nil
	}

	for i := 0; i < int(params.NumTasks); i++ {
		gen.SubTasks = append(gen.SubTasks, GeneratedSubTask{
			Task:           buildFuzzerSubTask(params.TaskName, i, params, "", ""),
			UseLargeDistro: params.UseLargeDistro,
		})
	}
	return gen, nil
}

// buildFuzzerSubTask builds one fuzzer sub-task. suiteOverride and layout are
// set for multiversion combinations.
func buildFuzzerSubTask(displayName string, index int, params *FuzzerGenTaskParams, suiteOverride, layout string) *shrub.Task {
	name := util.NameGeneratedTask(displayName, util.IntPtr(index), int(params.NumTasks), params.IsEnterprise)

	task := &shrub.Task{Name: name}
	if params.RequireMultiversionSetup {
		task.Function(evergreen.GetProjectWithNoModules)
		task.Function(evergreen.AddGitTag)
	}
	task.Function(evergreen.DoSetup)
	task.Function(evergreen.ConfigureEvgAPICreds)
	if params.RequireMultiversionSetup {
		task.Function(evergreen.DoMultiversionSetup)
	}
	task.Function(evergreen.SetupJstestfuzz)
	task.FunctionWithVars(evergreen.RunFuzzer, buildFuzzerInvocationVars(params))
	task.FunctionWithVars(evergreen.RunGeneratedTests, buildFuzzerRunTestVars(params, suiteOverride, layout))
	task.Dependency(params.DependsOn...)
	return task
}

// buildFuzzerInvocationVars builds the vars for a sub-task's "run jstestfuzz"
// call.
func buildFuzzerInvocationVars(params *FuzzerGenTaskParams) map[string]string {
	return map[string]string{
		evergreen.NpmCommandVar: params.NpmCommand,
		evergreen.FuzzerParametersVar: strings.TrimSpace(
			fmt.Sprintf("--numGeneratedFiles %s %s", params.NumFiles, params.JstestfuzzVars)),
	}
}

// buildFuzzerRunTestVars builds the vars for a fuzzer sub-task's "run
// generated tests" call.
func buildFuzzerRunTestVars(params *FuzzerGenTaskParams, suiteOverride, layout string) map[string]string {
	suite := suiteOverride
	if suite == "" {
		suite = params.Suite
	}

	vars := map[string]string{
		evergreen.ContinueOnFailureVar:        strconv.FormatBool(params.ContinueOnFailure),
		evergreen.GenTaskConfigLocationVar:    params.ConfigLocation,
		evergreen.RequireMultiversionSetupVar: strconv.FormatBool(params.RequireMultiversionSetup),
		evergreen.ResmokeArgsVar:              params.ResmokeArgs,
		evergreen.ResmokeJobsMaxVar:           strconv.FormatUint(params.ResmokeJobsMax, 10),
		evergreen.ShouldShuffleTestsVar:       strconv.FormatBool(params.ShouldShuffle),
		evergreen.TaskNameVar:                 params.TaskName,
		evergreen.IdleTimeoutVar:              strconv.FormatUint(params.TimeoutSecs, 10),
		evergreen.SuiteNameVar:                suite,
	}
	if layout != "" {
		vars[evergreen.MultiversionExcludeTagsVar] = layout
	}
	return vars
}
