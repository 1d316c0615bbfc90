package generate

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/evergreen-ci/shrub"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"

	"github.com/evergreen-ci/mongo-task-generator/evergreen"
	"github.com/evergreen-ci/mongo-task-generator/resmoke"
	"github.com/evergreen-ci/mongo-task-generator/util"
)

// GeneratedConfigDir is the directory the generated suite files land in,
// relative to the task working directory at runtime.
const GeneratedConfigDir = "generated_resmoke_config"

// multiversionExcludeTagsFile is the tag file multiversion sub-tasks exclude
// against.
const multiversionExcludeTagsFile = GeneratedConfigDir + "/multiversion_exclude_tags.yml"

// GenResmokeConfig tweaks how resmoke generator parents get expanded.
type GenResmokeConfig struct {
	// UseTaskSplitFallback skips runtime history and splits suites into
	// even-sized chunks.
	UseTaskSplitFallback bool
	// MaxSubTasksPerTask caps the number of sub-tasks one parent expands to.
	MaxSubTasksPerTask int
}

// GenResmokeTaskService expands resmoke generator parents into sub-tasks and
// schedules the sub-suite files they run for writing.
type GenResmokeTaskService struct {
	taskHistory  evergreen.TaskHistoryService
	discovery    resmoke.TestDiscovery
	multiversion *MultiversionService
	writers      *WriterPool
	config       GenResmokeConfig
}

// NewGenResmokeTaskService builds a resmoke generation service.
func NewGenResmokeTaskService(
	taskHistory evergreen.TaskHistoryService,
	discovery resmoke.TestDiscovery,
	multiversion *MultiversionService,
	writers *WriterPool,
	config GenResmokeConfig,
) *GenResmokeTaskService {
	return &GenResmokeTaskService{
		taskHistory:  taskHistory,
		discovery:    discovery,
		multiversion: multiversion,
		writers:      writers,
		config:       config,
	}
}

// GenerateResmokeTask expands one resmoke generator parent: the suite's tests
// are split into sub-suites by historic runtime, the sub-suite files are
// handed to the writer pool, and a sub-task is built for every sub-suite.
func (s *GenResmokeTaskService) GenerateResmokeTask(ctx context.Context, params *ResmokeGenParams) (*GeneratedSuite, error) {
	tests, err := s.discovery.DiscoverTests(ctx, params.SuiteName)
	if err != nil {
		return nil, errors.Wrapf(err, "discovering tests for task '%s'", params.TaskName)
	}

	subSuites := s.splitSuite(ctx, params, tests)
	if !hasMiscSubSuite(subSuites) {
		subSuites = append(subSuites, SubSuite{
			Name:         util.NameGeneratedTask(params.TaskName, nil, len(subSuites), params.IsEnterprise),
			OriginSuite:  params.SuiteName,
			IsEnterprise: params.IsEnterprise,
			Platform:     params.Platform,
		})
	}

	if err := s.writers.WriteSuiteFiles(ctx, SuiteFilesMessage{
		TaskName:    params.TaskName,
		OriginSuite: params.SuiteName,
		SubSuites:   subSuites,
	}); err != nil {
		return nil, errors.Wrapf(err, "scheduling suite files for task '%s'", params.TaskName)
	}

	if len(params.MultiversionGenerateTasks) > 0 {
		declared := s.multiversion.FilterMultiversionGenerateTasks(params.MultiversionGenerateTasks, params.LastVersions)
		subSuites = s.declaredMultiversionSubSuites(params, declared)
	} else if params.GenerateMultiversionCombos {
		subSuites, err = s.multiversionSubSuites(ctx, params, subSuites)
		if err != nil {
			return nil, err
		}
	}

	gen := &GeneratedSuite{TaskName: params.TaskName}
	for _, subSuite := range subSuites {
		gen.SubTasks = append(gen.SubTasks, GeneratedSubTask{
			Task:           buildResmokeSubTask(subSuite, params, ""),
			UseLargeDistro: params.UseLargeDistro,
		})
	}
	return gen, nil
}

// splitSuite splits the discovered tests into sub-suites, preferring the
// runtime-balanced split and falling back to even chunks when history is
// unavailable.
func (s *GenResmokeTaskService) splitSuite(ctx context.Context, params *ResmokeGenParams, tests []string) []SubSuite {
	if !s.config.UseTaskSplitFallback {
		history, err := s.taskHistory.GetTaskHistory(ctx, params.TaskName, params.BuildVariant)
		if err == nil {
			return s.splitByRuntime(params, tests, history)
		}
		grip.Warning(message.WrapError(err, message.Fields{
			"message":       "no runtime history available, falling back to even split",
			"task":          params.TaskName,
			"build_variant": params.BuildVariant,
		}))
	}
	return s.splitEvenly(params, tests)
}

// splitByRuntime distributes tests over sub-suites so each sub-suite's total
// historic runtime approaches the per-sub-suite average. Tests without
// history count as instantaneous.
func (s *GenResmokeTaskService) splitByRuntime(params *ResmokeGenParams, tests []string, history *evergreen.TaskRuntimeHistory) []SubSuite {
	if len(tests) == 0 {
		return nil
	}
	maxSubSuites := s.maxSubSuites(tests)

	totalRuntime := 0.0
	for _, test := range tests {
		totalRuntime += testRuntime(test, history)
	}
	targetRuntime := totalRuntime / float64(maxSubSuites)

	var buckets [][]string
	var bucket []string
	runningRuntime := 0.0
	for _, test := range tests {
		runtime := testRuntime(test, history)
		if runningRuntime+runtime > targetRuntime && len(bucket) > 0 && len(buckets) < maxSubSuites-1 {
			buckets = append(buckets, bucket)
			bucket = nil
			runningRuntime = 0.0
		}
		bucket = append(bucket, test)
		runningRuntime += runtime
	}
	if len(bucket) > 0 {
		buckets = append(buckets, bucket)
	}

	return s.bucketsToSubSuites(params, buckets)
}

// splitEvenly distributes tests over sub-suites of equal size; tests that do
// not divide evenly land in the catch-all sub-suite.
func (s *GenResmokeTaskService) splitEvenly(params *ResmokeGenParams, tests []string) []SubSuite {
	if len(tests) == 0 {
		return nil
	}
	maxSubSuites := s.maxSubSuites(tests)
	perSubSuite := len(tests) / maxSubSuites

	var buckets [][]string
	for i := 0; i < maxSubSuites; i++ {
		buckets = append(buckets, tests[i*perSubSuite:(i+1)*perSubSuite])
	}
	subSuites := s.bucketsToSubSuites(params, buckets)

	if remainder := tests[maxSubSuites*perSubSuite:]; len(remainder) > 0 {
		subSuites = append(subSuites, SubSuite{
			Name:         util.NameGeneratedTask(params.TaskName, nil, len(buckets), params.IsEnterprise),
			TestList:     remainder,
			OriginSuite:  params.SuiteName,
			IsEnterprise: params.IsEnterprise,
			Platform:     params.Platform,
		})
	}
	return subSuites
}

// maxSubSuites caps the sub-suite count at the number of tests available.
func (s *GenResmokeTaskService) maxSubSuites(tests []string) int {
	if len(tests) < s.config.MaxSubTasksPerTask {
		return len(tests)
	}
	return s.config.MaxSubTasksPerTask
}

// bucketsToSubSuites names the test buckets and wraps them as sub-suites.
func (s *GenResmokeTaskService) bucketsToSubSuites(params *ResmokeGenParams, buckets [][]string) []SubSuite {
	subSuites := make([]SubSuite, 0, len(buckets))
	for i, bucket := range buckets {
		subSuites = append(subSuites, SubSuite{
			Index:        util.IntPtr(i),
			Name:         util.NameGeneratedTask(params.TaskName, util.IntPtr(i), len(buckets), params.IsEnterprise),
			TestList:     bucket,
			OriginSuite:  params.SuiteName,
			IsEnterprise: params.IsEnterprise,
			Platform:     params.Platform,
		})
	}
	return subSuites
}

// declaredMultiversionSubSuites builds one sub-suite per explicitly declared
// multiversion sub-suite, replacing the runtime-based split entirely. The
// configs are expected to already be filtered to the versions being generated
// against.
func (s *GenResmokeTaskService) declaredMultiversionSubSuites(params *ResmokeGenParams, configs []evergreen.MultiversionGenerateTaskConfig) []SubSuite {
	subSuites := make([]SubSuite, 0, len(configs))
	for i, config := range configs {
		name := config.SuiteName
		if params.IsEnterprise {
			name += "-enterprise"
		}
		subSuites = append(subSuites, SubSuite{
			Index:         util.IntPtr(i),
			Name:          name,
			OriginSuite:   config.SuiteName,
			MvExcludeTags: s.multiversion.ExcludeTags(params.TaskName, config.OldVersion),
			IsEnterprise:  params.IsEnterprise,
			Platform:      params.Platform,
		})
	}
	return subSuites
}

// multiversionSubSuites fans the base sub-suites out across every old-version
// and layout combination of the suite.
func (s *GenResmokeTaskService) multiversionSubSuites(ctx context.Context, params *ResmokeGenParams, base []SubSuite) ([]SubSuite, error) {
	combos, err := s.multiversion.Combos(ctx, params.SuiteName, params.LastVersions)
	if err != nil {
		return nil, errors.Wrapf(err, "enumerating multiversion combinations for task '%s'", params.TaskName)
	}

	var subSuites []SubSuite
	for _, combo := range combos {
		mvTask := NameMultiversionSuite(params.TaskName, combo.OldVersion, combo.Layout)
		mvSuite := NameMultiversionSuite(params.SuiteName, combo.OldVersion, combo.Layout)
		excludeTags := s.multiversion.ExcludeTags(params.TaskName, combo.OldVersion)
		indexed := 0
		for _, subSuite := range base {
			if subSuite.Index != nil {
				indexed++
			}
		}
		for _, subSuite := range base {
			mvCopy := subSuite
			mvCopy.Name = util.NameGeneratedTask(mvTask, subSuite.Index, indexed, params.IsEnterprise)
			mvCopy.OriginSuite = mvSuite
			mvCopy.MvExcludeTags = excludeTags
			subSuites = append(subSuites, mvCopy)
		}
	}
	return subSuites, nil
}

// buildResmokeSubTask builds the shrub task running one sub-suite. A
// non-empty suiteOverride names the suite to run directly instead of a
// generated sub-suite file.
func buildResmokeSubTask(subSuite SubSuite, params *ResmokeGenParams, suiteOverride string) *shrub.Task {
	task := &shrub.Task{Name: subSuite.Name}
	if params.RequireMultiversionSetup {
		task.Function(evergreen.GetProjectWithNoModules)
		task.Function(evergreen.AddGitTag)
	}
	task.Function(evergreen.DoSetup)
	task.Function(evergreen.ConfigureEvgAPICreds)
	if params.RequireMultiversionSetup {
		task.Function(evergreen.DoMultiversionSetup)
	}
	task.FunctionWithVars(evergreen.RunGeneratedTests, buildRunTestVars(subSuite, params, suiteOverride))
	task.Dependency(params.DependsOn...)
	return task
}

// buildRunTestVars builds the vars for a sub-task's "run generated tests"
// call.
func buildRunTestVars(subSuite SubSuite, params *ResmokeGenParams, suiteOverride string) map[string]string {
	resmokeArgs := strings.TrimSpace(fmt.Sprintf("--originSuite=%s %s", subSuite.OriginSuite, params.ResmokeArgs))
	if subSuite.MvExcludeTags != "" {
		resmokeArgs = fmt.Sprintf("%s --tagFile=%s --excludeWithAnyTags=%s",
			resmokeArgs, multiversionExcludeTagsFile, subSuite.MvExcludeTags)
	}

	suite := suiteOverride
	if suite == "" {
		suite = fmt.Sprintf("%s/%s.yml", GeneratedConfigDir, subSuite.Name)
	}

	vars := map[string]string{
		evergreen.ResmokeArgsVar:              resmokeArgs,
		evergreen.SuiteNameVar:                suite,
		evergreen.GenTaskConfigLocationVar:    params.ConfigLocation,
		evergreen.RequireMultiversionSetupVar: strconv.FormatBool(params.RequireMultiversionSetup),
	}
	if params.ResmokeJobsMax != nil {
		vars[evergreen.ResmokeJobsMaxVar] = strconv.FormatUint(*params.ResmokeJobsMax, 10)
	}
	if params.RepeatSuites != "" {
		vars[evergreen.RepeatSuitesVar] = params.RepeatSuites
	}
	return vars
}

// testRuntime is the historic runtime of a test, including the hooks that ran
// with it.
func testRuntime(test string, history *evergreen.TaskRuntimeHistory) float64 {
	record, ok := history.TestMap[evergreen.NormalizeTestName(test)]
	if !ok {
		return 0.0
	}
	runtime := record.AverageRuntime
	for _, hook := range record.Hooks {
		runtime += hook.AverageRuntime
	}
	return runtime
}

// hasMiscSubSuite checks whether a catch-all sub-suite is already present.
func hasMiscSubSuite(subSuites []SubSuite) bool {
	for _, subSuite := range subSuites {
		if subSuite.Index == nil {
			return true
		}
	}
	return false
}
