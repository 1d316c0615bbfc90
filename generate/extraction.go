package generate

import (
	"strings"

	"github.com/evergreen-ci/shrub"
	"github.com/evergreen-ci/utility"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/evergreen-ci/mongo-task-generator/evergreen"
	"github.com/evergreen-ci/mongo-task-generator/util"
)

// defaultNpmCommand is the npm command fuzzer tasks invoke when their
// definition does not name one.
const defaultNpmCommand = "jstestfuzz"

// ResmokeGenParams is everything needed to generate the sub-tasks of one
// resmoke generator parent.
type ResmokeGenParams struct {
	// TaskName is the parent's name without its "_gen" suffix.
	TaskName string
	// SuiteName is the resmoke suite being split.
	SuiteName string
	// BuildVariant the sub-tasks will run on.
	BuildVariant string
	// UseLargeDistro requests the large distro for the sub-tasks.
	UseLargeDistro bool
	// RequireMultiversionSetup marks sub-tasks as needing multiversion setup.
	RequireMultiversionSetup bool
	// GenerateMultiversionCombos fans the sub-tasks out across old-version
	// and layout combinations.
	GenerateMultiversionCombos bool
	// RepeatSuites repeats the suite the given number of times.
	RepeatSuites string
	// ResmokeArgs are extra arguments to pass to resmoke.
	ResmokeArgs string
	// ResmokeJobsMax caps resmoke's job parallelism when set.
	ResmokeJobsMax *uint64
	// ConfigLocation is where the generated configuration gets uploaded.
	ConfigLocation string
	// DependsOn are the dependencies the sub-tasks inherit from the parent.
	DependsOn []shrub.TaskDependency
	// IsEnterprise is set when generating for an enterprise build variant.
	IsEnterprise bool
	// Platform is the platform group of the build variant.
	Platform string
	// LastVersions overrides the old versions to generate against.
	LastVersions []string
	// MultiversionGenerateTasks are explicitly declared multiversion
	// sub-suites, taking the place of fan-out when present.
	MultiversionGenerateTasks []evergreen.MultiversionGenerateTaskConfig
}

// FuzzerGenTaskParams is everything needed to generate the sub-tasks of one
// fuzzer generator parent.
type FuzzerGenTaskParams struct {
	// TaskName is the parent's name without its "_gen" suffix.
	TaskName string
	// BuildVariant the sub-tasks will run on.
	BuildVariant string
	// Suite is the resmoke suite the generated tests run under.
	Suite string
	// NumFiles is the number of test files each sub-task generates.
	NumFiles string
	// NumTasks is the number of sub-tasks to generate.
	NumTasks uint64
	// ResmokeArgs are extra arguments to pass to resmoke.
	ResmokeArgs string
	// NpmCommand is the npm command generating the tests.
	NpmCommand string
	// JstestfuzzVars are extra arguments to the fuzzer invocation.
	JstestfuzzVars string
	// ContinueOnFailure keeps resmoke running after a test failure.
	ContinueOnFailure bool
	// ResmokeJobsMax caps resmoke's job parallelism.
	ResmokeJobsMax uint64
	// ShouldShuffle randomizes test order.
	ShouldShuffle bool
	// TimeoutSecs is the idle timeout of the generated tests.
	TimeoutSecs uint64
	// UseLargeDistro requests the large distro for the sub-tasks.
	UseLargeDistro bool
	// RequireMultiversionSetup marks sub-tasks as needing multiversion setup.
	RequireMultiversionSetup bool
	// IsMultiversion fans the sub-tasks out across old-version and layout
	// combinations.
	IsMultiversion bool
	// ConfigLocation is where the generated configuration gets uploaded.
	ConfigLocation string
	// DependsOn are the dependencies the sub-tasks inherit from the parent.
	DependsOn []shrub.TaskDependency
	// IsEnterprise is set when generating for an enterprise build variant.
	IsEnterprise bool
	// Platform is the platform group of the build variant.
	Platform string
}

// fuzzerGenTaskVars is the raw shape of a fuzzer generator's vars.
type fuzzerGenTaskVars struct {
	NumFiles          string `mapstructure:"num_files"`
	NumTasks          uint64 `mapstructure:"num_tasks"`
	ResmokeArgs       string `mapstructure:"resmoke_args"`
	NpmCommand        string `mapstructure:"npm_command"`
	JstestfuzzVars    string `mapstructure:"jstestfuzz_vars"`
	ContinueOnFailure bool   `mapstructure:"continue_on_failure"`
	ResmokeJobsMax    uint64 `mapstructure:"resmoke_jobs_max"`
	ShouldShuffle     bool   `mapstructure:"should_shuffle"`
	TimeoutSecs       uint64 `mapstructure:"timeout_secs"`
	Suite             string `mapstructure:"suite"`
	UseLargeDistro    bool   `mapstructure:"use_large_distro"`
}

// requiredFuzzerVars must be present on every fuzzer generator definition.
var requiredFuzzerVars = []string{
	evergreen.NumFuzzerFilesVar,
	evergreen.NumFuzzerTasksVar,
	evergreen.ResmokeArgsVar,
	evergreen.ContinueOnFailureVar,
	evergreen.ResmokeJobsMaxVar,
	evergreen.ShouldShuffleTestsVar,
	evergreen.IdleTimeoutVar,
}

// ConfigExtractionService turns generator task definitions into the parameter
// bundles the sub-task builders consume.
type ConfigExtractionService struct {
	genSubTasksConfig *GenerateSubTasksConfig
	configLocation    string
	generatingTask    string
}

// NewConfigExtractionService builds an extraction service. generatingTask is
// the name of the task running generation; dependencies on it are dropped
// since it has, by definition, already run.
func NewConfigExtractionService(genSubTasksConfig *GenerateSubTasksConfig, configLocation, generatingTask string) *ConfigExtractionService {
	return &ConfigExtractionService{
		genSubTasksConfig: genSubTasksConfig,
		configLocation:    configLocation,
		generatingTask:    generatingTask,
	}
}

// ResmokeGenParams extracts the generation parameters of a resmoke generator
// parent on the given build variant.
func (s *ConfigExtractionService) ResmokeGenParams(task *evergreen.Task, bv *evergreen.BuildVariant) (*ResmokeGenParams, error) {
	useLargeDistro, err := task.GetDefaultVarBool(evergreen.UseLargeDistroVar, false)
	if err != nil {
		return nil, errors.Wrapf(err, "extracting params for task '%s'", task.Name)
	}
	jobsMax, err := task.GetOptionalVarU64(evergreen.ResmokeJobsMaxVar)
	if err != nil {
		return nil, errors.Wrapf(err, "extracting params for task '%s'", task.Name)
	}

	isMultiversion := task.HasTag(evergreen.MultiversionTag)
	return &ResmokeGenParams{
		TaskName:                   util.RemoveGenSuffix(task.Name),
		SuiteName:                  task.FindSuiteName(),
		BuildVariant:               bv.Name,
		UseLargeDistro:             useLargeDistro,
		RequireMultiversionSetup:   isMultiversion,
		GenerateMultiversionCombos: isMultiversion && !task.HasTag(evergreen.NoMultiversionGenerateTasksTag),
		RepeatSuites:               task.GetDefaultVar(evergreen.RepeatSuitesVar, ""),
		ResmokeArgs:                task.GetDefaultVar(evergreen.ResmokeArgsVar, ""),
		ResmokeJobsMax:             jobsMax,
		ConfigLocation:             s.configLocation,
		DependsOn:                  s.taskDependencies(task),
		IsEnterprise:               bv.IsEnterprise(),
		Platform:                   bv.Platform(),
		LastVersions:               lastVersionsOverride(bv),
		MultiversionGenerateTasks:  task.MultiversionGenerateTasks(),
	}, nil
}

// FuzzerGenParams extracts the generation parameters of a fuzzer generator
// parent on the given build variant.
func (s *ConfigExtractionService) FuzzerGenParams(task *evergreen.Task, bv *evergreen.BuildVariant) (*FuzzerGenTaskParams, error) {
	rawVars, ok := task.GenTaskVars()
	if !ok {
		return nil, errors.Errorf("task '%s' has no generator definition", task.Name)
	}

	vars := fuzzerGenTaskVars{NpmCommand: defaultNpmCommand}
	metadata := mapstructure.Metadata{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Metadata:         &metadata,
		Result:           &vars,
	})
	if err != nil {
		return nil, errors.Wrap(err, "building fuzzer vars decoder")
	}
	if err := decoder.Decode(rawVars); err != nil {
		return nil, errors.Wrapf(err, "decoding fuzzer vars for task '%s'", task.Name)
	}
	for _, key := range requiredFuzzerVars {
		if !utility.StringSliceContains(metadata.Keys, key) {
			return nil, &evergreen.ConfigMissingError{TaskName: task.Name, Key: key}
		}
	}

	numFiles, ok := evergreen.TranslateRunVar(vars.NumFiles, bv)
	if !ok {
		return nil, errors.Errorf("no expansion or default for '%s' of task '%s' on build variant '%s'",
			vars.NumFiles, task.Name, bv.Name)
	}

	suite := vars.Suite
	if suite == "" {
		suite = task.FindSuiteName()
	}

	isMultiversion := task.HasTag(evergreen.MultiversionTag)
	return &FuzzerGenTaskParams{
		TaskName:                 util.RemoveGenSuffix(task.Name),
		BuildVariant:             bv.Name,
		Suite:                    suite,
		NumFiles:                 numFiles,
		NumTasks:                 vars.NumTasks,
		ResmokeArgs:              vars.ResmokeArgs,
		NpmCommand:               vars.NpmCommand,
		JstestfuzzVars:           vars.JstestfuzzVars,
		ContinueOnFailure:        vars.ContinueOnFailure,
		ResmokeJobsMax:           vars.ResmokeJobsMax,
		ShouldShuffle:            vars.ShouldShuffle,
		TimeoutSecs:              vars.TimeoutSecs,
		UseLargeDistro:           vars.UseLargeDistro,
		RequireMultiversionSetup: isMultiversion,
		IsMultiversion:           isMultiversion && !task.HasTag(evergreen.NoMultiversionGenerateTasksTag),
		ConfigLocation:           s.configLocation,
		DependsOn:                s.taskDependencies(task),
		IsEnterprise:             bv.IsEnterprise(),
		Platform:                 bv.Platform(),
	}, nil
}

// DetermineDistros resolves the distro list for a generated suite's task
// references on the given build variant.
func (s *ConfigExtractionService) DetermineDistros(gen *GeneratedSuite, bv *evergreen.BuildVariant) ([]string, error) {
	if !gen.UseLargeDistro() {
		return nil, nil
	}
	if largeDistro, ok := bv.GetExpansion(evergreen.LargeDistroExpansion); ok && largeDistro != "" {
		return []string{largeDistro}, nil
	}
	if s.genSubTasksConfig.IgnoreMissingLargeDistro(bv.Name) {
		return nil, nil
	}
	return nil, &MissingLargeDistroError{TaskName: gen.TaskName, BuildVariant: bv.Name}
}

// taskDependencies converts the parent's dependencies for its sub-tasks to
// inherit, dropping any dependency on the generating task itself.
func (s *ConfigExtractionService) taskDependencies(task *evergreen.Task) []shrub.TaskDependency {
	var deps []shrub.TaskDependency
	for _, dep := range task.DependsOn {
		if dep.Name == s.generatingTask {
			continue
		}
		deps = append(deps, shrub.TaskDependency{Name: dep.Name, Variant: dep.Variant})
	}
	return deps
}

// lastVersionsOverride reads the build variant's override of the old versions
// to generate against.
func lastVersionsOverride(bv *evergreen.BuildVariant) []string {
	value, ok := bv.GetExpansion(evergreen.LastVersionsExpansion)
	if !ok || value == "" {
		return nil
	}
	var versions []string
	for _, version := range strings.Split(value, ",") {
		if version = strings.TrimSpace(version); version != "" {
			versions = append(versions, version)
		}
	}
	return versions
}
