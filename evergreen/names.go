// Package evergreen models the evaluated Evergreen project configuration and
// the queries the task generator performs against it.
package evergreen

// Module names.
const (
	// EnterpriseModule is the name of the enterprise module.
	EnterpriseModule = "enterprise"
)

// Functions used to set up tasks.
const (
	// ConfigureEvgAPICreds sets up authentication to the Evergreen API.
	ConfigureEvgAPICreds = "configure evergreen api credentials"
	// DoSetup sets up a resmoke task.
	DoSetup = "do setup"
)

// Functions for running generated tasks.
const (
	// SetupJstestfuzz sets up the fuzzer.
	SetupJstestfuzz = "setup jstestfuzz"
	// RunFuzzer generates the fuzzer tests.
	RunFuzzer = "run jstestfuzz"
	// RunGeneratedTests runs the generated tests.
	RunGeneratedTests = "run generated tests"
)

// Functions for multiversion tests.
const (
	// DoMultiversionSetup performs setup for multiversion testing.
	DoMultiversionSetup = "do multiversion setup"
	// GetProjectWithNoModules clones the project without its modules.
	GetProjectWithNoModules = "git get project no modules"
	// AddGitTag adds a git tag.
	AddGitTag = "add git tag"
	// InitializeMultiversionTasks is the no-op function that stores
	// multiversion sub-suite declarations in its vars.
	InitializeMultiversionTasks = "initialize multiversion tasks"
)

// Functions marking generator parents.
const (
	// GenerateResmokeTasks marks a task as a generator parent.
	GenerateResmokeTasks = "generate resmoke tasks"
	// RunResmokeTests invokes resmoke in a non-generated task.
	RunResmokeTests = "run tests"
)

// Well-known task names.
const (
	// GeneratorTasks is the display task all "_gen" parents are hidden behind.
	GeneratorTasks = "generator_tasks"
	// BurnInTestsTask is the name of the burn_in_tests generator.
	BurnInTestsTask = "burn_in_tests_gen"
	// BurnInTagsTask is the name of the burn_in_tags generator.
	BurnInTagsTask = "burn_in_tags_gen"
	// BurnInTasksTask is the name of the burn_in_tasks generator.
	BurnInTasksTask = "burn_in_tasks_gen"
	// MultiversionBinarySelection selects the multiversion binaries that
	// multiversion sub-tasks depend on.
	MultiversionBinarySelection = "select_multiversion_binaries"
)

// Vars read from generator task definitions.
const (
	// IsFuzzerVar indicates a generator parent is a fuzzer.
	IsFuzzerVar = "is_jstestfuzz"
	// UseLargeDistroVar requests that sub-tasks run on the large distro.
	UseLargeDistroVar = "use_large_distro"
	// NumFuzzerFilesVar is the number of files each fuzzer sub-task generates.
	NumFuzzerFilesVar = "num_files"
	// NumFuzzerTasksVar is the number of fuzzer sub-tasks to generate.
	NumFuzzerTasksVar = "num_tasks"
)

// Parameters passed to generated sub-tasks.
const (
	RequireMultiversionSetupVar = "require_multiversion_setup"
	ResmokeArgsVar              = "resmoke_args"
	SuiteNameVar                = "suite"
	GenTaskConfigLocationVar    = "gen_task_config_location"
	ResmokeJobsMaxVar           = "resmoke_jobs_max"
	RepeatSuitesVar             = "resmoke_repeat_suites"
	NpmCommandVar               = "npm_command"
	FuzzerParametersVar         = "jstestfuzz_vars"
	ContinueOnFailureVar        = "continue_on_failure"
	ShouldShuffleTestsVar       = "should_shuffle"
	TaskNameVar                 = "task"
	IdleTimeoutVar              = "timeout_secs"
	MultiversionExcludeTagsVar  = "multiversion_exclude_tags_version"
)

// Build variant expansions.
const (
	// LargeDistroExpansion names the large distro for a build variant.
	LargeDistroExpansion = "large_distro_name"
	// BurnInTagIncludeBuildVariants lists variants to generate burn_in_tags for.
	BurnInTagIncludeBuildVariants = "burn_in_tag_include_build_variants"
	// BurnInTagIncludeAllRequiredAndSuggested includes every required and
	// suggested build variant in burn_in_tags generation.
	BurnInTagIncludeAllRequiredAndSuggested = "burn_in_tag_include_all_required_and_suggested"
	// BurnInTagExcludeBuildVariants lists variants excluded from burn_in_tags.
	BurnInTagExcludeBuildVariants = "burn_in_tag_exclude_build_variants"
	// BurnInTagCompileTaskDependency names the compile task generated burn_in
	// variants depend on.
	BurnInTagCompileTaskDependency = "burn_in_tag_compile_task_dependency"
	// BurnInBypassExpansion names the build variant burn_in timeouts come from.
	BurnInBypassExpansion = "burn_in_bypass"
	// BurnInTaskNameExpansion lists the tasks to burn in.
	BurnInTaskNameExpansion = "burn_in_task_name"
	// LastVersionsExpansion overrides last_versions from the multiversion config.
	LastVersionsExpansion = "last_versions"
)

// Task tags.
const (
	// MultiversionTag marks a task as needing multiversion setup.
	MultiversionTag = "multiversion"
	// NoMultiversionGenerateTasksTag suppresses multiversion fan-out.
	NoMultiversionGenerateTasksTag = "no_multiversion_generate_tasks"
	// BackportRequiredTag marks a task as requiring a backport.
	BackportRequiredTag = "backport_required_multiversion"
	// MultiversionIncompatibleTag marks a task as multiversion incompatible.
	MultiversionIncompatibleTag = "multiversion_incompatible"
	// MultiversionLastLTS names the last-lts multiversion configuration.
	MultiversionLastLTS = "last_lts"
	// MultiversionLastContinuous names the last-continuous multiversion
	// configuration.
	MultiversionLastContinuous = "last_continuous"
)

// Distro platform groups.
const (
	PlatformWindows = "windows"
	PlatformMacOS   = "macos"
	PlatformLinux   = "linux"
)
