package generate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evergreen-ci/mongo-task-generator/evergreen"
	"github.com/evergreen-ci/mongo-task-generator/resmoke"
)

const splitProjectYaml = `
buildvariants:
  - name: community-rhel80
    display_name: Community RHEL 8.0
    run_on:
      - rhel80-small
    expansions:
      test_flags: --enableEnterpriseTests=off
    tasks:
      - name: my_task_gen
  - name: enterprise-rhel80
    display_name: Enterprise RHEL 8.0
    run_on:
      - rhel80-small
    tasks:
      - name: my_task_gen
  - name: enterprise-suse
    display_name: Enterprise SUSE
    run_on:
      - suse15-small
    tasks:
      - name: my_task_gen
  - name: no-generators
    display_name: No generators
    run_on:
      - rhel80-small
    tasks:
      - name: compile
tasks:
  - name: my_task_gen
    commands:
      - func: generate resmoke tasks
        vars:
          suite: my_suite
  - name: compile
    commands: []
`

const fuzzerProjectYaml = `
buildvariants:
  - name: my-variant
    display_name: My Variant
    run_on:
      - rhel80-small
    expansions:
      test_flags: --enableEnterpriseTests=off
    tasks:
      - name: my_fuzzer_gen
tasks:
  - name: my_fuzzer_gen
    commands:
      - func: generate resmoke tasks
        vars:
          is_jstestfuzz: "true"
          suite: my_fuzzer_suite
          num_files: "50"
          num_tasks: "2"
          resmoke_args: --storageEngine=wiredTiger
          continue_on_failure: "true"
          resmoke_jobs_max: "1"
          should_shuffle: "true"
          timeout_secs: "1800"
`

const burnInProjectYaml = `
buildvariants:
  - name: my-variant
    display_name: My Variant
    run_on:
      - rhel80-small
    expansions:
      test_flags: --enableEnterpriseTests=off
    tasks:
      - name: burn_in_tests_gen
      - name: my_task_gen
tasks:
  - name: burn_in_tests_gen
    commands: []
  - name: my_task_gen
    commands:
      - func: generate resmoke tasks
        vars:
          suite: my_suite
`

const burnInTagsProjectYaml = `
buildvariants:
  - name: enterprise-rhel80
    display_name: Enterprise RHEL 8.0
    run_on:
      - rhel80-small
    tasks:
      - name: my_task_gen
  - name: burn-in-tags-runner
    display_name: Burn In Tags
    run_on:
      - rhel80-small
    expansions:
      burn_in_tag_include_build_variants: enterprise-rhel80
      burn_in_tag_compile_task_dependency: archive_dist_test
    tasks:
      - name: burn_in_tags_gen
tasks:
  - name: burn_in_tags_gen
    commands: []
  - name: my_task_gen
    commands:
      - func: generate resmoke tasks
        vars:
          suite: my_suite
`

const multiversionProjectYaml = `
buildvariants:
  - name: my-variant
    display_name: My Variant
    run_on:
      - rhel80-small
    expansions:
      test_flags: --enableEnterpriseTests=off
    tasks:
      - name: my_task_gen
tasks:
  - name: my_task_gen
    tags:
      - multiversion
    depends_on:
      - name: select_multiversion_binaries
    commands:
      - func: generate resmoke tasks
        vars:
          suite: my_suite
`

// writtenConfig is the shape of the combined document as this test reads it
// back.
type writtenConfig struct {
	BuildVariants []GeneratedVariant `json:"buildvariants"`
	Tasks         []struct {
		Name string `json:"name"`
	} `json:"tasks"`
}

type orchestratorHarness struct {
	service   *GenerateTasksService
	discovery *mockTestDiscovery
	targetDir string
}

func newOrchestratorHarness(t *testing.T, projectYaml string, burnInDiscovery *mockBurnInDiscovery, burnIn bool) *orchestratorHarness {
	t.Helper()
	ctx := context.Background()

	projectConfig, err := evergreen.NewProjectConfig([]byte(projectYaml))
	require.NoError(t, err)

	discovery := &mockTestDiscovery{
		tests: map[string][]string{
			"my_suite": {
				"jstests/core/test_a.js",
				"jstests/core/test_b.js",
				"jstests/core/test_c.js",
				"jstests/core/test_d.js",
			},
			"my_fuzzer_suite": {},
		},
		suiteYaml: shellSuiteYaml,
		mvConfig:  defaultMvConfig(),
	}

	targetDir := t.TempDir()
	writers := NewWriterPool(ctx, discovery, targetDir, 2)
	t.Cleanup(writers.Close)

	multiversion, err := NewMultiversionService(ctx, discovery)
	require.NoError(t, err)

	extraction := NewConfigExtractionService(nil, "project/abc123/config.tgz", "version_gen")
	resmokeGen := NewGenResmokeTaskService(&mockTaskHistory{}, discovery, multiversion, writers,
		GenResmokeConfig{UseTaskSplitFallback: true, MaxSubTasksPerTask: 2})
	fuzzerGen := NewGenFuzzerTaskService(multiversion)
	burnInService := NewBurnInService(burnInDiscovery, extraction, multiversion)

	service := NewGenerateTasksService(projectConfig, extraction, resmokeGen, fuzzerGen, burnInService, writers,
		GenerateTasksConfig{TargetDirectory: targetDir, BurnIn: burnIn})

	return &orchestratorHarness{service: service, discovery: discovery, targetDir: targetDir}
}

func (h *orchestratorHarness) readConfig(t *testing.T) writtenConfig {
	t.Helper()
	contents, err := os.ReadFile(filepath.Join(h.targetDir, "evergreen_config.json"))
	require.NoError(t, err)
	config := writtenConfig{}
	require.NoError(t, json.Unmarshal(contents, &config))
	return config
}

func (h *orchestratorHarness) taskNames(t *testing.T) []string {
	t.Helper()
	config := h.readConfig(t)
	names := make([]string, 0, len(config.Tasks))
	for _, task := range config.Tasks {
		names = append(names, task.Name)
	}
	return names
}

func findVariant(t *testing.T, config writtenConfig, name string) GeneratedVariant {
	t.Helper()
	for _, variant := range config.BuildVariants {
		if variant.Name == name {
			return variant
		}
	}
	t.Fatalf("build variant '%s' not in generated config", name)
	return GeneratedVariant{}
}

func TestGenerateConfiguration(t *testing.T) {
	ctx := context.Background()

	t.Run("EnterpriseAndCommunityExpandOnceEach", func(t *testing.T) {
		harness := newOrchestratorHarness(t, splitProjectYaml, &mockBurnInDiscovery{}, false)
		require.NoError(t, harness.service.GenerateConfiguration(ctx))

		// Three variants reference the parent, but only one enterprise and
		// one community expansion run.
		assert.Equal(t, 2, harness.discovery.timesDiscovered())

		names := harness.taskNames(t)
		assert.ElementsMatch(t, []string{
			"my_task_0", "my_task_1", "my_task_misc",
			"my_task_0-enterprise", "my_task_1-enterprise", "my_task_misc-enterprise",
		}, names)
	})

	t.Run("VariantsReferenceTheirOwnExpansion", func(t *testing.T) {
		harness := newOrchestratorHarness(t, splitProjectYaml, &mockBurnInDiscovery{}, false)
		require.NoError(t, harness.service.GenerateConfiguration(ctx))

		config := harness.readConfig(t)
		require.Len(t, config.BuildVariants, 3)
		assert.Equal(t, "community-rhel80", config.BuildVariants[0].Name)
		assert.Equal(t, "enterprise-rhel80", config.BuildVariants[1].Name)
		assert.Equal(t, "enterprise-suse", config.BuildVariants[2].Name)

		community := findVariant(t, config, "community-rhel80")
		require.NotNil(t, community.Activate)
		assert.False(t, *community.Activate)
		require.Len(t, community.Tasks, 3)
		assert.Equal(t, "my_task_0", community.Tasks[0].Name)
		require.NotNil(t, community.Tasks[0].Activate)
		assert.False(t, *community.Tasks[0].Activate)

		enterprise := findVariant(t, config, "enterprise-rhel80")
		require.Len(t, enterprise.Tasks, 3)
		assert.Equal(t, "my_task_0-enterprise", enterprise.Tasks[0].Name)

		require.Len(t, community.DisplayTasks, 2)
		assert.Equal(t, "my_task", community.DisplayTasks[0].Name)
		assert.ElementsMatch(t, []string{"my_task_0", "my_task_1", "my_task_misc"},
			community.DisplayTasks[0].ExecutionTasks)
		assert.Equal(t, "generator_tasks", community.DisplayTasks[1].Name)
		assert.Equal(t, []string{"my_task_gen"}, community.DisplayTasks[1].ExecutionTasks)
	})

	t.Run("VariantWithoutGeneratorsIsOmitted", func(t *testing.T) {
		harness := newOrchestratorHarness(t, splitProjectYaml, &mockBurnInDiscovery{}, false)
		require.NoError(t, harness.service.GenerateConfiguration(ctx))

		config := harness.readConfig(t)
		for _, variant := range config.BuildVariants {
			assert.NotEqual(t, "no-generators", variant.Name)
		}
	})

	t.Run("FuzzerParentsRouteToFuzzerGeneration", func(t *testing.T) {
		harness := newOrchestratorHarness(t, fuzzerProjectYaml, &mockBurnInDiscovery{}, false)
		require.NoError(t, harness.service.GenerateConfiguration(ctx))

		names := harness.taskNames(t)
		assert.ElementsMatch(t, []string{"my_fuzzer_0", "my_fuzzer_1"}, names)

		contents, err := os.ReadFile(filepath.Join(harness.targetDir, "evergreen_config.json"))
		require.NoError(t, err)
		assert.Contains(t, string(contents), "run jstestfuzz")
		assert.Contains(t, string(contents), "setup jstestfuzz")
	})

	t.Run("BurnInModeGeneratesOnlyBurnIn", func(t *testing.T) {
		burnInDiscovery := &mockBurnInDiscovery{tasks: map[string][]resmoke.DiscoveredTask{
			"my-variant": {{TaskName: "my_task_gen", TestList: []string{"jstests/core/test_a.js"}}},
		}}
		harness := newOrchestratorHarness(t, burnInProjectYaml, burnInDiscovery, true)
		require.NoError(t, harness.service.GenerateConfiguration(ctx))

		names := harness.taskNames(t)
		assert.Equal(t, []string{"burn_in:my_task-my-variant-0"}, names)

		config := harness.readConfig(t)
		variant := findVariant(t, config, "my-variant")
		require.Len(t, variant.DisplayTasks, 2)
		assert.Equal(t, "burn_in_tests", variant.DisplayTasks[0].Name)
		assert.Equal(t, "generator_tasks", variant.DisplayTasks[1].Name)
		assert.Equal(t, []string{"burn_in_tests_gen"}, variant.DisplayTasks[1].ExecutionTasks)
	})

	t.Run("RegularModeSkipsBurnInGenerators", func(t *testing.T) {
		harness := newOrchestratorHarness(t, burnInProjectYaml, &mockBurnInDiscovery{}, false)
		require.NoError(t, harness.service.GenerateConfiguration(ctx))

		names := harness.taskNames(t)
		assert.ElementsMatch(t, []string{"my_task_0", "my_task_1", "my_task_misc"}, names)
	})

	t.Run("BurnInTagsBuildsDerivedVariants", func(t *testing.T) {
		burnInDiscovery := &mockBurnInDiscovery{tasks: map[string][]resmoke.DiscoveredTask{
			"enterprise-rhel80": {{TaskName: "my_task_gen", TestList: []string{"jstests/core/test_a.js"}}},
		}}
		harness := newOrchestratorHarness(t, burnInTagsProjectYaml, burnInDiscovery, true)
		require.NoError(t, harness.service.GenerateConfiguration(ctx))

		config := harness.readConfig(t)
		derived := findVariant(t, config, "enterprise-rhel80-generated-by-burn-in-tags")
		assert.Equal(t, "! Enterprise RHEL 8.0", derived.DisplayName)
		assert.Equal(t, "enterprise-rhel80", derived.Expansions["burn_in_bypass"])
		require.NotEmpty(t, derived.Tasks)
		assert.Equal(t, "archive_dist_test", derived.Tasks[0].Name)
		assert.Equal(t, "burn_in:my_task-enterprise-rhel80-generated-by-burn-in-tags-0", derived.Tasks[1].Name)
	})

	t.Run("BurnInTagsWithoutCompileDependencyFails", func(t *testing.T) {
		projectYaml := `
buildvariants:
  - name: base-variant
    display_name: Base
    run_on:
      - rhel80-small
    tasks: []
  - name: burn-in-tags-runner
    display_name: Burn In Tags
    run_on:
      - rhel80-small
    expansions:
      burn_in_tag_include_build_variants: base-variant
    tasks:
      - name: burn_in_tags_gen
tasks:
  - name: burn_in_tags_gen
    commands: []
`
		harness := newOrchestratorHarness(t, projectYaml, &mockBurnInDiscovery{}, true)
		err := harness.service.GenerateConfiguration(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "burn_in_tag_compile_task_dependency")
	})

	t.Run("MultiversionVariantsGetBinarySelection", func(t *testing.T) {
		harness := newOrchestratorHarness(t, multiversionProjectYaml, &mockBurnInDiscovery{}, false)
		require.NoError(t, harness.service.GenerateConfiguration(ctx))

		config := harness.readConfig(t)
		variant := findVariant(t, config, "my-variant")
		require.NotEmpty(t, variant.Tasks)
		selection := variant.Tasks[len(variant.Tasks)-1]
		assert.Equal(t, "select_multiversion_binaries", selection.Name)
		require.NotNil(t, selection.Activate)
		assert.False(t, *selection.Activate)
	})

	t.Run("NoLeftoverTempFiles", func(t *testing.T) {
		harness := newOrchestratorHarness(t, splitProjectYaml, &mockBurnInDiscovery{}, false)
		require.NoError(t, harness.service.GenerateConfiguration(ctx))

		entries, err := os.ReadDir(harness.targetDir)
		require.NoError(t, err)
		for _, entry := range entries {
			assert.NotContains(t, entry.Name(), ".tmp-")
		}
	})
}
