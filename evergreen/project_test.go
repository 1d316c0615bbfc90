package evergreen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProjectYaml = `
buildvariants:
  - name: bv_1
    display_name: BV 1
    run_on:
      - rhel80-small
    tasks:
      - name: task_1
      - name: task_2_gen
  - name: bv_2-required
    display_name: "! BV 2"
    tasks:
      - name: task_1
tasks:
  - name: task_1
    commands:
      - func: "run tests"
  - name: task_2_gen
    commands:
      - func: "generate resmoke tasks"
        vars:
          suite: my_suite
modules:
  - name: enterprise
    repo: git@github.com:10gen/mongo-enterprise-modules.git
    prefix: src/mongo/db/modules
    branch: master
`

func TestNewProjectConfig(t *testing.T) {
	config, err := NewProjectConfig([]byte(sampleProjectYaml))
	require.NoError(t, err)

	t.Run("BuildVariantMap", func(t *testing.T) {
		bvMap := config.BuildVariantMap()
		require.Len(t, bvMap, 2)
		assert.Equal(t, "BV 1", bvMap["bv_1"].DisplayName)
		assert.Len(t, bvMap["bv_1"].Tasks, 2)
	})

	t.Run("TaskMap", func(t *testing.T) {
		taskMap := config.TaskMap()
		require.Len(t, taskMap, 2)
		assert.True(t, taskMap["task_2_gen"].IsGenerated())
		assert.False(t, taskMap["task_1"].IsGenerated())
	})

	t.Run("GetBuildVariant", func(t *testing.T) {
		bv, err := config.GetBuildVariant("bv_1")
		require.NoError(t, err)
		assert.Equal(t, "bv_1", bv.Name)

		_, err = config.GetBuildVariant("no_such_bv")
		assert.Error(t, err)
	})

	t.Run("RequiredVariantsSortFirst", func(t *testing.T) {
		order := config.SortBuildVariantsRequiredFirst()
		require.Len(t, order, 2)
		assert.Equal(t, "bv_2-required", order[0])
		assert.Equal(t, "bv_1", order[1])
	})

	t.Run("ModuleDir", func(t *testing.T) {
		dir, ok := config.ModuleDir("enterprise")
		require.True(t, ok)
		assert.Equal(t, "src/mongo/db/modules/enterprise", dir)

		_, ok = config.ModuleDir("no_such_module")
		assert.False(t, ok)
	})
}

func TestNewProjectConfigRejectsMalformedYaml(t *testing.T) {
	_, err := NewProjectConfig([]byte("buildvariants: {not: [valid"))
	assert.Error(t, err)
}
