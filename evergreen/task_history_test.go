package evergreen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsHook(t *testing.T) {
	assert.False(t, isHook("some/random/test"))
	assert.True(t, isHook("some/random/test:hook1"))
}

func TestHookNameParsing(t *testing.T) {
	assert.Equal(t, "my_test", hookTestName("my_test:my_hook"))
	assert.Equal(t, "my_hook", hookHookName("my_test:my_hook"))
}

func TestNormalizeTestName(t *testing.T) {
	assert.Equal(t, "add1", NormalizeTestName("jstests/core/add1.js"))
	assert.Equal(t, "add1", NormalizeTestName(`jstests\core\add1.js`))
	assert.Equal(t, "add1", NormalizeTestName("jstests/core/add1"))
	assert.Equal(t, "add1", NormalizeTestName("add1.js"))
}

func TestBuildTaskHistory(t *testing.T) {
	stats := []TestStats{
		{TestName: "jstests/core/test_1.js", AvgDurationPass: 30},
		{TestName: `jstests\other\test_1.js`, AvgDurationPass: 12},
		{TestName: "jstests/core/test_2.js", AvgDurationPass: 60},
		{TestName: "test_1:CleanEveryN", AvgDurationPass: 5},
		{TestName: "test_1:CheckReplDBHash", AvgDurationPass: 2},
	}

	history := buildTaskHistory("my_task", stats)

	assert.Equal(t, "my_task", history.TaskName)
	require.Len(t, history.TestMap, 2)

	test1 := history.TestMap["test_1"]
	// Records normalizing to the same name are summed.
	assert.Equal(t, 42.0, test1.AverageRuntime)
	require.Len(t, test1.Hooks, 2)
	assert.Equal(t, "CleanEveryN", test1.Hooks[0].HookName)
	assert.Equal(t, 5.0, test1.Hooks[0].AverageRuntime)

	test2 := history.TestMap["test_2"]
	assert.Equal(t, 60.0, test2.AverageRuntime)
	assert.Empty(t, test2.Hooks)
}

func TestBuildTaskHistoryEmptyStats(t *testing.T) {
	history := buildTaskHistory("my_task", nil)
	assert.Empty(t, history.TestMap)
}
