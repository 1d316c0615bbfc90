package generate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yaml "gopkg.in/yaml.v2"

	"github.com/evergreen-ci/mongo-task-generator/util"
)

func suiteFilesMessage(taskName string) SuiteFilesMessage {
	return SuiteFilesMessage{
		TaskName:    taskName,
		OriginSuite: "my_suite",
		SubSuites: []SubSuite{
			{
				Index:    util.IntPtr(0),
				Name:     taskName + "_0",
				TestList: []string{"jstests/core/test_a.js"},
			},
			{
				Index:    util.IntPtr(1),
				Name:     taskName + "_1",
				TestList: []string{"jstests/core/test_b.js"},
			},
			{
				Name: taskName + "_misc",
			},
		},
	}
}

func TestWriterPool(t *testing.T) {
	ctx := context.Background()

	t.Run("WritesAllSubSuiteFiles", func(t *testing.T) {
		targetDir := t.TempDir()
		discovery := &mockTestDiscovery{suiteYaml: shellSuiteYaml, mvConfig: defaultMvConfig()}
		pool := NewWriterPool(ctx, discovery, targetDir, 3)
		defer pool.Close()

		require.NoError(t, pool.WriteSuiteFiles(ctx, suiteFilesMessage("task_one")))
		require.NoError(t, pool.WriteSuiteFiles(ctx, suiteFilesMessage("task_two")))
		require.NoError(t, pool.Flush(ctx))

		for _, name := range []string{
			"task_one_0.yml", "task_one_1.yml", "task_one_misc.yml",
			"task_two_0.yml", "task_two_1.yml", "task_two_misc.yml",
		} {
			_, err := os.Stat(filepath.Join(targetDir, name))
			assert.NoError(t, err, name)
		}
	})

	t.Run("SubSuiteFilesSelectTheirTests", func(t *testing.T) {
		targetDir := t.TempDir()
		discovery := &mockTestDiscovery{suiteYaml: shellSuiteYaml, mvConfig: defaultMvConfig()}
		pool := NewWriterPool(ctx, discovery, targetDir, 1)
		defer pool.Close()

		require.NoError(t, pool.WriteSuiteFiles(ctx, suiteFilesMessage("my_task")))
		require.NoError(t, pool.Flush(ctx))

		contents, err := os.ReadFile(filepath.Join(targetDir, "my_task_0.yml"))
		require.NoError(t, err)
		parsed := map[string]interface{}{}
		require.NoError(t, yaml.Unmarshal(contents, &parsed))
		assert.Contains(t, string(contents), "jstests/core/test_a.js")
		assert.NotContains(t, string(contents), "jstests/core/test_b.js")

		// The catch-all excludes every test the indexed sub-suites selected.
		miscContents, err := os.ReadFile(filepath.Join(targetDir, "my_task_misc.yml"))
		require.NoError(t, err)
		assert.Contains(t, string(miscContents), "exclude_files")
		assert.Contains(t, string(miscContents), "jstests/core/test_a.js")
		assert.Contains(t, string(miscContents), "jstests/core/test_b.js")
	})

	t.Run("FailuresSurfaceOnFlush", func(t *testing.T) {
		targetDir := t.TempDir()
		discovery := &mockTestDiscovery{
			suiteYaml: shellSuiteYaml,
			suiteErr:  errors.New("resmoke exploded"),
			mvConfig:  defaultMvConfig(),
		}
		pool := NewWriterPool(ctx, discovery, targetDir, 1)
		defer pool.Close()

		require.NoError(t, pool.WriteSuiteFiles(ctx, suiteFilesMessage("my_task")))
		err := pool.Flush(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ERROR: my_task")
		assert.Contains(t, err.Error(), "resmoke exploded")
	})

	t.Run("FlushWithNothingQueuedSucceeds", func(t *testing.T) {
		discovery := &mockTestDiscovery{suiteYaml: shellSuiteYaml, mvConfig: defaultMvConfig()}
		pool := NewWriterPool(ctx, discovery, t.TempDir(), 4)
		defer pool.Close()

		assert.NoError(t, pool.Flush(ctx))
	})
}
