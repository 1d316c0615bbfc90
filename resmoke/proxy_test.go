package resmoke

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSuite(t *testing.T) {
	t.Run("PlainSuitePassesThrough", func(t *testing.T) {
		proxy := NewResmokeProxy("python buildscripts/resmoke.py")
		resolved, err := proxy.resolveSuite("core")
		require.NoError(t, err)
		assert.Equal(t, "core", resolved)
	})

	t.Run("BazelLabelResolvesToConfigPath", func(t *testing.T) {
		proxy := NewResmokeProxyWithBazelTargets("python buildscripts/resmoke.py", map[string]string{
			"//buildscripts/resmokeconfig:core": "buildscripts/resmokeconfig/suites/core.yml",
		})
		resolved, err := proxy.resolveSuite("//buildscripts/resmokeconfig:core")
		require.NoError(t, err)
		assert.Equal(t, "buildscripts/resmokeconfig/suites/core.yml", resolved)
	})

	t.Run("UnknownBazelLabelIsAnError", func(t *testing.T) {
		proxy := NewResmokeProxy("python buildscripts/resmoke.py")
		_, err := proxy.resolveSuite("//buildscripts/resmokeconfig:missing")
		assert.Error(t, err)
	})
}

func TestCommandSplitting(t *testing.T) {
	proxy := NewResmokeProxy("python buildscripts/resmoke.py")
	assert.Equal(t, []string{"python", "buildscripts/resmoke.py"}, proxy.cmd)

	burnIn := NewBurnInProxy("python buildscripts/burn_in_tests.py run", "etc/evergreen.yml")
	assert.Equal(t, []string{"python", "buildscripts/burn_in_tests.py", "run"}, burnIn.cmd)
	assert.Equal(t, "etc/evergreen.yml", burnIn.evgProjectFile)
}

func TestSubprocessErrorFormatting(t *testing.T) {
	err := &SubprocessError{Command: "python resmoke.py test-discovery", ExitCode: 2, Stderr: "boom\n"}
	assert.Contains(t, err.Error(), "python resmoke.py test-discovery")
	assert.Contains(t, err.Error(), "exit code 2")
	assert.Contains(t, err.Error(), "boom")
}
