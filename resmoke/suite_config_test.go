package resmoke

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSuiteYaml = `
test_kind: js_test

selector:
  roots:
    - jstests/auth/*.js
  exclude_files:
    - jstests/auth/repl.js

executor:
  config:
    shell_options:
      global_vars:
        TestData:
          roleGraphInvalidationIsFatal: true
      nodb: ''
`

func TestFixtureType(t *testing.T) {
	for _, test := range []struct {
		name     string
		fixture  string
		expected FixtureType
	}{
		{name: "NoFixtureIsShell", fixture: "", expected: FixtureShell},
		{name: "ShardedCluster", fixture: "  fixture:\n    class: ShardedClusterFixture\n    num_shards: 2\n", expected: FixtureShard},
		{name: "ReplicaSet", fixture: "  fixture:\n    class: ReplicaSetFixture\n    num_nodes: 3\n", expected: FixtureRepl},
		{name: "NoClassIsOther", fixture: "  fixture:\n    num_nodes: 3\n", expected: FixtureOther},
		{name: "UnknownClassIsOther", fixture: "  fixture:\n    class: StandaloneFixture\n", expected: FixtureOther},
	} {
		t.Run(test.name, func(t *testing.T) {
			config, err := ParseSuiteConfig([]byte(sampleSuiteYaml + test.fixture))
			require.NoError(t, err)

			fixtureType, err := config.FixtureType()
			require.NoError(t, err)
			assert.Equal(t, test.expected, fixtureType)
		})
	}
}

func TestFixtureTypeErrorsWithoutExecutor(t *testing.T) {
	config, err := ParseSuiteConfig([]byte("test_kind: js_test\nselector:\n  roots: []\n"))
	require.NoError(t, err)

	_, err = config.FixtureType()
	assert.Error(t, err)
}

func TestSubSuiteConfig(t *testing.T) {
	config, err := ParseSuiteConfig([]byte(sampleSuiteYaml))
	require.NoError(t, err)

	subSuite, err := config.SubSuiteConfig([]string{"jstests/auth/test_0.js", "jstests/auth/test_1.js"})
	require.NoError(t, err)

	out, err := subSuite.Bytes()
	require.NoError(t, err)
	rendered := string(out)

	assert.Contains(t, rendered, "jstests/auth/test_0.js")
	assert.Contains(t, rendered, "jstests/auth/test_1.js")
	assert.NotContains(t, rendered, "exclude_files")
	assert.NotContains(t, rendered, "jstests/auth/*.js")
	// Sections the rewrite does not touch survive untouched.
	assert.Contains(t, rendered, "roleGraphInvalidationIsFatal")
	assert.Contains(t, rendered, "test_kind: js_test")
}

func TestMiscConfig(t *testing.T) {
	config, err := ParseSuiteConfig([]byte(sampleSuiteYaml))
	require.NoError(t, err)

	misc, err := config.MiscConfig([]string{"jstests/auth/test_0.js"})
	require.NoError(t, err)

	out, err := misc.Bytes()
	require.NoError(t, err)
	rendered := string(out)

	// Origin roots are retained, excludes are appended to the existing list.
	assert.Contains(t, rendered, "jstests/auth/*.js")
	assert.Contains(t, rendered, "jstests/auth/repl.js")
	assert.Contains(t, rendered, "jstests/auth/test_0.js")
}

func TestMiscConfigWithoutExistingExcludes(t *testing.T) {
	config, err := ParseSuiteConfig([]byte("test_kind: js_test\nselector:\n  roots:\n    - jstests/core/*.js\n"))
	require.NoError(t, err)

	misc, err := config.MiscConfig([]string{"jstests/core/test_0.js"})
	require.NoError(t, err)

	out, err := misc.Bytes()
	require.NoError(t, err)
	assert.Contains(t, string(out), "jstests/core/test_0.js")
}

func TestRewriteDoesNotMutateOrigin(t *testing.T) {
	config, err := ParseSuiteConfig([]byte(sampleSuiteYaml))
	require.NoError(t, err)

	_, err = config.SubSuiteConfig([]string{"jstests/auth/test_0.js"})
	require.NoError(t, err)

	out, err := config.Bytes()
	require.NoError(t, err)
	assert.Contains(t, string(out), "jstests/auth/*.js")
	assert.Contains(t, string(out), "exclude_files")
}

func TestRoundTripPreservesKeyOrder(t *testing.T) {
	config, err := ParseSuiteConfig([]byte(sampleSuiteYaml))
	require.NoError(t, err)

	out, err := config.Bytes()
	require.NoError(t, err)

	rendered := string(out)
	assert.True(t, strings.Index(rendered, "test_kind") < strings.Index(rendered, "selector"))
	assert.True(t, strings.Index(rendered, "selector") < strings.Index(rendered, "executor"))
}
