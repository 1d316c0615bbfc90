package resmoke

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/evergreen-ci/utility"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// TestDiscovery queries details about test suites from resmoke.
type TestDiscovery interface {
	// DiscoverTests returns the tests belonging to the given suite.
	DiscoverTests(ctx context.Context, suiteName string) ([]string, error)

	// GetSuiteConfig returns the resmoke configuration of the given suite.
	GetSuiteConfig(ctx context.Context, suiteName string) (*SuiteConfig, error)

	// GetMultiversionConfig returns the multiversion configuration to
	// generate against.
	GetMultiversionConfig(ctx context.Context) (*MultiversionConfig, error)
}

// MultiversionConfig is resmoke's multiversion configuration.
type MultiversionConfig struct {
	// LastVersions are the previous MongoDB release series to test against.
	LastVersions []string `yaml:"last_versions"`
	// RequiresFcvTag lists the fcv tags excluded by default.
	RequiresFcvTag string `yaml:"requires_fcv_tag"`
	// RequiresFcvTagLts lists the fcv tags for last-lts testing.
	RequiresFcvTagLts string `yaml:"requires_fcv_tag_lts"`
	// RequiresFcvTagContinuous lists the fcv tags for last-continuous testing.
	RequiresFcvTagContinuous string `yaml:"requires_fcv_tag_continuous"`
}

// testDiscoveryOutput is the shape of resmoke's test-discovery output.
type testDiscoveryOutput struct {
	SuiteName string   `yaml:"suite_name"`
	Tests     []string `yaml:"tests"`
}

// ResmokeProxy implements TestDiscovery by shelling out to resmoke.
type ResmokeProxy struct {
	cmd []string
	// bazelSuiteConfigs maps bazel target labels to the suite config files
	// they produce. Suites named by a "//" label are resolved through it.
	bazelSuiteConfigs map[string]string
}

// NewResmokeProxy creates a proxy that invokes the given resmoke command
// line, e.g. "python buildscripts/resmoke.py".
func NewResmokeProxy(resmokeCmd string) *ResmokeProxy {
	return &ResmokeProxy{cmd: strings.Fields(resmokeCmd)}
}

// NewResmokeProxyWithBazelTargets creates a proxy that additionally resolves
// bazel target labels to suite config file paths.
func NewResmokeProxyWithBazelTargets(resmokeCmd string, bazelSuiteConfigs map[string]string) *ResmokeProxy {
	proxy := NewResmokeProxy(resmokeCmd)
	proxy.bazelSuiteConfigs = bazelSuiteConfigs
	return proxy
}

// resolveSuite maps a suite identifier to the name resmoke should be queried
// with. Bazel-style labels are substituted with their config file path.
func (p *ResmokeProxy) resolveSuite(suiteName string) (string, error) {
	if !strings.HasPrefix(suiteName, "//") {
		return suiteName, nil
	}
	path, ok := p.bazelSuiteConfigs[suiteName]
	if !ok {
		return "", errors.Errorf("no suite config known for bazel target '%s'", suiteName)
	}
	return path, nil
}

// DiscoverTests returns the tests belonging to the given suite, filtered to
// files that exist in the working tree.
func (p *ResmokeProxy) DiscoverTests(ctx context.Context, suiteName string) ([]string, error) {
	resolved, err := p.resolveSuite(suiteName)
	if err != nil {
		return nil, err
	}

	startAt := time.Now()
	args := append(append([]string{}, p.cmd...), "test-discovery", "--suite", resolved)
	output, err := runCommand(ctx, args)
	if err != nil {
		return nil, errors.Wrapf(err, "discovering tests for suite '%s'", suiteName)
	}
	grip.Info(message.Fields{
		"message":     "resmoke test discovery finished",
		"suite":       suiteName,
		"duration_ms": time.Since(startAt).Milliseconds(),
	})

	discovered := testDiscoveryOutput{}
	if err := yaml.Unmarshal(output, &discovered); err != nil {
		return nil, errors.Wrapf(err, "parsing test discovery output for suite '%s'", suiteName)
	}

	var tests []string
	for _, test := range discovered.Tests {
		if utility.FileExists(test) {
			tests = append(tests, test)
		}
	}
	return tests, nil
}

// GetSuiteConfig returns the resmoke configuration of the given suite.
func (p *ResmokeProxy) GetSuiteConfig(ctx context.Context, suiteName string) (*SuiteConfig, error) {
	resolved, err := p.resolveSuite(suiteName)
	if err != nil {
		return nil, err
	}

	args := append(append([]string{}, p.cmd...), "suiteconfig", "--suite", resolved)
	output, err := runCommand(ctx, args)
	if err != nil {
		return nil, errors.Wrapf(err, "getting suite config for '%s'", suiteName)
	}
	return ParseSuiteConfig(output)
}

// GetMultiversionConfig queries the multiversion configuration from resmoke.
func (p *ResmokeProxy) GetMultiversionConfig(ctx context.Context) (*MultiversionConfig, error) {
	outputFile, err := os.CreateTemp("", "multiversion-config-*.yml")
	if err != nil {
		return nil, errors.Wrap(err, "creating multiversion config output file")
	}
	outputPath := outputFile.Name()
	grip.Warning(message.WrapError(outputFile.Close(), message.Fields{
		"message": "closing multiversion config output file",
		"path":    outputPath,
	}))
	defer func() {
		grip.Warning(message.WrapError(os.Remove(outputPath), message.Fields{
			"message": "removing multiversion config output file",
			"path":    outputPath,
		}))
	}()

	args := append(append([]string{}, p.cmd...), "multiversion-config", "--config-file-output="+outputPath)
	if _, err := runCommand(ctx, args); err != nil {
		return nil, errors.Wrap(err, "querying multiversion config")
	}

	contents, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading multiversion config output")
	}
	config := &MultiversionConfig{}
	if err := yaml.Unmarshal(contents, config); err != nil {
		return nil, errors.Wrap(err, "parsing multiversion config")
	}
	return config, nil
}
