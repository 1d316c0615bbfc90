package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/evergreen-ci/utility"
	"github.com/pkg/errors"

	"github.com/evergreen-ci/mongo-task-generator/evergreen"
	"github.com/evergreen-ci/mongo-task-generator/resmoke"
)

// Mixed-version replica-set layouts by topology. Each entry positions the new
// binary within the cluster.
var (
	shardedLayouts    = []string{"new_old_old_new"}
	replicaSetLayouts = []string{"new_new_old", "new_old_new", "old_new_new"}
	shellLayouts      = []string{""}
)

// MultiversionCombo is one combination of an old release and a binary layout
// to generate a sub-task for.
type MultiversionCombo struct {
	// OldVersion is the previous release series, e.g. "last_lts".
	OldVersion string
	// Layout positions the binaries in the cluster; empty for topologies
	// with no layout dimension.
	Layout string
}

// MultiversionService determines which multiversion combinations a suite
// should be generated against and how to tag them.
type MultiversionService struct {
	discovery resmoke.TestDiscovery
	config    *resmoke.MultiversionConfig
}

// NewMultiversionService queries the multiversion configuration and builds a
// service around it.
func NewMultiversionService(ctx context.Context, discovery resmoke.TestDiscovery) (*MultiversionService, error) {
	config, err := discovery.GetMultiversionConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "getting multiversion config")
	}
	return &MultiversionService{discovery: discovery, config: config}, nil
}

// LastVersions returns the previous release series to generate against.
func (s *MultiversionService) LastVersions() []string {
	return s.config.LastVersions
}

// Layouts determines the binary layouts the given suite should be generated
// for, based on the fixture topology its executor runs.
func (s *MultiversionService) Layouts(ctx context.Context, suiteName string) ([]string, error) {
	config, err := s.discovery.GetSuiteConfig(ctx, suiteName)
	if err != nil {
		return nil, errors.Wrapf(err, "getting suite config for '%s'", suiteName)
	}
	fixtureType, err := config.FixtureType()
	if err != nil {
		return nil, errors.Wrapf(err, "determining fixture type for '%s'", suiteName)
	}

	switch fixtureType {
	case resmoke.FixtureShard:
		return shardedLayouts, nil
	case resmoke.FixtureRepl:
		return replicaSetLayouts, nil
	default:
		return shellLayouts, nil
	}
}

// Combos enumerates every old-version and layout combination for the given
// suite, iterating old versions in the given order. A nil version list uses
// the multiversion config's last_versions.
func (s *MultiversionService) Combos(ctx context.Context, suiteName string, lastVersions []string) ([]MultiversionCombo, error) {
	layouts, err := s.Layouts(ctx, suiteName)
	if err != nil {
		return nil, err
	}
	if len(lastVersions) == 0 {
		lastVersions = s.config.LastVersions
	}

	var combos []MultiversionCombo
	for _, oldVersion := range lastVersions {
		for _, layout := range layouts {
			combos = append(combos, MultiversionCombo{OldVersion: oldVersion, Layout: layout})
		}
	}
	return combos, nil
}

// FilterMultiversionGenerateTasks keeps only the declared multiversion
// sub-suites whose old version is among the versions being generated against.
// A nil version list uses the multiversion config's last_versions.
func (s *MultiversionService) FilterMultiversionGenerateTasks(
	configs []evergreen.MultiversionGenerateTaskConfig,
	lastVersions []string,
) []evergreen.MultiversionGenerateTaskConfig {
	if len(lastVersions) == 0 {
		lastVersions = s.config.LastVersions
	}
	var filtered []evergreen.MultiversionGenerateTaskConfig
	for _, config := range configs {
		if utility.StringSliceContains(lastVersions, config.OldVersion) {
			filtered = append(filtered, config)
		}
	}
	return filtered
}

// NameMultiversionSuite builds the name of a multiversion sub-suite from the
// base suite, the old version, and the layout; empty parts are skipped.
func NameMultiversionSuite(baseSuite, oldVersion, layout string) string {
	parts := []string{}
	for _, part := range []string{baseSuite, oldVersion, layout} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "_")
}

// ExcludeTags builds the tag list a multiversion sub-task should exclude when
// running against the given old version.
func (s *MultiversionService) ExcludeTags(taskName, oldVersion string) string {
	tags := []string{
		evergreen.MultiversionIncompatibleTag,
		evergreen.BackportRequiredTag,
		fmt.Sprintf("%s_%s", taskName, evergreen.BackportRequiredTag),
	}
	if fcvTag := s.fcvTag(oldVersion); fcvTag != "" {
		tags = append(tags, fcvTag)
	}
	return strings.Join(tags, ",")
}

// fcvTag picks the feature-compatibility-version tag matching the old
// version, falling back to the default when no version-specific tag is set.
func (s *MultiversionService) fcvTag(oldVersion string) string {
	switch oldVersion {
	case evergreen.MultiversionLastLTS:
		if s.config.RequiresFcvTagLts != "" {
			return s.config.RequiresFcvTagLts
		}
	case evergreen.MultiversionLastContinuous:
		if s.config.RequiresFcvTagContinuous != "" {
			return s.config.RequiresFcvTagContinuous
		}
	}
	return s.config.RequiresFcvTag
}
