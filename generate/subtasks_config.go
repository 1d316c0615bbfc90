package generate

import (
	"os"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// GenerateSubTasksConfig tweaks how sub-tasks get generated.
type GenerateSubTasksConfig struct {
	// BuildVariantLargeDistroExceptions lists build variants allowed to
	// request the large distro without defining one.
	BuildVariantLargeDistroExceptions []string `yaml:"build_variant_large_distro_exceptions"`
}

// LoadGenerateSubTasksConfig reads the sub-task generation config from the
// given YAML file.
func LoadGenerateSubTasksConfig(path string) (*GenerateSubTasksConfig, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading generate sub-tasks config '%s'", path)
	}
	config := &GenerateSubTasksConfig{}
	if err := yaml.Unmarshal(contents, config); err != nil {
		return nil, errors.Wrapf(err, "parsing generate sub-tasks config '%s'", path)
	}
	return config, nil
}

// IgnoreMissingLargeDistro checks whether the given build variant is exempt
// from defining a large distro. Safe to call on a nil config.
func (c *GenerateSubTasksConfig) IgnoreMissingLargeDistro(buildVariant string) bool {
	if c == nil {
		return false
	}
	for _, bv := range c.BuildVariantLargeDistroExceptions {
		if bv == buildVariant {
			return true
		}
	}
	return false
}
