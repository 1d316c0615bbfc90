package evergreen

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Expansions are the task expansions the generator runs under, read from the
// expansion file Evergreen writes for the generation task.
type Expansions struct {
	// Project is the Evergreen project identifier.
	Project string `yaml:"project"`
	// Revision is the git revision being run against.
	Revision string `yaml:"revision"`
	// TaskName is the name of the task doing the generation.
	TaskName string `yaml:"task_name"`
	// VersionID is the Evergreen version being run against.
	VersionID string `yaml:"version_id"`
	// IsPatch is "true" when running in a patch build.
	IsPatch string `yaml:"is_patch"`
	// RunCoveredTests is set when generation should target coverage runs.
	RunCoveredTests string `yaml:"run_covered_tests"`
}

// LoadExpansions reads task expansions from the given YAML file.
func LoadExpansions(path string) (*Expansions, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading expansion file '%s'", path)
	}
	expansions := &Expansions{}
	if err := yaml.Unmarshal(contents, expansions); err != nil {
		return nil, errors.Wrapf(err, "parsing expansion file '%s'", path)
	}
	return expansions, nil
}

// ConfigLocation is the S3 location the generated task configuration archive
// will be uploaded to; generated sub-tasks pull their configuration from it.
func (e *Expansions) ConfigLocation() string {
	return fmt.Sprintf("%s/%s/generate_tasks/generated-config-%s.tgz", e.Project, e.Revision, e.VersionID)
}
