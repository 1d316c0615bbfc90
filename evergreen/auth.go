package evergreen

import (
	"os"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// AuthConfig carries the object-store credentials the task-history client
// uses, read from the auth file passed on the command line.
type AuthConfig struct {
	// Key is the AWS access key id.
	Key string `yaml:"key"`
	// Secret is the AWS secret access key.
	Secret string `yaml:"secret"`
	// Region is the region the test stats bucket lives in.
	Region string `yaml:"region"`
}

// LoadAuthConfig reads object-store credentials from the given YAML file.
func LoadAuthConfig(path string) (*AuthConfig, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading auth file '%s'", path)
	}
	auth := &AuthConfig{}
	if err := yaml.Unmarshal(contents, auth); err != nil {
		return nil, errors.Wrapf(err, "parsing auth file '%s'", path)
	}
	if auth.Region == "" {
		auth.Region = "us-east-1"
	}
	return auth, nil
}
