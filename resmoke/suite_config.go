package resmoke

import (
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Fixture class names resmoke uses for sharded and replica-set topologies.
const (
	shardedClusterFixtureName = "ShardedClusterFixture"
	replicaSetFixtureName     = "ReplicaSetFixture"
)

// FixtureType classifies the topology a resmoke suite runs against.
type FixtureType string

const (
	// FixtureShell is a suite with no fixture defined.
	FixtureShell FixtureType = "shell"
	// FixtureRepl is a replica-set fixture.
	FixtureRepl FixtureType = "repl"
	// FixtureShard is a sharded-cluster fixture.
	FixtureShard FixtureType = "shard"
	// FixtureOther is any other fixture.
	FixtureOther FixtureType = "other"
)

// SuiteConfig is the configuration of a resmoke test suite. The document is
// kept as an ordered mapping so keys this tool does not understand survive a
// rewrite untouched.
type SuiteConfig struct {
	doc yaml.MapSlice
}

// ParseSuiteConfig reads a suite configuration from YAML.
func ParseSuiteConfig(contents []byte) (*SuiteConfig, error) {
	doc := yaml.MapSlice{}
	if err := yaml.Unmarshal(contents, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing suite config")
	}
	return &SuiteConfig{doc: doc}, nil
}

// Bytes serializes the suite configuration back to YAML.
func (c *SuiteConfig) Bytes() ([]byte, error) {
	out, err := yaml.Marshal(c.doc)
	return out, errors.Wrap(err, "serializing suite config")
}

// FixtureType determines the topology the suite's executor runs.
func (c *SuiteConfig) FixtureType() (FixtureType, error) {
	executorValue, ok := mapSliceGet(c.doc, "executor")
	if !ok {
		return "", errors.New("expected executor in suite config")
	}
	executor, ok := executorValue.(yaml.MapSlice)
	if !ok {
		return "", errors.New("expected map as executor")
	}

	fixtureValue, ok := mapSliceGet(executor, "fixture")
	if !ok {
		return FixtureShell, nil
	}
	fixture, ok := fixtureValue.(yaml.MapSlice)
	if !ok {
		return FixtureOther, nil
	}

	classValue, ok := mapSliceGet(fixture, "class")
	if !ok {
		return FixtureOther, nil
	}
	switch classValue {
	case shardedClusterFixtureName:
		return FixtureShard, nil
	case replicaSetFixtureName:
		return FixtureRepl, nil
	default:
		return FixtureOther, nil
	}
}

// SubSuiteConfig derives the configuration of a sub-suite running exactly the
// given tests: the selector's roots become the test list and any exclude list
// is dropped.
func (c *SuiteConfig) SubSuiteConfig(tests []string) (*SuiteConfig, error) {
	clone, err := c.clone()
	if err != nil {
		return nil, err
	}
	selector, err := clone.selector()
	if err != nil {
		return nil, err
	}

	selector = mapSliceDelete(selector, "root")
	selector = mapSliceDelete(selector, "exclude_files")
	selector = mapSliceSet(selector, "roots", toInterfaceSlice(tests))

	clone.doc = mapSliceSet(clone.doc, "selector", selector)
	return clone, nil
}

// MiscConfig derives the configuration of the catch-all sub-suite: the
// origin's roots are kept and every given test is appended to the selector's
// exclude list.
func (c *SuiteConfig) MiscConfig(excludedTests []string) (*SuiteConfig, error) {
	clone, err := c.clone()
	if err != nil {
		return nil, err
	}
	selector, err := clone.selector()
	if err != nil {
		return nil, err
	}

	excludes := []interface{}{}
	if existing, ok := mapSliceGet(selector, "exclude_files"); ok {
		if existingList, ok := existing.([]interface{}); ok {
			excludes = append(excludes, existingList...)
		}
	}
	excludes = append(excludes, toInterfaceSlice(excludedTests)...)
	selector = mapSliceSet(selector, "exclude_files", excludes)

	clone.doc = mapSliceSet(clone.doc, "selector", selector)
	return clone, nil
}

// selector returns the suite's selector section.
func (c *SuiteConfig) selector() (yaml.MapSlice, error) {
	value, ok := mapSliceGet(c.doc, "selector")
	if !ok {
		return nil, errors.New("expected selector in suite config")
	}
	selector, ok := value.(yaml.MapSlice)
	if !ok {
		return nil, errors.New("expected map as selector")
	}
	return selector, nil
}

// clone deep-copies the configuration through a marshal round trip.
func (c *SuiteConfig) clone() (*SuiteConfig, error) {
	contents, err := c.Bytes()
	if err != nil {
		return nil, err
	}
	return ParseSuiteConfig(contents)
}

func mapSliceGet(ms yaml.MapSlice, key string) (interface{}, bool) {
	for _, item := range ms {
		if item.Key == key {
			return item.Value, true
		}
	}
	return nil, false
}

func mapSliceSet(ms yaml.MapSlice, key string, value interface{}) yaml.MapSlice {
	for i, item := range ms {
		if item.Key == key {
			ms[i].Value = value
			return ms
		}
	}
	return append(ms, yaml.MapItem{Key: key, Value: value})
}

func mapSliceDelete(ms yaml.MapSlice, key string) yaml.MapSlice {
	for i, item := range ms {
		if item.Key == key {
			return append(ms[:i], ms[i+1:]...)
		}
	}
	return ms
}

func toInterfaceSlice(items []string) []interface{} {
	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	return out
}
