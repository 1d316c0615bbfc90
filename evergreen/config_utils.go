package evergreen

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/evergreen-ci/mongo-task-generator/util"
	"github.com/evergreen-ci/utility"
)

// expansionRe matches run-var values of the form "${id|default}".
var expansionRe = regexp.MustCompile(`\$\{(?P<id>[a-zA-Z0-9_]+)(\|(?P<default>.*))?}`)

// enterpriseOffRe matches expansion values that disable enterprise tests.
var enterpriseOffRe = regexp.MustCompile(`--enableEnterpriseTests\s*=?\s*off`)

// ConfigMissingError indicates a required var was absent from a generator
// task definition.
type ConfigMissingError struct {
	TaskName string
	Key      string
}

func (e *ConfigMissingError) Error() string {
	return fmt.Sprintf("missing var '%s' for task '%s'", e.Key, e.TaskName)
}

// ConfigParseError indicates a var was present but could not be converted to
// the requested type.
type ConfigParseError struct {
	TaskName string
	Key      string
	Value    string
	Kind     string
}

func (e *ConfigParseError) Error() string {
	return fmt.Sprintf("var '%s' for task '%s' is not a valid %s: '%s'", e.Key, e.TaskName, e.Kind, e.Value)
}

// MultiversionGenerateTaskConfig is a multiversion sub-suite declared by an
// "initialize multiversion tasks" call: the sub-suite name paired with the
// previous-release tag it runs against.
type MultiversionGenerateTaskConfig struct {
	SuiteName  string
	OldVersion string
}

// HasTag checks whether the task carries the given tag.
func (t *Task) HasTag(tag string) bool {
	return utility.StringSliceContains(t.Tags, tag)
}

// findFunctionVars returns the vars of the first call to the named function
// in the task's command list.
func (t *Task) findFunctionVars(fn string) (map[string]interface{}, bool) {
	for _, cmd := range t.Commands {
		if cmd.Func == fn {
			return cmd.Vars, true
		}
	}
	return nil, false
}

// IsGenerated checks whether the task is a generator parent.
func (t *Task) IsGenerated() bool {
	_, ok := t.findFunctionVars(GenerateResmokeTasks)
	return ok
}

// IsFuzzer checks whether the task generates fuzzer sub-tasks.
func (t *Task) IsFuzzer() bool {
	value, _ := t.GetGenTaskVar(IsFuzzerVar)
	return value == "true"
}

// GenTaskVars returns every var on the task's "generate resmoke tasks" call.
func (t *Task) GenTaskVars() (map[string]interface{}, bool) {
	return t.findFunctionVars(GenerateResmokeTasks)
}

// GetGenTaskVar looks up a var on the task's "generate resmoke tasks" call.
func (t *Task) GetGenTaskVar(name string) (string, bool) {
	vars, ok := t.findFunctionVars(GenerateResmokeTasks)
	if !ok {
		return "", false
	}
	value, ok := vars[name]
	if !ok {
		return "", false
	}
	return varToString(value), true
}

// FindSuiteName determines the resmoke suite a task runs: the "suite" var on
// its generate or run-tests call, falling back to the task name with any
// "_gen" suffix stripped.
func (t *Task) FindSuiteName() string {
	for _, fn := range []string{GenerateResmokeTasks, RunResmokeTests} {
		if vars, ok := t.findFunctionVars(fn); ok {
			if suite, ok := vars[SuiteNameVar]; ok {
				return varToString(suite)
			}
		}
	}
	return util.RemoveGenSuffix(t.Name)
}

// MultiversionGenerateTasks collects the multiversion sub-suites declared on
// the task's "initialize multiversion tasks" call. The declarations are
// returned sorted by suite name so generation is deterministic.
func (t *Task) MultiversionGenerateTasks() []MultiversionGenerateTaskConfig {
	vars, ok := t.findFunctionVars(InitializeMultiversionTasks)
	if !ok {
		return nil
	}
	var configs []MultiversionGenerateTaskConfig
	for suite, oldVersion := range vars {
		configs = append(configs, MultiversionGenerateTaskConfig{
			SuiteName:  suite,
			OldVersion: varToString(oldVersion),
		})
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].SuiteName < configs[j].SuiteName })
	return configs
}

// GetRequiredVar looks up a generator var that must be present.
func (t *Task) GetRequiredVar(key string) (string, error) {
	value, ok := t.GetGenTaskVar(key)
	if !ok {
		return "", &ConfigMissingError{TaskName: t.Name, Key: key}
	}
	return value, nil
}

// GetDefaultVar looks up a generator var, substituting the given default when
// it is absent.
func (t *Task) GetDefaultVar(key, defaultValue string) string {
	if value, ok := t.GetGenTaskVar(key); ok {
		return value
	}
	return defaultValue
}

// GetRequiredVarU64 looks up a generator var that must be present and parse
// as an unsigned integer.
func (t *Task) GetRequiredVarU64(key string) (uint64, error) {
	value, err := t.GetRequiredVar(key)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, &ConfigParseError{TaskName: t.Name, Key: key, Value: value, Kind: "u64"}
	}
	return parsed, nil
}

// GetOptionalVarU64 looks up a generator var that parses as an unsigned
// integer when present.
func (t *Task) GetOptionalVarU64(key string) (*uint64, error) {
	value, ok := t.GetGenTaskVar(key)
	if !ok {
		return nil, nil
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return nil, &ConfigParseError{TaskName: t.Name, Key: key, Value: value, Kind: "u64"}
	}
	return &parsed, nil
}

// GetRequiredVarBool looks up a generator var that must be present and parse
// as a boolean.
func (t *Task) GetRequiredVarBool(key string) (bool, error) {
	value, err := t.GetRequiredVar(key)
	if err != nil {
		return false, err
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, &ConfigParseError{TaskName: t.Name, Key: key, Value: value, Kind: "bool"}
	}
	return parsed, nil
}

// GetDefaultVarBool looks up a boolean generator var, substituting the given
// default when it is absent.
func (t *Task) GetDefaultVarBool(key string, defaultValue bool) (bool, error) {
	value, ok := t.GetGenTaskVar(key)
	if !ok {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, &ConfigParseError{TaskName: t.Name, Key: key, Value: value, Kind: "bool"}
	}
	return parsed, nil
}

// GetExpansion looks up an expansion on the build variant.
func (bv *BuildVariant) GetExpansion(name string) (string, bool) {
	value, ok := bv.Expansions[name]
	return value, ok
}

// IsEnterprise checks whether the build variant activates the enterprise
// module. A variant counts as enterprise unless one of its expansion values
// explicitly turns enterprise tests off.
func (bv *BuildVariant) IsEnterprise() bool {
	for _, value := range bv.Expansions {
		if enterpriseOffRe.MatchString(value) {
			return false
		}
	}
	return true
}

// Platform infers the platform group of the build variant from the first
// distro it runs on.
func (bv *BuildVariant) Platform() string {
	if len(bv.RunOn) > 0 {
		distro := strings.ToLower(bv.RunOn[0])
		if strings.Contains(distro, PlatformMacOS) {
			return PlatformMacOS
		}
		if strings.Contains(distro, PlatformWindows) {
			return PlatformWindows
		}
	}
	return PlatformLinux
}

// TranslateRunVar resolves a run-var value against the build variant's
// expansions. A value of the form "${id|default}" resolves to the expansion
// of id when set, else the default when one is given; a plain string resolves
// to itself.
func TranslateRunVar(runVar string, bv *BuildVariant) (string, bool) {
	match := expansionRe.FindStringSubmatch(runVar)
	if match == nil {
		return runVar, true
	}
	if value, ok := bv.GetExpansion(match[1]); ok {
		return value, true
	}
	if match[2] != "" {
		return match[3], true
	}
	return "", false
}

// GatherBurnInTagBuildVariants resolves the set of build variants that
// burn_in_tags generation should cover for the given base variant.
func GatherBurnInTagBuildVariants(base *BuildVariant, bvMap map[string]*BuildVariant) []string {
	var included []string
	if list, ok := base.GetExpansion(BurnInTagIncludeBuildVariants); ok {
		included = strings.Fields(list)
	}

	if value, ok := base.GetExpansion(BurnInTagIncludeAllRequiredAndSuggested); ok {
		if parsed, err := strconv.ParseBool(value); err == nil && parsed {
			var names []string
			for name, bv := range bvMap {
				if strings.HasPrefix(bv.DisplayName, "!") || strings.HasPrefix(bv.DisplayName, "*") {
					names = append(names, name)
				}
			}
			sort.Strings(names)
			included = append(included, names...)
		}
	}

	var excluded []string
	if list, ok := base.GetExpansion(BurnInTagExcludeBuildVariants); ok {
		excluded = strings.Fields(list)
	}

	var variants []string
	for _, name := range included {
		if utility.StringSliceContains(excluded, name) || utility.StringSliceContains(variants, name) {
			continue
		}
		variants = append(variants, name)
	}
	return variants
}

// varToString renders a YAML var value the way it would appear in a task's
// run-vars.
func varToString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
