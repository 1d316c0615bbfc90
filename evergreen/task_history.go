package evergreen

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/evergreen-ci/pail"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// hookDelimiter separates the test name from the hook name in stat records
// for hooks.
const hookDelimiter = ":"

// maxConcurrentFetches bounds the number of stats objects fetched from the
// store at once.
const maxConcurrentFetches = 20

// TestStats is one record of a task's historic stats object.
type TestStats struct {
	// TestName identifies the test, or "test:hook" for a hook.
	TestName string `json:"test_name"`
	// AvgDurationPass is the mean duration of passing runs, in seconds.
	AvgDurationPass float64 `json:"avg_duration_pass"`
}

// HookRuntimeHistory is the runtime history of a hook that ran with a test.
type HookRuntimeHistory struct {
	TestName       string
	HookName       string
	AverageRuntime float64
}

// TestRuntimeHistory is the runtime history of a single test.
type TestRuntimeHistory struct {
	TestName       string
	AverageRuntime float64
	Hooks          []HookRuntimeHistory
}

// TaskRuntimeHistory is the runtime history of all tests in a task, keyed by
// normalized test name.
type TaskRuntimeHistory struct {
	TaskName string
	TestMap  map[string]TestRuntimeHistory
}

// TaskHistoryService fetches historic test runtimes for tasks.
type TaskHistoryService interface {
	// GetTaskHistory returns the runtime history of the tests belonging to
	// the given task on the given build variant.
	GetTaskHistory(ctx context.Context, task string, variant string) (*TaskRuntimeHistory, error)
}

// s3TaskHistoryService reads per-task stats objects from an S3 bucket.
type s3TaskHistoryService struct {
	bucket  pail.Bucket
	project string
	sem     chan struct{}
}

// NewTaskHistoryService builds a task history service reading from the named
// bucket for the given Evergreen project.
func NewTaskHistoryService(auth *AuthConfig, bucketName string, project string) (TaskHistoryService, error) {
	opts := pail.S3Options{
		Name:   bucketName,
		Region: auth.Region,
	}
	if auth.Key != "" {
		opts.Credentials = pail.CreateAWSStaticCredentials(auth.Key, auth.Secret, "")
	}
	bucket, err := pail.NewS3Bucket(context.Background(), opts)
	if err != nil {
		return nil, errors.Wrapf(err, "creating S3 bucket client for '%s'", bucketName)
	}

	return NewTaskHistoryServiceWithBucket(bucket, project), nil
}

// NewTaskHistoryServiceWithBucket builds a task history service on top of an
// existing bucket.
func NewTaskHistoryServiceWithBucket(bucket pail.Bucket, project string) TaskHistoryService {
	return &s3TaskHistoryService{
		bucket:  bucket,
		project: project,
		sem:     make(chan struct{}, maxConcurrentFetches),
	}
}

// GetTaskHistory fetches and parses the stats object for the given task and
// build variant.
func (s *s3TaskHistoryService) GetTaskHistory(ctx context.Context, task string, variant string) (*TaskRuntimeHistory, error) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "waiting to fetch task history")
	}

	key := fmt.Sprintf("%s/%s/%s", s.project, variant, task)
	reader, err := s.bucket.Get(ctx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching task history for '%s'", key)
	}
	defer func() {
		grip.Warning(message.WrapError(reader.Close(), message.Fields{
			"message": "closing task history object",
			"key":     key,
		}))
	}()

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrapf(err, "reading task history for '%s'", key)
	}

	stats := []TestStats{}
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, errors.Wrapf(err, "parsing task history for '%s'", key)
	}

	return buildTaskHistory(task, stats), nil
}

// buildTaskHistory splits stat records into tests and hooks and attaches the
// hooks to the tests they ran with.
func buildTaskHistory(task string, stats []TestStats) *TaskRuntimeHistory {
	hookMap := gatherHookStats(stats)
	return &TaskRuntimeHistory{
		TaskName: task,
		TestMap:  gatherTestStats(stats, hookMap),
	}
}

// gatherTestStats builds the map of normalized test name to runtime history.
// Multiple records normalizing to the same name are summed.
func gatherTestStats(stats []TestStats, hookMap map[string][]HookRuntimeHistory) map[string]TestRuntimeHistory {
	testMap := map[string]TestRuntimeHistory{}
	for _, stat := range stats {
		if isHook(stat.TestName) {
			continue
		}
		testName := NormalizeTestName(stat.TestName)
		if existing, ok := testMap[testName]; ok {
			existing.TestName = stat.TestName
			existing.AverageRuntime += stat.AvgDurationPass
			testMap[testName] = existing
		} else {
			testMap[testName] = TestRuntimeHistory{
				TestName:       stat.TestName,
				AverageRuntime: stat.AvgDurationPass,
				Hooks:          hookMap[testName],
			}
		}
	}
	return testMap
}

// gatherHookStats collects hook records keyed by the test they ran with.
func gatherHookStats(stats []TestStats) map[string][]HookRuntimeHistory {
	hookMap := map[string][]HookRuntimeHistory{}
	for _, stat := range stats {
		if !isHook(stat.TestName) {
			continue
		}
		testName := NormalizeTestName(hookTestName(stat.TestName))
		hookMap[testName] = append(hookMap[testName], HookRuntimeHistory{
			TestName:       testName,
			HookName:       hookHookName(stat.TestName),
			AverageRuntime: stat.AvgDurationPass,
		})
	}
	return hookMap
}

// isHook checks whether the stat identifier refers to a hook rather than a
// test.
func isHook(identifier string) bool {
	return strings.Contains(identifier, hookDelimiter)
}

// hookTestName extracts the test-name half of a hook identifier.
func hookTestName(identifier string) string {
	return strings.SplitN(identifier, hookDelimiter, 2)[0]
}

// hookHookName extracts the hook-name half of a hook identifier.
func hookHookName(identifier string) string {
	parts := strings.Split(identifier, hookDelimiter)
	return parts[len(parts)-1]
}

// NormalizeTestName canonicalizes path separators to '/', takes the base
// name, and strips a ".js" extension. Stats records and discovered test
// files both pass through this before lookup.
func NormalizeTestName(testFile string) string {
	name := strings.ReplaceAll(testFile, "\\", "/")
	parts := strings.Split(name, "/")
	return strings.TrimSuffix(parts[len(parts)-1], ".js")
}
