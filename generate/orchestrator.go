package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/evergreen-ci/shrub"
	"github.com/evergreen-ci/utility"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"

	"github.com/evergreen-ci/mongo-task-generator/evergreen"
	"github.com/evergreen-ci/mongo-task-generator/util"
)

// generatedConfigFile is the combined document handed to generate.tasks.
const generatedConfigFile = "evergreen_config.json"

// GenerateTasksConfig tweaks a generation run.
type GenerateTasksConfig struct {
	// TargetDirectory receives the suite files and the combined document.
	TargetDirectory string
	// BurnIn selects burn-in generation instead of regular generation.
	BurnIn bool
}

// GenerateTasksService orchestrates a full generation run: expanding every
// generator parent concurrently, then stitching the results into a combined
// configuration document.
type GenerateTasksService struct {
	projectConfig *evergreen.ProjectConfig
	extraction    *ConfigExtractionService
	resmokeGen    *GenResmokeTaskService
	fuzzerGen     *GenFuzzerTaskService
	burnIn        *BurnInService
	writers       *WriterPool
	config        GenerateTasksConfig
}

// NewGenerateTasksService builds an orchestrator over the given services.
func NewGenerateTasksService(
	projectConfig *evergreen.ProjectConfig,
	extraction *ConfigExtractionService,
	resmokeGen *GenResmokeTaskService,
	fuzzerGen *GenFuzzerTaskService,
	burnIn *BurnInService,
	writers *WriterPool,
	config GenerateTasksConfig,
) *GenerateTasksService {
	return &GenerateTasksService{
		projectConfig: projectConfig,
		extraction:    extraction,
		resmokeGen:    resmokeGen,
		fuzzerGen:     fuzzerGen,
		burnIn:        burnIn,
		writers:       writers,
		config:        config,
	}
}

// generatedTaskMap collects generated suites under their dedup key. Written
// concurrently during generation, read-only while stitching.
type generatedTaskMap struct {
	mu    sync.Mutex
	suite map[string]*GeneratedSuite
}

func (m *generatedTaskMap) put(key string, gen *GeneratedSuite) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suite[key] = gen
}

// GenerateConfiguration runs the full pipeline and writes the combined
// document. The writer pool is always flushed, even when generation fails, so
// write failures are never silently dropped.
func (s *GenerateTasksService) GenerateConfiguration(ctx context.Context) error {
	if err := os.MkdirAll(s.config.TargetDirectory, 0755); err != nil {
		return errors.Wrapf(err, "creating target directory '%s'", s.config.TargetDirectory)
	}

	catcher := grip.NewBasicCatcher()
	genMap, burnInTagsCompile, err := s.buildGeneratedTasks(ctx)
	catcher.Add(err)
	if err == nil {
		catcher.Add(s.writeGeneratedConfig(genMap, burnInTagsCompile))
	}
	catcher.Wrap(s.writers.Flush(ctx), "flushing suite file writers")
	return catcher.Resolve()
}

// buildGeneratedTasks is the generation pass: walk build variants in
// required-first order, expand each not-yet-seen generator parent on a
// concurrent worker, and collect the results under their dedup key.
func (s *GenerateTasksService) buildGeneratedTasks(ctx context.Context) (map[string]*GeneratedSuite, map[string]string, error) {
	bvMap := s.projectConfig.BuildVariantMap()
	taskMap := s.projectConfig.TaskMap()

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	genMap := &generatedTaskMap{suite: map[string]*GeneratedSuite{}}
	burnInTagsCompile := map[string]string{}
	seen := map[string]bool{}
	catcher := grip.NewBasicCatcher()
	wg := &sync.WaitGroup{}

	spawn := func(work func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := work(); err != nil {
				catcher.Add(err)
				cancel()
			}
		}()
	}

	for _, bvName := range s.projectConfig.SortBuildVariantsRequiredFirst() {
		bv := bvMap[bvName]
		for _, ref := range bv.Tasks {
			if isBurnInGenerator(ref.Name) {
				if s.config.BurnIn {
					if err := s.scheduleBurnIn(workCtx, spawn, ref.Name, bv, bvMap, taskMap, genMap, burnInTagsCompile); err != nil {
						catcher.Add(err)
					}
				}
				continue
			}
			if s.config.BurnIn {
				continue
			}

			key := dedupTaskName(bv.IsEnterprise(), ref.Name)
			if seen[key] {
				continue
			}
			seen[key] = true

			taskDef, ok := taskMap[ref.Name]
			if !ok || !taskDef.IsGenerated() {
				continue
			}
			spawn(func() error {
				gen, err := s.generateTask(workCtx, taskDef, bv)
				if err != nil {
					return err
				}
				genMap.put(key, gen)
				return nil
			})
		}
	}

	wg.Wait()
	if catcher.HasErrors() {
		return nil, nil, catcher.Resolve()
	}

	grip.Info(message.Fields{
		"message":         "finished generating task definitions",
		"generated_tasks": len(genMap.suite),
	})
	return genMap.suite, burnInTagsCompile, nil
}

// scheduleBurnIn queues the generation work for one burn-in generator
// reference.
func (s *GenerateTasksService) scheduleBurnIn(
	ctx context.Context,
	spawn func(func() error),
	refName string,
	bv *evergreen.BuildVariant,
	bvMap map[string]*evergreen.BuildVariant,
	taskMap map[string]*evergreen.Task,
	genMap *generatedTaskMap,
	burnInTagsCompile map[string]string,
) error {
	switch refName {
	case evergreen.BurnInTestsTask:
		spawn(func() error {
			gen, err := s.burnIn.GenerateBurnInSuite(ctx, bv, bv.Name, taskMap)
			if err != nil {
				return err
			}
			if len(gen.SubTasks) > 0 {
				genMap.put(burnInTestsKey(bv.Name), gen)
			}
			return nil
		})

	case evergreen.BurnInTasksTask:
		spawn(func() error {
			gen, err := s.burnIn.GenerateBurnInTasksSuite(ctx, bv, taskMap)
			if err != nil {
				return err
			}
			if len(gen.SubTasks) > 0 {
				genMap.put(burnInTasksKey(bv.Name), gen)
			}
			return nil
		})

	case evergreen.BurnInTagsTask:
		baseVariants := evergreen.GatherBurnInTagBuildVariants(bv, bvMap)
		if len(baseVariants) == 0 {
			return errors.Errorf("build variant '%s' has no '%s' expansion set, required to run '%s'",
				bv.Name, evergreen.BurnInTagIncludeBuildVariants, evergreen.BurnInTagsTask)
		}
		compileTask, ok := bv.GetExpansion(evergreen.BurnInTagCompileTaskDependency)
		if !ok {
			return errors.Errorf("build variant '%s' is missing the '%s' expansion, required to run '%s'",
				bv.Name, evergreen.BurnInTagCompileTaskDependency, evergreen.BurnInTagsTask)
		}
		for _, baseName := range baseVariants {
			baseBv, ok := bvMap[baseName]
			if !ok {
				return errors.Errorf("build variant '%s' references nonexistent build variant '%s' in its '%s' expansion",
					bv.Name, baseName, evergreen.BurnInTagIncludeBuildVariants)
			}
			if existing, ok := burnInTagsCompile[baseName]; ok && existing != compileTask {
				return errors.Errorf("conflicting '%s' values for build variant '%s'",
					evergreen.BurnInTagCompileTaskDependency, baseName)
			}
			burnInTagsCompile[baseName] = compileTask

			runVariant := burnInTagsVariantName(baseName)
			spawn(func() error {
				gen, err := s.burnIn.GenerateBurnInSuite(ctx, baseBv, runVariant, taskMap)
				if err != nil {
					return err
				}
				if len(gen.SubTasks) > 0 {
					genMap.put(burnInTestsKey(runVariant), gen)
				}
				return nil
			})
		}
	}
	return nil
}

// generateTask expands one generator parent on the given build variant.
func (s *GenerateTasksService) generateTask(ctx context.Context, taskDef *evergreen.Task, bv *evergreen.BuildVariant) (*GeneratedSuite, error) {
	if taskDef.IsFuzzer() {
		grip.Info(message.Fields{
			"message":       "generating fuzzer task",
			"task":          taskDef.Name,
			"build_variant": bv.Name,
		})
		params, err := s.extraction.FuzzerGenParams(taskDef, bv)
		if err != nil {
			return nil, err
		}
		return s.fuzzerGen.GenerateFuzzerTask(ctx, params)
	}

	grip.Info(message.Fields{
		"message":       "generating resmoke task",
		"task":          taskDef.Name,
		"build_variant": bv.Name,
		"enterprise":    bv.IsEnterprise(),
	})
	params, err := s.extraction.ResmokeGenParams(taskDef, bv)
	if err != nil {
		return nil, err
	}
	return s.resmokeGen.GenerateResmokeTask(ctx, params)
}

// writeGeneratedConfig is the stitching pass: rebuild every build variant's
// task references and display tasks from the generated suites and write the
// combined document.
func (s *GenerateTasksService) writeGeneratedConfig(genMap map[string]*GeneratedSuite, burnInTagsCompile map[string]string) error {
	bvMap := s.projectConfig.BuildVariantMap()

	var bvNames []string
	for name := range bvMap {
		bvNames = append(bvNames, name)
	}
	sort.Strings(bvNames)

	var variants []GeneratedVariant
	referenced := map[string]bool{}
	for _, bvName := range bvNames {
		bv := bvMap[bvName]
		variant := GeneratedVariant{Name: bv.Name, Activate: utility.FalsePtr()}
		var generatingTasks []string
		includesMultiversion := false

		for _, ref := range bv.Tasks {
			if ref.Name == evergreen.BurnInTagsTask {
				// The output of burn_in_tags lives on the derived
				// variants built below.
				if s.config.BurnIn {
					generatingTasks = append(generatingTasks, ref.Name)
				}
				continue
			}

			key := s.stitchKey(bv, ref.Name)
			gen, ok := genMap[key]
			if !ok {
				continue
			}

			distros, err := s.extraction.DetermineDistros(gen, bv)
			if err != nil {
				return err
			}
			dependsOn := taskRefDependencies(ref, gen)
			if gen.IsMultiversion() {
				includesMultiversion = true
			}

			generatingTasks = append(generatingTasks, ref.Name)
			referenced[key] = true
			variant.Tasks = append(variant.Tasks, gen.BuildTaskRefs(distros, dependsOn)...)
			variant.DisplayTasks = append(variant.DisplayTasks, gen.BuildDisplayTask())
		}

		if len(generatingTasks) == 0 {
			continue
		}

		if includesMultiversion {
			variant.Tasks = append(variant.Tasks, TaskRef{
				Name:     evergreen.MultiversionBinarySelection,
				Activate: utility.FalsePtr(),
			})
		}
		variant.DisplayTasks = append(variant.DisplayTasks, DisplayTask{
			Name:           evergreen.GeneratorTasks,
			ExecutionTasks: generatingTasks,
		})
		variants = append(variants, variant)
	}

	var baseNames []string
	for baseName := range burnInTagsCompile {
		baseNames = append(baseNames, baseName)
	}
	sort.Strings(baseNames)
	for _, baseName := range baseNames {
		runVariant := burnInTagsVariantName(baseName)
		key := burnInTestsKey(runVariant)
		gen, ok := genMap[key]
		if !ok {
			continue
		}
		referenced[key] = true
		variants = append(variants, *BuildBurnInTagsVariant(bvMap[baseName], runVariant, gen, burnInTagsCompile[baseName]))
	}

	config := GeneratedConfig{BuildVariants: variants}
	var keys []string
	for key := range genMap {
		if referenced[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		for _, subTask := range genMap[key].SubTasks {
			config.Tasks = append(config.Tasks, subTask.Task)
		}
	}

	return s.writeConfigFile(config)
}

// stitchKey maps a task reference back to the dedup key its generated suite
// was stored under.
func (s *GenerateTasksService) stitchKey(bv *evergreen.BuildVariant, refName string) string {
	switch refName {
	case evergreen.BurnInTestsTask:
		return burnInTestsKey(bv.Name)
	case evergreen.BurnInTasksTask:
		return burnInTasksKey(bv.Name)
	default:
		return dedupTaskName(bv.IsEnterprise(), refName)
	}
}

// writeConfigFile writes the combined document atomically.
func (s *GenerateTasksService) writeConfigFile(config GeneratedConfig) error {
	contents, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return errors.Wrap(err, "serializing generated configuration")
	}

	tmp, err := os.CreateTemp(s.config.TargetDirectory, generatedConfigFile+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "creating generated configuration file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(contents); err != nil {
		grip.Warning(message.WrapError(tmp.Close(), message.Fields{"message": "closing temp config file"}))
		return errors.Wrap(err, "writing generated configuration")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing generated configuration file")
	}

	finalPath := filepath.Join(s.config.TargetDirectory, generatedConfigFile)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return errors.Wrapf(err, "moving generated configuration to '%s'", finalPath)
	}

	grip.Info(message.Fields{
		"message": "wrote generated configuration",
		"path":    finalPath,
		"size":    len(contents),
	})
	return nil
}

// taskRefDependencies converts a reference's dependency overrides for the
// generated sub-tasks. Multiversion overrides additionally pick up the binary
// selection task.
func taskRefDependencies(ref evergreen.TaskRef, gen *GeneratedSuite) []shrub.TaskDependency {
	if len(ref.DependsOn) == 0 {
		return nil
	}
	deps := make([]shrub.TaskDependency, 0, len(ref.DependsOn)+1)
	for _, dep := range ref.DependsOn {
		deps = append(deps, shrub.TaskDependency{Name: dep.Name, Variant: dep.Variant})
	}
	if gen.IsMultiversion() {
		deps = append(deps, shrub.TaskDependency{Name: evergreen.MultiversionBinarySelection})
	}
	return deps
}

// dedupTaskName builds the key generated suites are deduplicated under.
// Enterprise and community expansions of the same parent coexist, so the
// enterprise side gets a distinct key.
func dedupTaskName(isEnterprise bool, taskName string) string {
	name := util.RemoveGenSuffix(taskName)
	if isEnterprise {
		return name + "-" + evergreen.EnterpriseModule
	}
	return name
}

// isBurnInGenerator checks whether a task reference names one of the burn-in
// generators.
func isBurnInGenerator(taskName string) bool {
	return taskName == evergreen.BurnInTestsTask ||
		taskName == evergreen.BurnInTagsTask ||
		taskName == evergreen.BurnInTasksTask
}

func burnInTestsKey(buildVariant string) string {
	return fmt.Sprintf("%s-%s", util.RemoveGenSuffix(evergreen.BurnInTestsTask), buildVariant)
}

func burnInTasksKey(buildVariant string) string {
	return fmt.Sprintf("%s-%s", util.RemoveGenSuffix(evergreen.BurnInTasksTask), buildVariant)
}

func burnInTagsVariantName(baseVariant string) string {
	return fmt.Sprintf("%s-%s", baseVariant, BurnInBuildVariantSuffix)
}
