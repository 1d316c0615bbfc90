package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	yaml "gopkg.in/yaml.v2"

	"github.com/evergreen-ci/mongo-task-generator/evergreen"
	"github.com/evergreen-ci/mongo-task-generator/generate"
	"github.com/evergreen-ci/mongo-task-generator/resmoke"
)

func main() {
	app := makeApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func makeApp() *cli.App {
	app := cli.NewApp()
	app.Name = "mongo-task-generator"
	app.Usage = "Expand generator tasks in an Evergreen project configuration into sub-tasks."
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "evg-project-file",
			Usage: "Evergreen project configuration file to expand.",
		},
		cli.StringFlag{
			Name:  "expansion-file",
			Usage: "File containing the expansions of the generating task.",
		},
		cli.StringFlag{
			Name:  "evg-auth-file",
			Usage: "File containing the credentials for reading test stats.",
		},
		cli.StringFlag{
			Name:  "target-directory",
			Usage: "Directory to write the generated configuration to.",
			Value: "generated_resmoke_config",
		},
		cli.StringFlag{
			Name:  "resmoke-command",
			Usage: "Command to invoke resmoke with.",
			Value: "python buildscripts/resmoke.py",
		},
		cli.StringFlag{
			Name:  "burn-in-tests-command",
			Usage: "Command to invoke burn-in test discovery with.",
			Value: "python buildscripts/burn_in_tests.py run",
		},
		cli.BoolFlag{
			Name:  "burn-in",
			Usage: "Generate burn-in tasks instead of the regular generated tasks.",
		},
		cli.BoolFlag{
			Name:  "use-task-split-fallback",
			Usage: "Split suites into even chunks instead of using runtime history.",
		},
		cli.StringFlag{
			Name:  "generate-sub-tasks-config",
			Usage: "YAML file tweaking sub-task generation, e.g. large-distro exceptions.",
		},
		cli.StringFlag{
			Name:  "s3-test-stats-bucket",
			Usage: "S3 bucket holding historic test stats.",
			Value: "mongo-test-stats",
		},
		cli.IntFlag{
			Name:  "max-sub-tasks-per-task",
			Usage: "Maximum number of sub-tasks to split a task into.",
			Value: 10,
		},
		cli.IntFlag{
			Name:  "max-test-history-lookback-days",
			Usage: "Accepted for compatibility; history depth is controlled by the stats upload pipeline.",
			Value: 14,
		},
		cli.StringFlag{
			Name:  "bazel-suite-configs",
			Usage: "YAML file mapping bazel suite targets to their config files.",
		},
	}
	app.Before = func(c *cli.Context) error {
		grip.GetSender().SetName("mongo-task-generator")

		catcher := grip.NewBasicCatcher()
		catcher.NewWhen(c.String("evg-project-file") == "", "missing evg-project-file")
		catcher.NewWhen(c.String("expansion-file") == "", "missing expansion-file")
		catcher.NewWhen(c.String("evg-auth-file") == "", "missing evg-auth-file")
		catcher.NewWhen(c.Int("max-sub-tasks-per-task") <= 0, "max-sub-tasks-per-task must be positive")
		return catcher.Resolve()
	}
	app.Action = generateConfiguration
	return app
}

func generateConfiguration(c *cli.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	expansions, err := evergreen.LoadExpansions(c.String("expansion-file"))
	if err != nil {
		return err
	}
	auth, err := evergreen.LoadAuthConfig(c.String("evg-auth-file"))
	if err != nil {
		return err
	}
	projectConfig, err := evergreen.LoadProjectConfig(ctx, c.String("evg-project-file"))
	if err != nil {
		return err
	}
	taskHistory, err := evergreen.NewTaskHistoryService(auth, c.String("s3-test-stats-bucket"), expansions.Project)
	if err != nil {
		return err
	}

	var genSubTasksConfig *generate.GenerateSubTasksConfig
	if path := c.String("generate-sub-tasks-config"); path != "" {
		genSubTasksConfig, err = generate.LoadGenerateSubTasksConfig(path)
		if err != nil {
			return err
		}
	}

	discovery := resmoke.NewResmokeProxy(c.String("resmoke-command"))
	if path := c.String("bazel-suite-configs"); path != "" {
		bazelSuiteConfigs, err := loadBazelSuiteConfigs(path)
		if err != nil {
			return err
		}
		discovery = resmoke.NewResmokeProxyWithBazelTargets(c.String("resmoke-command"), bazelSuiteConfigs)
	}
	burnInDiscovery := resmoke.NewBurnInProxy(c.String("burn-in-tests-command"), c.String("evg-project-file"))

	targetDirectory := c.String("target-directory")
	writers := generate.NewWriterPool(ctx, discovery, targetDirectory, generate.DefaultWriterCount)
	defer writers.Close()

	multiversion, err := generate.NewMultiversionService(ctx, discovery)
	if err != nil {
		return err
	}

	extraction := generate.NewConfigExtractionService(genSubTasksConfig, expansions.ConfigLocation(), expansions.TaskName)
	resmokeGen := generate.NewGenResmokeTaskService(taskHistory, discovery, multiversion, writers, generate.GenResmokeConfig{
		UseTaskSplitFallback: c.Bool("use-task-split-fallback"),
		MaxSubTasksPerTask:   c.Int("max-sub-tasks-per-task"),
	})
	fuzzerGen := generate.NewGenFuzzerTaskService(multiversion)
	burnIn := generate.NewBurnInService(burnInDiscovery, extraction, multiversion)

	service := generate.NewGenerateTasksService(projectConfig, extraction, resmokeGen, fuzzerGen, burnIn, writers, generate.GenerateTasksConfig{
		TargetDirectory: targetDirectory,
		BurnIn:          c.Bool("burn-in"),
	})
	return service.GenerateConfiguration(ctx)
}

// loadBazelSuiteConfigs reads the mapping from bazel suite targets to the
// suite config files they produce.
func loadBazelSuiteConfigs(path string) (map[string]string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading bazel suite configs '%s'", path)
	}
	configs := map[string]string{}
	if err := yaml.Unmarshal(contents, &configs); err != nil {
		return nil, errors.Wrapf(err, "parsing bazel suite configs '%s'", path)
	}
	return configs, nil
}
