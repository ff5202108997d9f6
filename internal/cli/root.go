package cli

import (
	"context"
	"fmt"

	"gridsim/internal/catalog"
	"gridsim/internal/config"
	"gridsim/internal/grading"
	"gridsim/internal/logger"
	"gridsim/internal/store"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version はビルド時に -ldflags で上書きされる
var Version = "dev"

// app はサブコマンド間で共有する実行時の依存
type app struct {
	v          *viper.Viper
	configFile string
	rt         config.Runtime
	log        *logger.Logger
}

func NewRootCommand() *cobra.Command {
	a := &app{v: config.NewViper(), log: logger.Default}

	rootCmd := &cobra.Command{
		Use:   "gridsim",
		Short: "Grid operator certification step simulator",
		Long: `gridsim - step-by-step grid operation training with scoring

Quick Start:
  1. List scenarios:   gridsim scenarios
  2. Run a drill:      gridsim run quick --operator ana
  3. Review results:   gridsim history
  4. Serve the API:    gridsim serve --addr :8080`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Settings file (YAML/JSON/TOML)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("data-dir", config.DefaultDataDir(), "Directory holding session records")
	flags.String("scenario-dir", "", "Directory with additional scenario files")
	_ = a.v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = a.v.BindPFlag("scenario_dir", flags.Lookup("scenario-dir"))

	rootCmd.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newScenariosCmd(a),
		newGraphCmd(a),
		newHistoryCmd(a),
		newReportCmd(a),
		newVersionCmd(),
	)

	return rootCmd
}

// load は設定を読み込み、ロガーを構成する
func (a *app) load(cmd *cobra.Command) error {
	rt, err := config.LoadRuntime(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.rt = rt

	level, err := logger.ParseLevel(rt.LogLevel)
	if err != nil {
		return err
	}
	a.log.SetLevel(level)
	a.log.SetOutput(cmd.ErrOrStderr())
	return nil
}

func (a *app) catalog() (*catalog.Memory, error) {
	cat := catalog.FromPresets()
	if a.rt.ScenarioDir == "" {
		return cat, nil
	}

	n, err := cat.LoadDir(a.rt.ScenarioDir)
	if err != nil {
		return nil, fmt.Errorf("load scenarios: %w", err)
	}
	a.log.Debug("", "Loaded %d scenario file(s) from %s", n, a.rt.ScenarioDir)
	if a.log.Enabled(logger.LevelDebug) {
		list, err := cat.List(context.Background())
		if err != nil {
			return nil, err
		}
		for _, s := range list {
			a.log.Debug("", "Scenario %s: %d step(s), %d point(s)", s.ID, s.StepCount, s.MaxPoints)
		}
	}
	return cat, nil
}

func (a *app) store(cmd *cobra.Command) (*store.JSONStore, error) {
	st := store.NewJSONStore(a.rt.DataDir)
	if err := st.Init(cmd.Context()); err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}
	return st, nil
}

func (a *app) criteria() (*grading.Criteria, error) {
	c, err := grading.Compile(a.rt.Grading.PassCriteria)
	if err != nil {
		return nil, fmt.Errorf("grading.pass_criteria: %w", err)
	}
	return c, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "gridsim version %s\n", Version)
			return nil
		},
	}
}
