package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/danmuck/qbridge/internal/config"
	logs "github.com/danmuck/qbridge/internal/logging"
	"github.com/danmuck/qbridge/internal/tools"
)

const envPrefix = "QNET"

// app carries the state shared by every subcommand.
type app struct {
	v *viper.Viper

	// runner and goos replace the configured command target in tests.
	runner tools.CommandRunner
	goos   string
}

func newApp() *app {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("config", config.DefaultConfigFile)
	return &app{v: v}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "qnetctl",
		Short:         "Operate a qbridge quantum network bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.configureLogging()
			return nil
		},
	}
	flags := cmd.PersistentFlags()
	flags.String("config", config.DefaultConfigFile, "config file (env QNET_CONFIG)")
	flags.String("addr", "", "override bridge listen address (env QNET_ADDR)")
	flags.BoolP("verbose", "v", false, "log debug output")
	_ = a.v.BindPFlag("config", flags.Lookup("config"))
	_ = a.v.BindPFlag("addr", flags.Lookup("addr"))
	_ = a.v.BindPFlag("verbose", flags.Lookup("verbose"))

	cmd.AddCommand(
		newServeCmd(a),
		newStartCmd(a),
		newStopCmd(a),
		newRestartCmd(a),
		newStatusCmd(a),
		newProbeCmd(a),
		newFirewallCmd(a),
		newConfigCmd(a),
		newHistoryCmd(a),
	)
	return cmd
}

func (a *app) configureLogging() {
	cfg := logs.ForProfile(logs.ProfileCLI)
	if a.v.GetBool("verbose") && os.Getenv(logs.EnvLevel) == "" {
		cfg.Level = logs.DebugLevel
	}
	logs.Apply(cfg)
}

func (a *app) configPath() string {
	return strings.TrimSpace(a.v.GetString("config"))
}

// loadConfig reads the config file, falling back to defaults when the
// default file name is simply absent, then applies --addr.
func (a *app) loadConfig() (config.Config, error) {
	path := a.configPath()
	var (
		cfg config.Config
		err error
	)
	if path == config.DefaultConfigFile && !config.Exists(path) {
		logs.Debugf("qnetctl.loadConfig no %s, using defaults", path)
		cfg, err = config.Load("")
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return config.Config{}, err
	}
	if addr := strings.TrimSpace(a.v.GetString("addr")); addr != "" {
		cfg.Bridge.Addr = addr
		if err := config.Validate(cfg); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

func (a *app) commandRunner(cfg config.Config) tools.CommandRunner {
	if a.runner != nil {
		return a.runner
	}
	return cfg.Runner()
}

func (a *app) targetOS(cfg config.Config) string {
	if a.goos != "" {
		return a.goos
	}
	if cfg.Remote() {
		return cfg.TargetOS()
	}
	return runtime.GOOS
}

var errProbeFailed = errors.New("probe failed")

func exitHint(err error, hint string) error {
	return fmt.Errorf("%w\n  %s", err, hint)
}
