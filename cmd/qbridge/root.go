package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/danmuck/qbridge/internal/bridge"
	"github.com/danmuck/qbridge/internal/config"
	logs "github.com/danmuck/qbridge/internal/logging"
	"github.com/danmuck/qbridge/internal/observability"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("QNET")
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "qbridge",
		Short:         "Serve the quantum network bridge on the local network",
		Version:       bridge.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServiceConfig(v.GetString("config"), v.GetString("addr"))
			if err != nil {
				return err
			}
			logs.Configure(logs.ProfileDaemon)
			observability.InitLogger(cfg.Name)
			return bridge.NewServiceWithConfig(cfg).Run()
		},
	}
	cmd.Flags().String("config", config.DefaultConfigFile, "config file (env QNET_CONFIG)")
	cmd.Flags().String("addr", "", "listen address override (env QNET_ADDR)")
	_ = v.BindPFlag("config", cmd.Flags().Lookup("config"))
	_ = v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}

// loadServiceConfig reads path into the bridge runtime config. A missing
// default file means defaults; any other missing path is an error.
func loadServiceConfig(path, addr string) (bridge.Config, error) {
	path = strings.TrimSpace(path)
	if path == config.DefaultConfigFile && !config.Exists(path) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return bridge.Config{}, err
	}
	if addr = strings.TrimSpace(addr); addr != "" {
		cfg.Bridge.Addr = addr
		if err := config.Validate(cfg); err != nil {
			return bridge.Config{}, err
		}
	}
	return cfg.BridgeRuntime(), nil
}
