package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/danmuck/qbridge/internal/bridge"
	"github.com/danmuck/qbridge/internal/config"
	"github.com/danmuck/qbridge/internal/netinfo"
	"github.com/danmuck/qbridge/internal/observability"
	"github.com/danmuck/qbridge/internal/statusfile"
	"github.com/danmuck/qbridge/internal/supervisor"

	logs "github.com/danmuck/qbridge/internal/logging"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			logs.Configure(logs.ProfileDaemon)
			observability.InitLogger(cfg.Bridge.Name)
			return bridge.NewServiceWithConfig(cfg.BridgeRuntime()).Run()
		},
	}
}

func (a *app) supervisor(cfg config.Config) (*supervisor.Supervisor, error) {
	return supervisor.New(cfg.SupervisorRuntime(a.configPath()))
}

func newStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Launch the bridge in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			sup, err := a.supervisor(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if st, _ := sup.Status(); st.Running {
				fmt.Fprintf(out, "qbridge already running (pid %d)\n", st.PID)
				return nil
			}
			if err := sup.Preflight(); err != nil {
				return exitHint(err, "fix the problems above, or stop the process holding the port")
			}
			st, err := sup.Start(cmd.Context())
			if errors.Is(err, supervisor.ErrNotReady) {
				fmt.Fprintf(out, "qbridge launched (pid %d) but is not answering yet; check %s\n", st.PID, st.LogFile)
				return err
			}
			if err != nil {
				return err
			}
			printStarted(out, cfg, st)
			return nil
		},
	}
}

func newStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			sup, err := a.supervisor(cfg)
			if err != nil {
				return err
			}
			err = sup.Stop(cmd.Context())
			if errors.Is(err, supervisor.ErrNotRunning) {
				fmt.Fprintln(cmd.OutOrStdout(), "qbridge is not running")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "qbridge stopped")
			return nil
		},
	}
}

func newRestartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop any running bridge and launch a fresh one",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			sup, err := a.supervisor(cfg)
			if err != nil {
				return err
			}
			st, err := sup.Restart(cmd.Context())
			if err != nil {
				return err
			}
			printStarted(cmd.OutOrStdout(), cfg, st)
			return nil
		},
	}
}

func printStarted(out io.Writer, cfg config.Config, st supervisor.Status) {
	fmt.Fprintf(out, "✅ qbridge started (pid %d)\n", st.PID)
	if st.LogFile != "" {
		fmt.Fprintf(out, "   log: %s\n", st.LogFile)
	}
	port, _ := cfg.Bridge.Port()
	for _, u := range netinfo.URLs(netinfo.LocalIP(), port) {
		fmt.Fprintf(out, "   %s\n", u)
	}
}

type statusReport struct {
	Process     supervisor.Status    `json:"process"`
	StatusFile  string               `json:"status_file"`
	SnapshotAge string               `json:"snapshot_age,omitempty"`
	Stale       bool                 `json:"stale"`
	Snapshot    *statusfile.Snapshot `json:"snapshot,omitempty"`
}

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show process and network status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			sup, err := a.supervisor(cfg)
			if err != nil {
				return err
			}
			proc, err := sup.Status()
			if err != nil && !errors.Is(err, supervisor.ErrBadPIDFile) {
				return err
			}
			report := statusReport{Process: proc, StatusFile: cfg.Bridge.StatusFile}
			if cfg.Bridge.StatusFile != "" {
				var snap statusfile.Snapshot
				if err := statusfile.Read(cfg.Bridge.StatusFile, &snap); err == nil {
					report.Snapshot = &snap
					if age, err := statusfile.Age(cfg.Bridge.StatusFile, time.Now()); err == nil {
						report.SnapshotAge = age.Round(time.Second).String()
						report.Stale = age > 3*cfg.Bridge.StatusInterval.Duration
					}
				}
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printStatus(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printStatus(out io.Writer, r statusReport) {
	switch {
	case r.Process.Running:
		fmt.Fprintf(out, "process:  running (pid %d)\n", r.Process.PID)
	case r.Process.Stale:
		fmt.Fprintf(out, "process:  not running (stale pid %d in %s)\n", r.Process.PID, r.Process.PIDFile)
	default:
		fmt.Fprintln(out, "process:  not running")
	}
	if r.Snapshot == nil {
		fmt.Fprintf(out, "snapshot: none at %s\n", r.StatusFile)
		return
	}
	s := r.Snapshot
	stale := ""
	if r.Stale {
		stale = " (stale)"
	}
	fmt.Fprintf(out, "snapshot: %s ago%s\n", r.SnapshotAge, stale)
	fmt.Fprintf(out, "network:  %s, %d nodes, %d qubits, %d entangled pairs, %d measurements\n",
		s.Network.Status, s.Network.TotalValidators, s.Quantum.TotalQubits, s.Quantum.EntangledPairs, s.Quantum.Measurements)
	for _, v := range s.Network.Validators {
		fmt.Fprintf(out, "  - %-14s %-10s %4d qubits  queue=%d  entangled=%d\n", v.Name, v.Status, v.Qubits, v.Queue, len(v.EntangledWith))
	}
}
