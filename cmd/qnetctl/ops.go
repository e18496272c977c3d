package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danmuck/qbridge/internal/config"
	"github.com/danmuck/qbridge/internal/firewall"
	"github.com/danmuck/qbridge/internal/history"
	"github.com/danmuck/qbridge/internal/probe"
)

func newProbeCmd(a *app) *cobra.Command {
	var (
		host   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check that the bridge is listening and answering",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			target := cfg.ProbeTarget()
			if host != "" {
				target.Host = host
			}
			report := probe.Run(cmd.Context(), target)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else if err := probe.Render(out, report, colorFor(out)); err != nil {
				return err
			}
			if !report.OK() {
				return errProbeFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "host to probe (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func colorFor(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && probe.ColorEnabled(f)
}

func newFirewallCmd(a *app) *cobra.Command {
	var backend string
	cmd := &cobra.Command{
		Use:   "firewall",
		Short: "Open, close or inspect the bridge port on the host firewall",
	}
	cmd.PersistentFlags().StringVar(&backend, "backend", "", "firewall backend (default from config)")

	run := func(action string) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if backend != "" {
				cfg.Firewall.Backend = backend
			}
			out := cmd.OutOrStdout()
			if cfg.Firewall.Backend == "none" {
				fmt.Fprintln(out, "firewall management disabled (firewall.backend = \"none\")")
				return nil
			}
			fw, err := firewall.New(cfg.Firewall.Backend, a.commandRunner(cfg), a.targetOS(cfg))
			if errors.Is(err, firewall.ErrNoBackend) {
				return exitHint(err, "install ufw or firewalld, or set firewall.backend in the config")
			}
			if err != nil {
				return err
			}
			port, _ := cfg.Bridge.Port()
			rule := firewall.Rule{Name: cfg.Firewall.RuleName, Port: port, Executable: cfg.FirewallExecutable()}

			var res firewall.Result
			switch action {
			case "allow":
				res, err = fw.Allow(rule)
			case "revoke":
				res, err = fw.Revoke(rule)
			default:
				res, err = fw.Status(rule)
			}
			printResult(out, cmd.ErrOrStderr(), res)
			if err != nil {
				if errors.Is(err, firewall.ErrCommandFailed) {
					return exitHint(err, "firewall changes usually need root: retry with sudo")
				}
				return err
			}
			if action == "allow" {
				fmt.Fprintf(out, "✅ %s now allows port %d\n", fw.Name(), port)
			} else if action == "revoke" {
				fmt.Fprintf(out, "%s no longer allows port %d\n", fw.Name(), port)
			}
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "allow", Short: "Allow inbound connections to the bridge", RunE: run("allow")},
		&cobra.Command{Use: "revoke", Short: "Remove the allow rule", RunE: run("revoke")},
		&cobra.Command{Use: "status", Short: "Show the firewall state", RunE: run("status")},
	)
	return cmd
}

func printResult(out, errOut io.Writer, res firewall.Result) {
	if len(res.Stdout) > 0 {
		fmt.Fprint(out, string(res.Stdout))
	}
	if len(res.Stderr) > 0 {
		fmt.Fprint(errOut, string(res.Stderr))
	}
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, check or print the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath()
			if err := config.WriteTemplate(path, force); err != nil {
				if errors.Is(err, config.ErrConfigExists) {
					return exitHint(err, "pass --force to overwrite")
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(a.configPath()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", a.configPath())
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			data, err := config.Render(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.AddCommand(initCmd, validateCmd, showCmd)
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List persisted measurements and teleportations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Bridge.HistoryDSN) == "" {
				return errors.New("history is disabled (bridge.history_dsn is empty)")
			}
			store, err := history.Open(cmd.Context(), cfg.Bridge.HistoryDSN)
			if err != nil {
				return err
			}
			defer store.Close()
			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "no history yet")
				return nil
			}
			for _, e := range entries {
				printEntry(out, e)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printEntry(out io.Writer, e history.Entry) {
	ts := e.CreatedAt.Local().Format("2006-01-02 15:04:05")
	switch e.Kind {
	case history.KindMeasurement:
		result := -1
		if e.Result != nil {
			result = *e.Result
		}
		via := ""
		if e.Entanglement != "" {
			via = " via " + e.Entanglement
		}
		fmt.Fprintf(out, "%s  measure   %s%s -> %d\n", ts, e.Node, via, result)
	default:
		fmt.Fprintf(out, "%s  teleport  %s -> %s state=%s bits=%s\n", ts, e.Source, e.Destination, e.State, e.ClassicalBits)
	}
}
