package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/catalogops/config"
	"github.com/jonwraymond/catalogops/health"
)

// errUnhealthy makes the health command exit non-zero.
var errUnhealthy = errors.New("catalog is unhealthy")

func newMaintainCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Compact the local database and refresh its statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), flags, func(ctx context.Context, a *app) error {
				if err := a.svc.Maintain(ctx); err != nil {
					return err
				}
				cmd.Println("maintenance complete")
				return nil
			})
		},
	}
}

func newStatsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache, scheduler and store counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), flags, func(ctx context.Context, a *app) error {
				st, err := a.svc.Stats(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), flags.output, st)
			})
		},
	}
}

func newHealthCmd(flags *globalFlags) *cobra.Command {
	var thresholds health.ServiceThresholds
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the store or server and the data layer",
		Long: `Run every health check and print the report. The command exits
non-zero when any check is unhealthy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), flags, func(ctx context.Context, a *app) error {
				agg := health.NewAggregator(health.AggregatorConfig{Timeout: a.cfg.API.Timeout})
				for _, c := range a.checkers {
					agg.Register(c)
				}
				if thresholds != (health.ServiceThresholds{}) {
					agg.Register(health.NewServiceChecker(a.svc, thresholds))
				}
				report := agg.Run(ctx)
				if err := render(cmd.OutOrStdout(), flags.output, reportTable(report)); err != nil {
					return err
				}
				if report.Status == health.StatusUnhealthy {
					return errUnhealthy
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&thresholds.MaxQueued, "max-queued", 0, "queued requests above which the service is degraded")
	cmd.Flags().IntVar(&thresholds.MaxPendingProgress, "max-pending", 0, "pending progress records above which the service is degraded")
	return cmd
}

type reportTable health.Report

func (reportTable) header() []string { return []string{"CHECK", "STATUS", "MESSAGE", "DURATION"} }

func (r reportTable) rows() [][]string {
	names := make([]string, 0, len(r.Checks))
	for name := range r.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names)+1)
	for _, name := range names {
		res := r.Checks[name]
		msg := res.Message
		if res.Error != "" {
			msg += ": " + res.Error
		}
		rows = append(rows, []string{name, res.Status.String(), msg, res.Duration.String()})
	}
	return append(rows, []string{"overall", r.Status.String(), "", ""})
}

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := flags.configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if !force && fileExists(path) {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			cmd.Printf("Configuration file created at: %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cfg.API.AuthToken != "" {
				cfg.API.AuthToken = "[REDACTED]"
			}
			format := flags.output
			if format == formatTable {
				format = formatYAML
			}
			return render(cmd.OutOrStdout(), format, cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
