// Command jobprovisioner applies job collection plans to a scheduling
// authority: the REST wire contract (a remote deployment or the local
// emulator) or the Google Cloud backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/illmade-knight/go-job-scheduler/pkg/credentials"
	"github.com/illmade-knight/go-job-scheduler/pkg/jobspec"
	"github.com/illmade-knight/go-job-scheduler/pkg/provisioning"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	envFiles        []string
	logLevel        string
	emulator        bool
	backend         string
	metricsTextfile string
	enableAPIs      bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "jobprovisioner",
		Short:         "Create or update job collections and their jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "Settings file to load (repeatable, default ./.env)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.emulator, "emulator", false, "Target the local scheduling emulator")
	root.PersistentFlags().StringVar(&opts.backend, "backend", backendREST, "Authority backend: rest or google")
	root.PersistentFlags().StringVar(&opts.metricsTextfile, "metrics-textfile", "", "Write reconcile metrics to this file on exit")
	root.PersistentFlags().BoolVar(&opts.enableAPIs, "enable-apis", false, "With --backend google, enable missing service APIs instead of failing")

	root.AddCommand(applyCmd(opts), verifyCmd(opts), validateCmd(opts))
	return root
}

func applyCmd(opts *rootOptions) *cobra.Command {
	var planPath string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile a plan; without --plan the getting-started plan is built from settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			r, err := newRunner(ctx, opts)
			if err != nil {
				return err
			}
			defer r.close()

			plan, err := r.loadPlan(planPath)
			if err != nil {
				return err
			}
			if err := r.preflight(ctx, *plan); err != nil {
				return err
			}
			result, err := r.provisioner.Apply(ctx, *plan)
			if result != nil {
				printResult(cmd, result)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "Path to a plan YAML file")
	return cmd
}

func verifyCmd(opts *rootOptions) *cobra.Command {
	var planPath string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that the authority holds exactly what a plan declares",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			plan, err := jobspec.LoadPlan(planPath)
			if err != nil {
				return err
			}
			r, err := newRunner(ctx, opts)
			if err != nil {
				return err
			}
			defer r.close()

			if err := r.preflight(ctx, *plan); err != nil {
				return err
			}
			if err := r.provisioner.Verify(ctx, *plan); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "plan for job collection %s is in sync\n", plan.Collection.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "Path to a plan YAML file")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func validateCmd(_ *rootOptions) *cobra.Command {
	var planPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a plan without contacting the authority",
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan, err := jobspec.LoadPlan(planPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "job collection %s (%s, %s): up to %d jobs, no finer than every %s\n",
				plan.Collection.Name, plan.Collection.Tier, plan.Collection.Location,
				plan.Collection.Quota.MaxJobCount, plan.Collection.Quota.MaxRecurrence.Cadence())
			for _, job := range plan.Jobs {
				fmt.Fprintf(out, "  job %s: %s %s every %s from %s\n",
					job.Name, job.Action.Method, job.Action.URI, job.Recurrence.Cadence(), job.StartTime.Format("2006-01-02T15:04:05Z"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "Path to a plan YAML file")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func printResult(cmd *cobra.Command, result *provisioning.ProvisionedResources) {
	out := cmd.OutOrStdout()
	if c := result.Collection; c != nil {
		fmt.Fprintf(out, "job collection %s %s (state %s)\n", c.Name(), c.Outcome, c.State)
	}
	for _, j := range result.Jobs {
		fmt.Fprintf(out, "  job %s %s, every %s\n", j.Name(), j.Outcome, j.Spec.Recurrence.Cadence())
	}
}

// runner holds what a command needs to talk to the authority.
type runner struct {
	opts        *rootOptions
	logger      zerolog.Logger
	settings    credentials.Settings
	client      *provisioning.Client
	provisioner *provisioning.Provisioner
	registry    *prometheus.Registry
}

func newRunner(ctx context.Context, opts *rootOptions) (*runner, error) {
	logger, err := newLogger(opts.logLevel)
	if err != nil {
		return nil, err
	}
	settings, err := credentials.EnvSettings(logger, opts.envFiles...)
	if err != nil {
		return nil, err
	}

	authority, err := newAuthority(ctx, opts, settings, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics, err := provisioning.NewMetrics(registry)
	if err != nil {
		_ = authority.Close()
		return nil, err
	}
	client, err := provisioning.NewClient(authority, logger, provisioning.WithMetrics(metrics))
	if err != nil {
		_ = authority.Close()
		return nil, err
	}
	provisioner, err := provisioning.NewProvisioner(client, logger)
	if err != nil {
		_ = authority.Close()
		return nil, err
	}
	return &runner{
		opts:        opts,
		logger:      logger,
		settings:    settings,
		client:      client,
		provisioner: provisioner,
		registry:    registry,
	}, nil
}

// loadPlan reads path, or builds the getting-started plan from settings when
// path is empty.
func (r *runner) loadPlan(path string) (*jobspec.Plan, error) {
	if path != "" {
		return jobspec.LoadPlan(path)
	}
	rg, err := r.settings.Get(credentials.KeyResourceGroup)
	if err != nil {
		return nil, err
	}
	location, err := credentials.GetOrDefault(r.settings, credentials.KeyLocation, "westus")
	if err != nil {
		return nil, err
	}
	actionURL, err := r.settings.Get(credentials.KeyActionURL)
	if err != nil {
		return nil, err
	}
	r.logger.Info().Str("resource_group", rg).Msg("No plan given, using the getting-started plan")
	return jobspec.DemoPlan(rg, location, actionURL)
}

// preflight makes sure the Google backend's service APIs are enabled. The
// REST backend needs nothing.
func (r *runner) preflight(ctx context.Context, plan jobspec.Plan) error {
	if r.opts.backend != backendGoogle {
		return nil
	}
	return checkGoogleAPIs(ctx, r.settings, plan, r.opts.enableAPIs, r.logger)
}

func (r *runner) close() {
	if r.opts.metricsTextfile != "" {
		if err := prometheus.WriteToTextfile(r.opts.metricsTextfile, r.registry); err != nil {
			r.logger.Warn().Err(err).Str("path", r.opts.metricsTextfile).Msg("Failed to write metrics")
		}
	}
	if err := r.client.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to close authority client")
	}
}
