// Command strata-analyze stratifies repositories of the columnar archive
package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ghstrata/internal/core/version"
	"ghstrata/internal/modkit"
	"ghstrata/internal/platform/config"
	perr "ghstrata/internal/platform/errors"
	"ghstrata/internal/platform/logger"
	"ghstrata/internal/platform/metrics"
	"ghstrata/internal/platform/store"
	"ghstrata/internal/services/analysis/domain"
	analysismod "ghstrata/internal/services/analysis/module"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil && !errors.Is(err, perr.ErrPartial) {
		ev := logger.Get().Error().Err(err)
		if e, ok := perr.As(err); ok {
			ev = ev.EmbedObject(e)
		}
		ev.Msg("strata-analyze failed")
	}
	os.Exit(perr.ExitCode(err))
}

var rootCmd = &cobra.Command{
	Use:   "strata-analyze",
	Short: "Classify repositories into behavioral strata",
	Long: `strata-analyze aggregates the columnar archive into one metric vector per
repository, derives quantile thresholds and labels every repository with one
category per metric. Results are written to GHSTRATA_OUTPUT_DIR and, when
GHSTRATA_CH_URL is set, published to ClickHouse.

Exit status is 0 on success, 2 when some repositories could not be classified
and 1 on configuration, connectivity or empty corpus failures.`,
	Version:       version.Info().Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var fullCmd = &cobra.Command{
	Use:   "full",
	Short: "Aggregate, threshold and classify the whole window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd, true, func(ctx context.Context, r domain.RunnerPort) (*domain.Report, error) {
			return r.Full(ctx)
		})
	},
}

var archetypeCmd = &cobra.Command{
	Use:   "archetype NAME",
	Short: "Sample representative repositories of a profile and export their event logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, false, func(ctx context.Context, r domain.RunnerPort) (*domain.Report, error) {
			return r.Archetype(ctx, args[0])
		})
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Write quantitative_summary.csv from the last full run and exported logs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd, false, func(ctx context.Context, r domain.RunnerPort) (*domain.Report, error) {
			return r.Summary(ctx)
		})
	},
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List archetype profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, err := analysismod.New(modkit.Deps{Log: *logger.Named("analysis"), Cfg: config.New()})
		if err != nil {
			return err
		}
		return printJSON(cmd, modkit.MustPortsOf[domain.RunnerPort](m).Profiles())
	},
}

func init() {
	rootCmd.SetVersionTemplate(version.Info().String() + "\n")
	rootCmd.AddCommand(fullCmd, archetypeCmd, summaryCmd, profilesCmd)
}

// run builds the module, optionally with the clickhouse store, and prints the run report
func run(cmd *cobra.Command, withStore bool, fn func(context.Context, domain.RunnerPort) (*domain.Report, error)) error {
	ctx := cmd.Context()
	cfg := config.New()
	log := logger.Named("analysis")
	deps := modkit.Deps{Log: *log, Cfg: cfg}

	if withStore {
		st, err := store.Open(ctx, store.ConfigFromEnv(cfg, "strata-analyze"), store.WithLogger(*log))
		if err != nil {
			return err
		}
		defer func() {
			if err := st.Close(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to close store")
			}
		}()
		deps.CH = st.CH
	}

	m, err := analysismod.New(deps)
	if err != nil {
		return err
	}
	defer m.Close()
	defer func() {
		if err := metrics.WriteTextfile(m.Options().MetricsFile); err != nil {
			log.Warn().Err(err).Msg("metrics textfile not written")
		}
	}()

	rep, err := fn(ctx, modkit.MustPortsOf[domain.RunnerPort](m))
	if rep != nil {
		if werr := printJSON(cmd, rep); werr != nil && err == nil {
			err = werr
		}
	}
	if err != nil {
		return err
	}
	if rep != nil && rep.Partial() {
		return perr.ErrPartial
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
