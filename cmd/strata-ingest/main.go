// Command strata-ingest distills GH Archive hours into the partitioned columnar archive
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
	ingestmod "ghstrata/internal/services/ingest/module"
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
		ev.Msg("strata-ingest failed")
	}
	os.Exit(perr.ExitCode(err))
}

var rootCmd = &cobra.Command{
	Use:   "strata-ingest",
	Short: "Distill GH Archive hours into day partitions",
	Long: `strata-ingest resolves hourly GH Archive dumps against the dataset index,
fetches what is still missing, keeps the whitelisted event types and merges
them into one parquet partition per day.

Exit status is 0 when every requested hour is resolved, 2 when some hours
or dates were left unresolved and 1 on configuration or storage failures.`,
	Version:       version.Info().Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(version.Info().String() + "\n")
	rootCmd.AddCommand(rangeCmd, hoursCmd, infoCmd, resetCmd)
}

// open builds the ingest module from the environment
func open() (*ingestmod.Module, error) {
	deps := modkit.Deps{Log: *logger.Named("ingest"), Cfg: config.New()}
	return ingestmod.New(deps)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// flush exports the run metrics when a textfile path is configured
func flush(m *ingestmod.Module) {
	if err := metrics.WriteTextfile(m.Options().MetricsFile); err != nil {
		logger.Get().Warn().Err(err).Str("path", m.Options().MetricsFile).Msg("metrics textfile not written")
	}
}
