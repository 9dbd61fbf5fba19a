package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"ghstrata/internal/modkit"
	"ghstrata/internal/platform/config"
	perr "ghstrata/internal/platform/errors"
	"ghstrata/internal/services/ingest/domain"
)

var (
	force     bool
	resetDate string
	resetYes  bool
)

var rangeCmd = &cobra.Command{
	Use:   "range START END",
	Short: "Ingest every hour from START to END inclusive",
	Long: `Ingest every hour from START to END inclusive.

Hours are given as YYYY-MM-DD-H (the archive file name), YYYY-MM-DDTHH,
RFC3339 or a bare date meaning its first hour.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := parseHour(args[0])
		if err != nil {
			return err
		}
		end, err := parseHour(args[1])
		if err != nil {
			return err
		}
		return run(cmd, func(ctx context.Context, r domain.RunnerPort) (*domain.Report, error) {
			return r.RunRange(ctx, start, end)
		})
	},
}

var hoursCmd = &cobra.Command{
	Use:   "hours HOUR...",
	Short: "Ingest an explicit list of hours",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hours := make([]time.Time, 0, len(args))
		for _, a := range args {
			h, err := parseHour(a)
			if err != nil {
				return err
			}
			hours = append(hours, h)
		}
		return run(cmd, func(ctx context.Context, r domain.RunnerPort) (*domain.Report, error) {
			return r.RunHours(ctx, hours)
		})
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe the dataset on disk",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, err := open()
		if err != nil {
			return err
		}
		defer m.Close()
		info, err := modkit.MustPortsOf[domain.RunnerPort](m).Info(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, info)
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete indexes, staging and partitions of the whole dataset or one date",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !resetYes {
			return perr.InvalidArgf("reset deletes data; pass --yes to confirm")
		}
		var date *time.Time
		if resetDate != "" {
			d, err := time.Parse(time.DateOnly, resetDate)
			if err != nil {
				return perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "bad --date %q", resetDate)
			}
			date = &d
		}
		m, err := open()
		if err != nil {
			return err
		}
		defer m.Close()
		return modkit.MustPortsOf[domain.RunnerPort](m).Reset(cmd.Context(), date)
	},
}

func init() {
	for _, c := range []*cobra.Command{rangeCmd, hoursCmd} {
		c.Flags().BoolVar(&force, "force", false, "re-fetch hours already resolved as success or not found")
	}
	resetCmd.Flags().StringVar(&resetDate, "date", "", "only reset this date (YYYY-MM-DD)")
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "confirm deletion")
}

// run drives one ingest pass, prints its report and maps unresolved work to ErrPartial
func run(cmd *cobra.Command, fn func(context.Context, domain.RunnerPort) (*domain.Report, error)) error {
	m, err := open()
	if err != nil {
		return err
	}
	defer m.Close()
	m.SetForce(force)
	defer flush(m)

	rep, err := fn(cmd.Context(), modkit.MustPortsOf[domain.RunnerPort](m))
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

var hourLayouts = []string{"2006-01-02-15", "2006-01-02T15"}

// parseHour accepts the GH Archive file stem (hour unpadded or padded), YYYY-MM-DDTHH
// or anything config.ParseTime does
func parseHour(s string) (time.Time, error) {
	for _, l := range hourLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	t, err := config.ParseTime(s)
	if err != nil {
		return time.Time{}, perr.InvalidArgf("bad hour %q: want YYYY-MM-DD-H, YYYY-MM-DDTHH or RFC3339", s)
	}
	return t.Truncate(time.Hour), nil
}
