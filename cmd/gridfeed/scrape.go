package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridfeed/gridfeed/internal/store"
)

func newScrapeCmd() *cobra.Command {
	var (
		dateStr string
		days    int
		code    string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Run scrape jobs for one date or a trailing window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (dateStr == "") == (days == 0) {
				return fmt.Errorf("%w: exactly one of --date or --days is required", errUsage)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if days > 0 {
				if code != "" {
					end := time.Now().UTC().Truncate(24 * time.Hour)
					start := end.AddDate(0, 0, -(days - 1))
					jobs, err := a.orch.ScrapeRange(ctx, code, start, end, force)
					if err != nil {
						return err
					}
					report(cmd, jobs)
					return nil
				}
				return a.orch.ScrapeRecent(ctx, days, force)
			}

			date, err := time.Parse("2006-01-02", dateStr)
			if err != nil {
				return fmt.Errorf("%w: bad --date %q, want YYYY-MM-DD", errUsage, dateStr)
			}

			if code != "" {
				job, err := a.orch.ScrapeOne(ctx, code, date, force)
				if err != nil {
					return err
				}
				report(cmd, []*store.Job{job})
				if job.Status == store.StatusFailed {
					return fmt.Errorf("scrape failed: %s", deref(job.ErrorText))
				}
				return nil
			}

			// No code: every dated source for that day.
			var jobs []*store.Job
			var failed int
			for _, src := range a.registry.All() {
				job, err := a.orch.ScrapeOne(ctx, src.Code, date, force)
				if err != nil {
					return err
				}
				jobs = append(jobs, job)
				if job.Status == store.StatusFailed {
					failed++
				}
			}
			report(cmd, jobs)
			if failed > 0 {
				return fmt.Errorf("%d of %d sources failed", failed, len(jobs))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dateStr, "date", "", "target date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&days, "days", 0, "scrape the trailing N days")
	cmd.Flags().StringVar(&code, "code", "", "limit to one source code")
	cmd.Flags().BoolVar(&force, "force", false, "re-scrape even if already succeeded")
	return cmd
}

func report(cmd *cobra.Command, jobs []*store.Job) {
	for _, j := range jobs {
		fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s  %-9s inserted=%d updated=%d warnings=%d\n",
			j.SourceCode, j.TargetDate.Time().Format("2006-01-02"), j.Status,
			j.RowsInserted, j.RowsUpdated, j.ParseWarnings)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
