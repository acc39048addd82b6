package main

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"realty_ingest/config"
	"realty_ingest/models"
	"realty_ingest/scheduler"
	"realty_ingest/workers"
)

type importOptions struct {
	feedID   string
	location string
	encoding string
	lenient  bool
}

func newImportCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import one feed now and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var result *models.ImportResult
			if opts.feedID != "" {
				result, err = a.orch.RunFeed(ctx, opts.feedID)
			} else {
				result, err = a.orch.Import(ctx, &config.FeedConfig{
					ID:       "adhoc",
					Name:     filepath.Base(opts.location),
					Kind:     config.GuessKind(opts.location),
					Location: opts.location,
					Encoding: opts.encoding,
					Lenient:  opts.lenient,
				})
			}
			if result != nil {
				printResult(cmd, result)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&opts.feedID, "feed", "", "Configured feed id to import")
	cmd.Flags().StringVar(&opts.location, "file", "", "Feed location: path (.gz ok), http(s) URL or s3://bucket/key")
	cmd.Flags().StringVar(&opts.encoding, "encoding", "", "Force the document encoding (e.g. windows-1251)")
	cmd.Flags().BoolVar(&opts.lenient, "lenient", false, "Recover from malformed markup instead of stopping")
	cmd.MarkFlagsMutuallyExclusive("feed", "file")
	cmd.MarkFlagsOneRequired("feed", "file")

	return cmd
}

func printResult(cmd *cobra.Command, r *models.ImportResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "status:       %s\n", r.Status())
	fmt.Fprintf(out, "parsed:       %d\n", r.Parsed)
	fmt.Fprintf(out, "imported:     %d\n", r.Imported)
	fmt.Fprintf(out, "updated:      %d\n", r.Updated)
	fmt.Fprintf(out, "failed:       %d\n", r.Failed)
	fmt.Fprintf(out, "parse errors: %d\n", len(r.ParseErrors))
	for _, e := range r.ParseErrors {
		fmt.Fprintf(out, "  ! %s\n", e)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(out, "  x %s\n", e)
	}
}

func newDaemonCmd() *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run scheduled imports, the stale-offer sweep and command polling",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if n, err := a.ops.FailInterruptedRuns(); err != nil {
				log.Printf("Warning: could not close interrupted runs: %v", err)
			} else if n > 0 {
				log.Printf("Marked %d interrupted runs as failed", n)
			}

			sched := scheduler.New(a.cfg, a.orch, a.ops)

			staleWorker := workers.NewStaleOfferWorker(a.catalog, a.cfg.Stale.After)
			staleWorker.SetLogger(a.orch.LogFunc())
			go staleWorker.Run(ctx, a.cfg.Stale.CheckInterval)
			sched.SetWorkers(staleWorker)
			log.Printf("Stale offer worker started (after %s, every %s)", a.cfg.Stale.After, a.cfg.Stale.CheckInterval)

			if err := sched.Start(ctx); err != nil {
				return fmt.Errorf("start scheduler: %w", err)
			}
			defer sched.Stop()

			if runNow {
				sched.RunNow(ctx)
			}

			log.Println("Daemon running. Press Ctrl+C to stop.")
			<-ctx.Done()
			log.Println("Shutting down...")
			return nil
		},
	}

	cmd.Flags().BoolVar(&runNow, "run-now", false, "Import all feeds once at startup")
	return cmd
}

func newRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent import runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openOps()
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.ops.ListImportRuns(limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFEED\tSTARTED\tDURATION\tSTATUS\tPARSED\tNEW\tUPDATED\tFAILED\tPARSE ERR")
			for _, r := range runs {
				duration := "-"
				if r.FinishedAt != nil {
					duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
					r.ID, r.FeedID, r.StartedAt.Local().Format("2006-01-02 15:04"), duration,
					r.Status, r.Parsed, r.Imported, r.Updated, r.Failed, r.ParseErrors)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to show")
	return cmd
}

func newCommandCmd() *cobra.Command {
	var feedID string

	cmd := &cobra.Command{
		Use:       "command <import_now|import_feed|pause|resume|deactivate_stale>",
		Short:     "Queue a command for the running daemon",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"import_now", "import_feed", "pause", "resume", "deactivate_stale"},
		RunE: func(cmd *cobra.Command, args []string) error {
			name := models.CommandType(args[0])
			switch name {
			case models.CmdImportNow, models.CmdPause, models.CmdResume, models.CmdDeactivateStale:
			case models.CmdImportFeed:
				if feedID == "" {
					return errors.New("import_feed needs --feed")
				}
			default:
				return fmt.Errorf("unknown command %q", args[0])
			}

			a, err := openOps()
			if err != nil {
				return err
			}
			defer a.Close()

			var params *models.CommandParams
			if feedID != "" {
				params = &models.CommandParams{Feed: feedID}
			}
			if err := a.ops.EnqueueCommand(name, params); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&feedID, "feed", "", "Feed id for import_feed")
	return cmd
}
