package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/safkaty/safkaty/internal/acquire"
	"github.com/safkaty/safkaty/internal/fetcher"
	"github.com/safkaty/safkaty/internal/runner"
	"github.com/safkaty/safkaty/internal/store"
)

var searchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Search the portal for tenders matching a keyword",
	Long: "Runs a keyword search on the procurement portal, enriches each row from its detail page " +
		"and lots popup, and prints the tenders. With --save they are upserted into the store.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("search"); err != nil {
			return err
		}
		keyword := strings.TrimSpace(args[0])
		if keyword == "" {
			return eris.New("search: keyword is empty")
		}

		opts := searchOptions()
		flags := cmd.Flags()
		if flags.Changed("max") {
			opts.MaxResults, _ = flags.GetInt("max")
		}
		if noEnrich, _ := flags.GetBool("no-enrich"); noEnrich {
			opts.Enrich = false
		}
		if flags.Changed("delay") {
			opts.PoliteDelay, _ = flags.GetDuration("delay")
		}
		timeout := time.Duration(cfg.Search.TimeoutSecs) * time.Second
		if flags.Changed("timeout") {
			timeout, _ = flags.GetDuration("timeout")
		}
		save, _ := flags.GetBool("save")
		asJSON, _ := flags.GetBool("json")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		res, err := runSearch(ctx, runner.New(newOrchestrator(nil), opts), keyword, opts.MaxResults)
		if err != nil {
			if fetcher.IsBlocked(err) {
				return eris.Wrap(err, "search: the portal refused the request, try again later")
			}
			return eris.Wrap(err, "search")
		}

		if asJSON {
			if err := writeJSON(os.Stdout, res); err != nil {
				return err
			}
		} else {
			printSearchSummary(os.Stdout, os.Stderr, res)
		}

		if !save {
			return nil
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		return saveResults(context.WithoutCancel(ctx), st, res, os.Stderr)
	},
}

// runSearch runs one search on r and waits for its delivery. Cancelling ctx
// stops the search at the next row; the rows gathered so far are returned.
func runSearch(ctx context.Context, r *runner.Runner, keyword string, maxResults int) (*acquire.Result, error) {
	if _, err := r.Start(ctx, keyword, maxResults); err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		r.Cancel()
	}()

	// The worker always delivers once ctx ends, so wait without it.
	d, err := r.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}
	return d.Result, d.Err
}

func printSearchSummary(out, errOut io.Writer, res *acquire.Result) {
	if len(res.Tenders) == 0 {
		fmt.Fprintf(errOut, "No tenders found for %q.\n", res.Keyword)
		return
	}
	formatSearchResults(out, res.Tenders)
	fmt.Fprintf(errOut, "\n%d tenders", len(res.Tenders))
	if res.Degraded > 0 {
		fmt.Fprintf(errOut, ", %d without detail page", res.Degraded)
	}
	if res.Stopped {
		fmt.Fprint(errOut, " (stopped early)")
	}
	fmt.Fprintln(errOut)
}

func saveResults(ctx context.Context, st store.Store, res *acquire.Result, out io.Writer) error {
	saved, err := st.SaveAll(ctx, res.Tenders)
	if err != nil {
		return eris.Wrap(err, "search: save tenders")
	}
	if err := st.RecordSearch(ctx, res.Keyword, len(res.Tenders)); err != nil {
		zap.L().Warn("search: record history", zap.Error(err))
	}
	fmt.Fprintf(out, "Saved: %d new, %d updated.\n", saved.Inserted, saved.Updated)
	return nil
}

func init() {
	searchCmd.Flags().Int("max", acquire.DefaultMaxResults, "maximum number of result rows to process")
	searchCmd.Flags().Bool("no-enrich", false, "skip detail pages; keep only the results table fields")
	searchCmd.Flags().Duration("delay", acquire.DefaultPoliteDelay, "pause between detail page fetches")
	searchCmd.Flags().Duration("timeout", 10*time.Minute, "overall time budget for the search")
	searchCmd.Flags().Bool("save", false, "upsert the tenders into the store")
	searchCmd.Flags().Bool("json", false, "print the result as JSON")
	rootCmd.AddCommand(searchCmd)
}
