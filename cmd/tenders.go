package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/safkaty/safkaty/internal/model"
	"github.com/safkaty/safkaty/internal/store"
)

var tendersCmd = &cobra.Command{
	Use:   "tenders",
	Short: "Browse and track stored tenders",
}

// withStore opens the configured store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, st store.Store) error) error {
	if err := cfg.Validate("store"); err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	return fn(ctx, st)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, eris.Errorf("invalid tender id %q", arg)
	}
	return id, nil
}

var tendersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked tenders, most urgent deadline first",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		text, _ := flags.GetString("q")
		status, _ := flags.GetString("status")
		priority, _ := flags.GetInt("priority")
		limit, _ := flags.GetInt("limit")
		offset, _ := flags.GetInt("offset")
		asJSON, _ := flags.GetBool("json")

		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			tenders, err := st.List(ctx, store.ListFilter{
				Text:     text,
				Status:   model.Status(status),
				Priority: priority,
				Limit:    limit,
				Offset:   offset,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(os.Stdout, tenders)
			}
			if len(tenders) == 0 {
				fmt.Fprintln(os.Stderr, "No tenders stored.")
				return nil
			}
			formatTendersList(os.Stdout, tenders)
			return nil
		})
	},
}

var tendersFindCmd = &cobra.Command{
	Use:   "find <keyword>",
	Short: "Search stored tenders, most recently published first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			tenders, err := st.Search(ctx, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(os.Stdout, tenders)
			}
			if len(tenders) == 0 {
				fmt.Fprintf(os.Stderr, "No stored tenders match %q.\n", args[0])
				return nil
			}
			formatStoredTenders(os.Stdout, tenders)
			return nil
		})
	},
}

var tendersShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one tender with its workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			t, err := st.Get(ctx, id)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(os.Stdout, t)
			}
			formatTenderDetail(os.Stdout, t)
			return nil
		})
	},
}

var tendersStatusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Set the workflow status of a tender",
	Long:  "Valid statuses: new, in_progress, bid_submitted, won, lost, cancelled.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			if err := st.UpdateStatus(ctx, id, model.Status(args[1])); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Tender %d is now %s.\n", id, args[1])
			return nil
		})
	},
}

var tendersPriorityCmd = &cobra.Command{
	Use:   "priority <id> <1-3>",
	Short: "Set the priority of a tender (1 is highest)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		p, err := strconv.Atoi(args[1])
		if err != nil {
			return eris.Errorf("invalid priority %q", args[1])
		}
		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			if err := st.UpdatePriority(ctx, id, p); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Tender %d priority set to %d.\n", id, p)
			return nil
		})
	},
}

var tendersNotesCmd = &cobra.Command{
	Use:   "notes <id> <text>",
	Short: "Replace the free-form notes of a tender",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		notes := strings.Join(args[1:], " ")
		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			if err := st.UpdateNotes(ctx, id, notes); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Notes saved for tender %d.\n", id)
			return nil
		})
	},
}

var tendersDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a tender and its workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			if err := st.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Deleted tender %d.\n", id)
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show workflow counts by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			s, err := st.Stats(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(os.Stdout, s)
			}
			formatStats(os.Stdout, s)
			return nil
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent portal searches",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")
		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			entries, err := st.ListSearchHistory(ctx, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(os.Stdout, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(os.Stderr, "No searches recorded.")
				return nil
			}
			formatHistory(os.Stdout, entries)
			return nil
		})
	},
}

func init() {
	tendersListCmd.Flags().String("q", "", "filter by reference, title, location or buyer")
	tendersListCmd.Flags().String("status", "", "filter by workflow status")
	tendersListCmd.Flags().Int("priority", 0, "filter by priority (1-3)")
	tendersListCmd.Flags().Int("limit", 0, "maximum rows (0 for all)")
	tendersListCmd.Flags().Int("offset", 0, "rows to skip")

	for _, c := range []*cobra.Command{tendersListCmd, tendersFindCmd, tendersShowCmd, statsCmd, historyCmd} {
		c.Flags().Bool("json", false, "print as JSON")
	}
	historyCmd.Flags().Int("limit", 0, "maximum entries (default 50)")

	tendersCmd.AddCommand(
		tendersListCmd,
		tendersFindCmd,
		tendersShowCmd,
		tendersStatusCmd,
		tendersPriorityCmd,
		tendersNotesCmd,
		tendersDeleteCmd,
	)
	rootCmd.AddCommand(tendersCmd, statsCmd, historyCmd)
}
