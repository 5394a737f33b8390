package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chronobot/internal/jobs"
	"chronobot/internal/storage"
	"chronobot/internal/timeexpr"
)

func listCmd(o *options) *cobra.Command {
	var kinds []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in execution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			want := map[jobs.ActionKind]bool{}
			for _, k := range kinds {
				kind, ok := jobs.ParseKind(k)
				if !ok {
					return fmt.Errorf("unknown kind %q", k)
				}
				want[kind] = true
			}
			return o.withStore(cmd.Context(), func(store *storage.JobStore) error {
				list := store.Query(func(j jobs.Job) bool {
					return len(want) == 0 || want[j.Action.Kind()]
				})
				printJobs(cmd.OutOrStdout(), list, o.now())
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&kinds, "kind", "k", nil, "only jobs of these kinds (echo, role_add, role_remove, unban, banner_rotate)")
	return cmd
}

func sinceCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:     "since <interval>",
		Short:   "List jobs that last ran within a past interval",
		Example: "  jobctl since 2 days\n  jobctl since 90m ago",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := o.now()
			res, err := timeexpr.ParsePast(joinArgs(args), now)
			if err != nil {
				return err
			}
			return o.withStore(cmd.Context(), func(store *storage.JobStore) error {
				list := store.Query(func(j jobs.Job) bool {
					return j.LastExecutedAt != nil && !j.LastExecutedAt.Before(res.At)
				})
				printJobs(cmd.OutOrStdout(), list, now)
				return nil
			})
		},
	}
}

func printJobs(w io.Writer, list []jobs.Job, now time.Time) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no jobs")
		return
	}
	for _, j := range list {
		fmt.Fprintln(w, jobs.FormatLine(j, now))
	}
}

func joinArgs(args []string) string { return strings.Join(args, " ") }
