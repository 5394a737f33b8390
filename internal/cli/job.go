package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chronobot/internal/jobs"
	"chronobot/internal/storage"
)

// find resolves a full id or a unique prefix.
func find(store *storage.JobStore, id string) (jobs.Job, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if j, err := store.Get(id); err == nil {
		return j, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return jobs.Job{}, err
	}
	var hits []string
	for _, cand := range store.IDs() {
		if strings.HasPrefix(cand, id) {
			hits = append(hits, cand)
		}
	}
	switch len(hits) {
	case 0:
		return jobs.Job{}, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	case 1:
		return store.Get(hits[0])
	default:
		return jobs.Job{}, fmt.Errorf("%q is ambiguous: %s", id, strings.Join(hits, ", "))
	}
}

func showCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd.Context(), func(store *storage.JobStore) error {
				j, err := find(store, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), jobs.FormatJob(j, o.now()))
				return nil
			})
		},
	}
}

func dumpCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <id>",
		Short: "Print a job as it is stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd.Context(), func(store *storage.JobStore) error {
				j, err := find(store, args[0])
				if err != nil {
					return err
				}
				b, err := jobs.MarshalJob(j)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(b)
				return err
			})
		},
	}
}

func deleteCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a job",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withWritableStore(cmd.Context(), func(store *storage.JobStore) error {
				j, err := find(store, args[0])
				if err != nil {
					return err
				}
				if _, err := store.Delete(cmd.Context(), j.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s: %s\n", j.ID, j.Action.Describe())
				return nil
			})
		},
	}
}
