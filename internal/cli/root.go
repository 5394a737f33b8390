// Package cli implements jobctl, the operator tool for chronobot's job
// store. It reads the same config file as the bot.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"chronobot/internal/app"
	"chronobot/internal/config"
	"chronobot/internal/storage"
	logx "chronobot/pkg/logx"
)

type options struct {
	configPath string
	verbose    bool
	now        func() time.Time
}

// NewRootCmd builds the jobctl command tree. now is the clock used for
// relative times.
func NewRootCmd(now func() time.Time) *cobra.Command {
	if now == nil {
		now = time.Now
	}
	o := &options{now: func() time.Time { return now().UTC() }}

	root := &cobra.Command{
		Use:           "jobctl",
		Short:         "Inspect and edit chronobot's scheduled jobs",
		Long:          "jobctl works on the job store directly. Stop the bot before deleting jobs; a running bot keeps its own copy.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", "./config.json", "path to the bot config (json or yaml)")
	root.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "log storage activity")

	root.AddCommand(listCmd(o))
	root.AddCommand(showCmd(o))
	root.AddCommand(dumpCmd(o))
	root.AddCommand(deleteCmd(o))
	root.AddCommand(parseCmd(o))
	root.AddCommand(sinceCmd(o))
	return root
}

// Execute runs jobctl with the process arguments and returns the exit code.
func Execute(ctx context.Context) int {
	root := NewRootCmd(time.Now)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}

func (o *options) logger() logx.Logger {
	if o.verbose {
		return logx.NewConsole("DEBUG")
	}
	return logx.Nop()
}

func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.NewConfigManager(o.configPath).Parse()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// withStore opens the configured store read-only and loads it for the
// duration of fn.
func (o *options) withStore(ctx context.Context, fn func(*storage.JobStore) error) error {
	return o.useStore(ctx, app.OpenStoreReadOnly, fn)
}

// withWritableStore is withStore for commands that change jobs.
func (o *options) withWritableStore(ctx context.Context, fn func(*storage.JobStore) error) error {
	return o.useStore(ctx, app.OpenStore, fn)
}

type storeOpener func(*config.Config, logx.Logger) (*storage.JobStore, error)

func (o *options) useStore(ctx context.Context, open storeOpener, fn func(*storage.JobStore) error) (err error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	store, err := open(cfg, o.logger())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if _, err := store.Load(ctx); err != nil {
		return err
	}
	return fn(store)
}
