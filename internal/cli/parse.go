package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"chronobot/internal/app"
	"chronobot/internal/jobs"
	"chronobot/internal/timeexpr"
)

func parseCmd(o *options) *cobra.Command {
	var offset string
	cmd := &cobra.Command{
		Use:   "parse <expression>",
		Short: "Resolve a time expression the way the bot would",
		Long: "parse resolves a time expression against the current time. Without --offset the " +
			"config's default offset applies when the config can be read.",
		Example: "  jobctl parse in 2 hours tea\n  jobctl parse every fri 17:30 --offset UTC+2",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p timeexpr.Parser
			if cmd.Flags().Changed("offset") {
				d, err := timeexpr.ParseOffset(offset)
				if err != nil {
					return err
				}
				p.DefaultOffset = d
			} else if cfg, err := o.loadConfig(); err == nil {
				p = app.ParserFor(cfg)
			}

			now := o.now()
			res, err := p.Parse(joinArgs(args), now)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "at:     %s (%s)\n", res.At.UTC().Format(time.RFC3339), jobs.Until(res.At, now))
			fmt.Fprintf(w, "repeat: %s\n", res.Repeat.String())
			if res.Remainder != "" {
				fmt.Fprintf(w, "text:   %s\n", res.Remainder)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&offset, "offset", "", "UTC offset for times written without one, e.g. UTC+2")
	return cmd
}
