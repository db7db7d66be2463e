package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cruise-scraper/config"
	"cruise-scraper/ratelimit"
)

var limitsJSON bool

// limitsCmd is the limits command
var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "show the rate limit buckets per priority",
	Long: `Print the token bucket configured for each priority class, as loaded from
RATE_LIMITS_FILE or the built-in defaults (high, medium, low).`,
	Example: `  $ cruise-scraper limits
  $ RATE_LIMITS_FILE=limits.yaml cruise-scraper limits --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		priorities, err := config.LoadPriorities(cfg.RateLimitsFile)
		if err != nil {
			return err
		}
		return printLimits(cmd.OutOrStdout(), ratelimit.NewPriority(priorities), limitsJSON)
	},
}

func init() {
	limitsCmd.Flags().BoolVar(&limitsJSON, "json", false, "print as JSON")
	limitsCmd.SilenceUsage = true
}

func printLimits(w io.Writer, l *ratelimit.PriorityLimiter, asJSON bool) error {
	status := l.Status()
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PRIORITY\tTOKENS\tBURST\tRATE/S\tENABLED")
	for _, p := range l.Priorities() {
		s := status[p]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%g\t%t\n", p, s.AvailableTokens, s.MaxTokens, s.RefillRate, s.IsEnabled)
	}
	return tw.Flush()
}
