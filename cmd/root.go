package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

// rootCmd is the root command
var rootCmd = &cobra.Command{
	Use:     "cruise-scraper",
	Short:   "Rate-limited cruise listing acquisition",
	Version: version,
	Long: `Collects cruise listings from a structured search API, falling back to a
headless-browser scrape when the API has nothing, then normalizes, scores and
persists a deduplicated batch as date-stamped JSON artifacts.

Configuration is read from the environment and an optional .env file.`,
	Example: `  # Caribbean sailings in March under the default priority
  $ cruise-scraper run --destination Caribbean --from 2025-03-01 --to 2025-03-31

  # Only Norwegian, tagged family, at high priority
  $ cruise-scraper run --line NCL --tag family --priority high

  # Show the configured rate limit buckets
  $ cruise-scraper limits`,
}

// Execute executes the root command
func Execute() error {
	rootCmd.SetVersionTemplate(fmt.Sprintf("cruise-scraper version %s\n", version))
	return rootCmd.Execute()
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(limitsCmd)
}
