// threader runs configured workloads on a cooperative, frame-paced
// time-slicing scheduler.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var cfgPath string

func main() {
	rootCmd := &cobra.Command{
		Use:     "threader",
		Short:   "Cooperative time-sliced task scheduler",
		Version: version,
		Long: `threader runs CPU-bound workloads in small slices on a single host
loop. Each frame the scheduler hands a share of the cycle budget to every
runnable task, so long computations make progress without starving the host.

Examples:
  # Run the daemon in the foreground
  threader run --config threader.yaml

  # Run with the live view
  threader watch --config threader.yaml

  # Show the last 20 completed runs
  threader history --config threader.yaml --limit 20
`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./threader.yaml", "path to config (json or yaml)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(checkCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
