// prognet trains progressive multitask regressors and serves their first
// layer over encrypted features.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"prognet/utils"
)

var verbose bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "prognet",
	Short: "Progressive multitask neural network regressor",
	Long: `prognet trains one column of fully connected layers per task. Every
column after the first reads the frozen hidden layers of the columns
before it through lateral adapters.

The first layer can also be evaluated by a server on CKKS-encrypted
features (serve-he, predict --encrypted).`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		utils.Verbose = verbose
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", true, "Print progress and timing statistics")
	rootCmd.AddCommand(trainCmd, predictCmd, serveCmd)
}
