package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	envFile string
	output  string
	jobs    int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "gamm",
		Short: "Fit and test generalized additive mixed models on longitudinal data",
		Long: `gamm fits additive models with a random intercept per subject, tests
whether the last smooth term is needed, and reports where the smooth
of interest changes significantly.

Statistical settings are read from the environment (GAMM_ALPHA,
GAMM_SIM_COUNT, GAMM_SEED, ...), optionally loaded from a .env file.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(opts.envFile); err != nil && cmd.Flags().Changed("env-file") {
				log.Printf("Could not load %s: %v", opts.envFile, err)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Environment file to load before reading configuration")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "", "Output directory (default GAMM_OUTPUT_DIR)")
	rootCmd.PersistentFlags().IntVarP(&opts.jobs, "jobs", "j", 1, "Number of tasks run at once")

	rootCmd.AddCommand(
		newFitCmd(opts),
		newRunCmd(opts),
		newConcurvityCmd(opts),
	)
	return rootCmd
}
