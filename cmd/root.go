// Package cmd provides the command line interface.
package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mlhiphy",
	Short: "Infer PDE coefficients with physics-informed Gaussian processes",
	Long: `mlhiphy fits the coefficients of a linear differential operator to
observations of a field u and its image f = L u by minimising the negative log
marginal likelihood of a Gaussian process.`,
	SilenceUsage: true,
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
