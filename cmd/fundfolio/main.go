// Command fundfolio serves the portfolio optimizer over HTTP and Telegram,
// refreshes the exchange price cache and runs one-off optimizations.
package main

import (
	"fmt"
	"os"

	"github.com/aristath/fundfolio/internal/config"
	"github.com/aristath/fundfolio/pkg/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfg *config.Config
	log zerolog.Logger
)

// rootCmd is the base command of the fundfolio CLI
var rootCmd = &cobra.Command{
	Use:   "fundfolio",
	Short: "Real-estate fund portfolio optimizer",
	Long: `fundfolio assembles portfolios of exchange-traded real-estate funds.
It caches daily prices from the Moscow Exchange and runs a Black-Litterman
mean-variance optimizer for a risk, return or liquidity objective.

Configuration is read from FUNDFOLIO_* environment variables and an optional .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		log = logger.New(logger.Config{
			Level:  cfg.LogLevel,
			Pretty: cfg.LogPretty,
			Output: os.Stderr,
		})
		logger.SetGlobalLogger(log)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, refreshCmd, optimizeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
