package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lobbyharvest/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "lobbyharvest",
	Short: "Lobbying registry aggregation engine",
	Long: "Queries public lobbying registries concurrently for a firm, normalizes and deduplicates the " +
		"firm-to-client relationships they publish, and reports per-source outcomes alongside the records.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if err := c.Validate(cmd.Name()); err != nil {
			return err
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// printError writes a command error to w. errAllFailed is skipped: the
// per-source failures were already printed.
func printError(w io.Writer, err error) {
	if err == nil || errors.Is(err, errAllFailed) {
		return
	}
	fmt.Fprintln(w, "Error:", err)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}
