package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/kozaktomas/facegraph/internal/constants"
	"github.com/kozaktomas/facegraph/internal/database"
	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every user, person and image",
	Long: `Delete all data from the configured store. The schema is kept.

Without --force the command waits a few seconds before wiping, so it can be
aborted with Ctrl+C.`,
	RunE: runDBReset,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbResetCmd)

	dbResetCmd.Flags().Bool("force", false, "Reset immediately without the abort window")
}

// waitOrAbort waits for d and reports false if ctx is cancelled first.
func waitOrAbort(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func runDBReset(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	resetter, ok := a.store.(database.Resetter)
	if !ok {
		return fmt.Errorf("driver %q does not support reset", a.cfg.Database.Driver)
	}

	if !mustGetBool(cmd, "force") {
		fmt.Printf("WARNING: all data in the %s store will be deleted in %s. Press Ctrl+C to abort.\n",
			a.cfg.Database.Driver, constants.ResetGracePeriod)
		if !waitOrAbort(ctx, constants.ResetGracePeriod) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := resetter.Reset(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("resetting store: %w", err)
	}
	a.logger.Warn("store reset", "driver", a.cfg.Database.Driver)
	fmt.Println("Store reset.")
	return nil
}
