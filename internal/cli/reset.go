package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/store"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the data directory (event log, graph snapshot, candidate ledger)",
	RunE:  runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "confirm deletion")
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	dataDir := cfg.Data.Dir
	if dataDir == "" {
		dataDir, err = store.DefaultDataDir()
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}
	}

	if !resetYes {
		return fmt.Errorf("refusing to delete %s without --yes", dataDir)
	}

	if err := os.RemoveAll(dataDir); err != nil {
		return fmt.Errorf("remove data dir: %w", err)
	}
	fmt.Printf("removed %s\n", dataDir)
	return nil
}
