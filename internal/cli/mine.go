package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/habitus"
	"github.com/hearthd/hearth/internal/observability"
	"github.com/hearthd/hearth/internal/store"
)

var (
	mineZone    string
	mineMinutes int
)

var mineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Run one mining pass against the local data directory and print rules",
	RunE:  runMine,
}

func init() {
	mineCmd.Flags().StringVar(&mineZone, "zone", "", "restrict mining to one zone")
	mineCmd.Flags().IntVar(&mineMinutes, "window", 0, "window size in minutes (default from config)")
}

func runMine(cmd *cobra.Command, args []string) error {
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
	db, err := store.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	log := zap.NewNop()
	miner := habitus.New(db, cfg.Habitus, log, observability.NewCollector("hearth"))

	window := cfg.Habitus.Window
	if mineMinutes > 0 {
		window = time.Duration(mineMinutes) * time.Minute
	}
	to := time.Now()
	rules, err := miner.Mine(to.Add(-window), to, mineZone)
	if err != nil {
		return err
	}

	if len(rules) == 0 {
		fmt.Println("no rules above thresholds")
		return nil
	}
	for _, r := range rules {
		zone := r.ZoneID
		if zone == "" {
			zone = "(global)"
		}
		fmt.Printf("%-50s  zone=%-16s  supp=%.3f conf=%.3f lift=%.2f n=%d\n",
			r.Antecedent+" => "+r.Consequent, zone, r.Support, r.Confidence, r.Lift, r.SampleCount)
	}
	return nil
}
