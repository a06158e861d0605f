package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hearthd/hearth/internal/candidates"
	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/engine"
	"github.com/hearthd/hearth/internal/graph"
	"github.com/hearthd/hearth/internal/habitus"
	"github.com/hearthd/hearth/internal/intake"
	"github.com/hearthd/hearth/internal/mood"
	"github.com/hearthd/hearth/internal/observability"
	"github.com/hearthd/hearth/internal/server"
	"github.com/hearthd/hearth/internal/store"
)

var allowNoToken bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline daemon and HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&allowNoToken, "allow-no-token", false,
		"serve the pipeline routes without authentication (development only)")
}

// checkToken gates startup on an API token. Serving unauthenticated is an
// explicit opt-in, never a silent default.
func checkToken(token string, allowUnauthenticated bool, log *zap.Logger) error {
	if token != "" {
		return nil
	}
	if !allowUnauthenticated {
		return errors.New("no API token configured: set HEARTH_TOKEN or server.token, or pass --allow-no-token")
	}
	log.Warn("serving without authentication, pipeline routes are open")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	// A local .env may carry HEARTH_TOKEN / HEARTH_DATA_DIR; absence is fine.
	godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	dataDir := cfg.Data.Dir
	if dataDir == "" {
		dataDir, err = store.DefaultDataDir()
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}
	}

	if err := checkToken(cfg.Server.Token, allowNoToken, log); err != nil {
		return err
	}

	// Refusing to start beats running with silent data loss.
	db, err := store.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	metrics := observability.NewCollector("hearth")
	g := graph.New(db, cfg.Graph, log, metrics)
	in := intake.New(db, cfg.Intake, log, metrics)
	in.Register(g)
	miner := habitus.New(db, cfg.Habitus, log, metrics)
	cands := candidates.New(db, cfg.Candidates, log, metrics)
	scorer := mood.New(g, cfg.Mood, log)

	eng := engine.New(db, g, miner, cands, scorer, cfg, log)
	eng.Start()
	defer eng.Stop()

	srv := server.New(db, in, g, miner, scorer, cands, metrics, cfg, log, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("hearth serving", zap.String("addr", addr), zap.String("db", db.Path))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-done
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return err
	}

	// Engine.Stop (deferred) drains in-flight passes; take one last graph
	// snapshot so restart resumes from current state.
	if err := g.Save(); err != nil {
		log.Error("final graph snapshot", zap.Error(err))
	}
	return nil
}
