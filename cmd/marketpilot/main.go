// MarketPilot Daemon - the decision and action orchestration service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketpilot/marketpilot/internal/actions"
	"github.com/marketpilot/marketpilot/internal/api"
	"github.com/marketpilot/marketpilot/internal/config"
	"github.com/marketpilot/marketpilot/internal/decisions"
	"github.com/marketpilot/marketpilot/internal/engine"
	"github.com/marketpilot/marketpilot/internal/execution"
	"github.com/marketpilot/marketpilot/internal/learn"
	"github.com/marketpilot/marketpilot/internal/ledger"
	"github.com/marketpilot/marketpilot/internal/logging"
	"github.com/marketpilot/marketpilot/internal/recommend"
	"github.com/marketpilot/marketpilot/internal/storage"
)

var (
	configPath string
	dataDir    string
	port       int
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "marketpilot",
		Short: "MarketPilot Daemon - decision and action orchestration for marketing ops",
		RunE:  runDaemon,
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "Config file path")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	rootCmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "Debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if verbose {
		logging.SetLevel(logging.DEBUG)
	}
	log := logging.ForComponent("daemon")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	// Open database and apply migrations
	db, err := storage.Open(storage.Config{Path: filepath.Join(cfg.DataDir, "marketpilot.db")})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Stores
	actionStore := storage.NewActionStore(db)
	profileStore := storage.NewProfileStore(db)
	outcomeStore := storage.NewOutcomeStore(db)
	decisionStore := storage.NewDecisionStore(db)
	ledgerStore := ledger.NewStore(db.Conn())

	// Engine components
	classifier := actions.NewClassifier(cfg.Policy)
	gate := actions.NewGate(actionStore, classifier)
	queues := actions.NewQueues(actionStore)
	machine := decisions.NewMachine(decisionStore)
	evaluator := recommend.NewEvaluator()
	learner := learn.NewUpdater(profileStore, cfg.Policy, cfg.Learning)
	executor := execution.NewEngine(actionStore, outcomeStore, execution.Simulated(), cfg.Execution.Timeout)

	svc := engine.New(engine.Deps{
		Classifier:  classifier,
		Gate:        gate,
		Queues:      queues,
		Machine:     machine,
		Evaluator:   evaluator,
		Executor:    executor,
		Learner:     learner,
		ActionStore: actionStore,
		Ledger:      ledgerStore,
	})

	server := api.New(api.Config{
		Host:   cfg.Server.Host,
		Port:   cfg.Server.Port,
		Engine: svc,
	})

	// Late-bind the event feed: the hub belongs to the server but the engine
	// publishes into it.
	svc.SetEvents(server.Hub())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	log.Info("MarketPilot listening on %s:%d (data: %s)", cfg.Server.Host, cfg.Server.Port, cfg.DataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(ctx)
}
