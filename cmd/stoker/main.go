package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stokehold/stoker/pkg/config"
	"github.com/stokehold/stoker/pkg/engine"
	"github.com/stokehold/stoker/pkg/events"
	"github.com/stokehold/stoker/pkg/log"
	"github.com/stokehold/stoker/pkg/producer"
	"github.com/stokehold/stoker/pkg/store"
	"github.com/stokehold/stoker/pkg/workspace"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cfgFile is the optional --config override shared by all commands.
var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stoker",
	Short: "Stoker - training job queue for a shared GPU box",
	Long: `Stoker queues containerized training jobs against a fixed pool of
compute slots (gpu:<n> or cpu), runs them one at a time per worker, and
keeps logs and outputs on shared disk.

Producers submit a zipped workspace (train.py + requirements.txt) with a
resource and a runtime image; workers lease the resource, run the job in
a container, and stream its output to the job log.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Stoker version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./stoker.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(downloadCmd)
}

// loadConfig loads configuration and initializes logging for a command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
		Output:     os.Stderr,
	})
	return cfg, nil
}

// producerEnv is everything a producer-side command needs.
type producerEnv struct {
	cfg      *config.Config
	store    store.Store
	engine   *engine.Engine
	producer *producer.Producer
}

func (e *producerEnv) Close() {
	_ = e.engine.Close()
	_ = e.store.Close()
}

// openProducer wires the producer-side stack: store, workspace, engine
// handle (lazy; only touched when a cancel needs to stop a container).
func openProducer(ctx context.Context) (*producerEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.StoreURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", cfg.StoreURL, err)
	}

	ws := workspace.New(cfg.DataDir, cfg.HostDataDir)
	if err := ws.EnsureLayout(); err != nil {
		st.Close()
		return nil, err
	}

	eng := engine.New(cfg.DockerHost)
	p := producer.New(st, eng, ws, events.NewBroker(), cfg.CancelGrace)
	return &producerEnv{cfg: cfg, store: st, engine: eng, producer: p}, nil
}
