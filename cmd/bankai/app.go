package main

import (
	"context"
	"fmt"
	"os"

	"cosmossdk.io/log"

	"github.com/bankai-xyz/bankai/internal/beacon"
	"github.com/bankai-xyz/bankai/internal/circuit"
	"github.com/bankai-xyz/bankai/internal/config"
	"github.com/bankai-xyz/bankai/internal/events"
	"github.com/bankai-xyz/bankai/internal/executor"
	"github.com/bankai-xyz/bankai/internal/jobs"
	"github.com/bankai-xyz/bankai/internal/prover"
	"github.com/bankai-xyz/bankai/internal/scheduler"
	"github.com/bankai-xyz/bankai/internal/settlement"
	"github.com/bankai-xyz/bankai/internal/store"
)

// app bundles every adapter plus the job executor built from a resolved
// config. Every CLI command and the daemon share this single construction
// path, following the retrieval pack's per-command ethclient.Dial/New
// pattern but consolidated since bankai resolves all endpoints from one
// Config instead of per-command flags.
type app struct {
	cfg      *config.Config
	store    *store.Store
	beacon   *beacon.Client
	settle   *settlement.Client
	prover   *prover.Client
	circuit  *circuit.Runner
	executor *executor.Executor
	logger   log.Logger
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := log.NewLogger(os.Stderr).With("component", "bankai")

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	beaconClient, err := beacon.New(ctx, cfg.BeaconRPCURL, cfg.Fork)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("connect beacon: %w", err)
	}

	settleClient, err := settlement.New(cfg.StarknetRPCURL, cfg.StarknetAddress, cfg.StarknetPrivateKey)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("connect settlement: %w", err)
	}

	proverClient := prover.New(cfg.ProofRegistry, cfg.AtlanticAPIKey)
	circuitRunner := circuit.NewRunner(envOrDefault("BANKAI_CIRCUIT_BINARY", "bankai-trace-runner"))

	exec := &executor.Executor{
		Store:         st,
		Beacon:        beaconClient,
		Settlement:    settleClient,
		Prover:        proverClient,
		Circuit:       circuitRunner,
		Sink:          events.NewLogSink(logger),
		Retry:         jobs.DefaultRetryPolicy(),
		CacheDir:      envOrDefault("BANKAI_CACHE_DIR", os.TempDir()+"/bankai-cache"),
		PollBurstBase: cfg.Scheduler.PollBaseDelay,
		PollBurstCap:  cfg.Scheduler.PollMaxDelay,
	}

	return &app{
		cfg:      cfg,
		store:    st,
		beacon:   beaconClient,
		settle:   settleClient,
		prover:   proverClient,
		circuit:  circuitRunner,
		executor: exec,
		logger:   logger,
	}, nil
}

// newScheduler builds the daemon scheduler over this app's store, beacon
// adapter, and executor.
func newScheduler(a *app) *scheduler.Scheduler {
	return scheduler.New(a.store, a.beacon, a.executor, a.cfg.Scheduler, events.NewLogSink(a.logger))
}

func (a *app) Close() {
	a.beacon.Close()
	a.settle.Close()
	a.store.Close()
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
