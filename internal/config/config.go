// Package config loads Bankai's daemon/CLI configuration from environment
// variables, with an optional TOML file for the knobs spec.md §6 marks
// optional (concurrency cap, poll schedule, batch size, per-job deadline).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// ForkSchedule mirrors the consensus-layer spec fields Bankai's beacon
// adapter needs to compute signing-root fork domains. It starts from the
// static defaults below, overlaid by the TOML file's values (Open Question
// (a)); it is not fetched from the beacon node.
type ForkSchedule struct {
	GenesisForkVersion   string `toml:"genesis_fork_version"`
	AltairForkVersion    string `toml:"altair_fork_version"`
	AltairForkEpoch      uint64 `toml:"altair_fork_epoch"`
	BellatrixForkVersion string `toml:"bellatrix_fork_version"`
	BellatrixForkEpoch   uint64 `toml:"bellatrix_fork_epoch"`
	CapellaForkVersion   string `toml:"capella_fork_version"`
	CapellaForkEpoch     uint64 `toml:"capella_fork_epoch"`
	DenebForkVersion     string `toml:"deneb_fork_version"`
	DenebForkEpoch       uint64 `toml:"deneb_fork_epoch"`
}

// defaultForkSchedule is the testnet schedule Bankai targets out of the box
// (spec.md §9 Open Question (a): hard-coded here, overridable via TOML).
func defaultForkSchedule() ForkSchedule {
	return ForkSchedule{
		GenesisForkVersion:   "0x90000069",
		AltairForkVersion:    "0x90000070",
		AltairForkEpoch:      50,
		BellatrixForkVersion: "0x90000071",
		BellatrixForkEpoch:   100,
		CapellaForkVersion:   "0x90000072",
		CapellaForkEpoch:     56832,
		DenebForkVersion:     "0x90000073",
		DenebForkEpoch:       132608,
	}
}

// Scheduler holds the knobs from spec.md §4.8/§5 that govern concurrency
// and cadence.
type Scheduler struct {
	ConcurrencyCap  int           `toml:"concurrency_cap"`
	BatchSize       int           `toml:"batch_size"`
	PollBaseDelay   time.Duration `toml:"poll_base_delay"`
	PollMaxDelay    time.Duration `toml:"poll_max_delay"`
	PollMaxAttempts int           `toml:"poll_max_attempts"`
	JobDeadline     time.Duration `toml:"job_deadline"`
	HeadPollPeriod  time.Duration `toml:"head_poll_period"`
}

func defaultScheduler() Scheduler {
	return Scheduler{
		ConcurrencyCap:  8,
		BatchSize:       8,
		PollBaseDelay:   30 * time.Second,
		PollMaxDelay:    15 * time.Minute,
		PollMaxAttempts: 6,
		JobDeadline:     24 * time.Hour,
		HeadPollPeriod:  12 * time.Second,
	}
}

// Config is the fully resolved configuration for the daemon and every CLI
// command.
type Config struct {
	StarknetAddress    string `toml:"-"`
	StarknetPrivateKey string `toml:"-"`
	StarknetRPCURL     string `toml:"-"`
	BeaconRPCURL       string `toml:"-"`
	ProofRegistry      string `toml:"-"`
	AtlanticAPIKey     string `toml:"-"`

	DBPath string `toml:"db_path"`

	Fork      ForkSchedule `toml:"fork"`
	Scheduler Scheduler    `toml:"scheduler"`
}

// DefaultConfig returns a config with sensible defaults, the same
// constructor shape the retrieval pack's attestor config uses
// (DefaultAttestorConfig).
func DefaultConfig() *Config {
	return &Config{
		DBPath:    "bankai.db",
		Fork:      defaultForkSchedule(),
		Scheduler: defaultScheduler(),
	}
}

// Load resolves configuration from the environment, optionally overlaying a
// TOML file at tomlPath (empty string skips the overlay).
func Load(tomlPath string) (*Config, error) {
	cfg := DefaultConfig()

	if tomlPath != "" {
		if _, err := toml.DecodeFile(tomlPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file %q: %w", tomlPath, err)
		}
	}

	cfg.StarknetAddress = os.Getenv("STARKNET_ADDRESS")
	cfg.StarknetPrivateKey = os.Getenv("STARKNET_PRIVATE_KEY")
	cfg.StarknetRPCURL = envString("STARKNET_RPC_URL", cfg.StarknetRPCURL)
	cfg.BeaconRPCURL = envString("BEACON_RPC_URL", cfg.BeaconRPCURL)
	cfg.ProofRegistry = os.Getenv("PROOF_REGISTRY")
	cfg.AtlanticAPIKey = os.Getenv("ATLANTIC_API_KEY")
	cfg.DBPath = envString("BANKAI_DB_PATH", cfg.DBPath)

	cfg.Scheduler.ConcurrencyCap = envInt("BANKAI_CONCURRENCY_CAP", cfg.Scheduler.ConcurrencyCap)
	cfg.Scheduler.BatchSize = envInt("BANKAI_BATCH_SIZE", cfg.Scheduler.BatchSize)
	cfg.Scheduler.PollMaxAttempts = envInt("BANKAI_POLL_MAX_ATTEMPTS", cfg.Scheduler.PollMaxAttempts)
	cfg.Scheduler.PollBaseDelay = envDuration("BANKAI_POLL_BASE_DELAY", cfg.Scheduler.PollBaseDelay)
	cfg.Scheduler.PollMaxDelay = envDuration("BANKAI_POLL_MAX_DELAY", cfg.Scheduler.PollMaxDelay)
	cfg.Scheduler.JobDeadline = envDuration("BANKAI_JOB_DEADLINE", cfg.Scheduler.JobDeadline)
	cfg.Scheduler.HeadPollPeriod = envDuration("BANKAI_HEAD_POLL_PERIOD", cfg.Scheduler.HeadPollPeriod)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BeaconRPCURL == "" {
		return fmt.Errorf("BEACON_RPC_URL must be set")
	}
	if c.StarknetRPCURL == "" {
		return fmt.Errorf("STARKNET_RPC_URL must be set")
	}
	return nil
}

// WriteTomlConfig writes the config to a TOML file, following the
// retrieval pack's AttestorConfig.WriteTomlConfig pattern.
func (c *Config) WriteTomlConfig(filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := toml.NewEncoder(file)
	return encoder.Encode(c)
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}
