// Command bankai is the CLI entrypoint for the off-chain light-client
// bridge core: one-shot operator commands plus the `daemon` subcommand that
// runs the scheduler loop until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bankai-xyz/bankai/internal/config"
	"github.com/bankai-xyz/bankai/internal/errs"
	"github.com/bankai-xyz/bankai/internal/jobs"
	"github.com/bankai-xyz/bankai/internal/store"
)

const FlagConfigFile = "config"

// Exit codes per spec.md §6: 0 success, 1 permanent failure, 2 transient.
const (
	exitOK        = 0
	exitPermanent = 1
	exitTransient = 2
)

func main() {
	if err := RootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor classifies a command failure the same way the executor
// classifies adapter errors, so operator scripts can distinguish "retry me"
// from "this needs a human".
func exitCodeFor(err error) int {
	if errs.IsTransient(err) {
		return exitTransient
	}
	return exitPermanent
}

func RootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bankai",
		Short: "Bankai: Ethereum-to-Starknet light-client bridge core",
	}

	rootCmd.PersistentFlags().String(FlagConfigFile, "", "optional TOML config file; environment variables override its values")

	rootCmd.AddCommand(ContractInitCmd())
	rootCmd.AddCommand(EpochUpdateCmd())
	rootCmd.AddCommand(CommitteeUpdateCmd())
	rootCmd.AddCommand(ProveNextEpochCmd())
	rootCmd.AddCommand(ProveNextCommitteeCmd())
	rootCmd.AddCommand(SubmitWrappedProofCmd())
	rootCmd.AddCommand(CheckBatchStatusCmd())
	rootCmd.AddCommand(ContractStatusCmd())
	rootCmd.AddCommand(DeployContractCmd())
	rootCmd.AddCommand(VerifyEpochCmd())
	rootCmd.AddCommand(VerifyCommitteeCmd())
	rootCmd.AddCommand(DecommitEpochCmd())
	rootCmd.AddCommand(DaemonCmd())

	return rootCmd
}

// resolveConfig reads the --config flag and loads the full configuration,
// the shared first step of every command's RunE.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	tomlPath, _ := cmd.Flags().GetString(FlagConfigFile)
	return config.Load(tomlPath)
}

// findOrCreateJob enqueues a fresh job for (kind, slot, batch), or resumes
// the one already active for that key — the CLI-level counterpart of
// invariant (i), since a command re-run after a crash must pick up the
// existing job rather than fail on ErrAlreadyExists with nothing to do.
func findOrCreateJob(ctx context.Context, a *app, kind jobs.Kind, slot uint64, batch jobs.BatchRange) (jobs.Job, error) {
	job := jobs.NewJob(kind, slot, batch, time.Now().UTC())
	if err := a.store.CreateJob(ctx, job); err != nil {
		if err != store.ErrAlreadyExists {
			return jobs.Job{}, err
		}
		existing, ok, ferr := a.store.FindActiveJob(ctx, kind, slot)
		if ferr != nil {
			return jobs.Job{}, ferr
		}
		if !ok {
			return jobs.Job{}, fmt.Errorf("job for kind %s slot %d already exists but is terminal; nothing to resume", kind, slot)
		}
		return existing, nil
	}
	return job, nil
}

// driveToTerminal repeatedly steps job through the executor until it
// reaches a terminal status or a transient failure is hit, mirroring the
// scheduler's driveJob loop but run synchronously to completion for a
// single operator-invoked command (no backoff sleep: an operator command
// fails fast and lets the caller retry per spec.md §6's exit-code
// convention instead of blocking the terminal).
func driveToTerminal(ctx context.Context, a *app, job jobs.Job, stopAt jobs.Status) (jobs.Job, error) {
	for job.Status != stopAt && !job.Status.IsTerminal() {
		claimed, err := a.store.ClaimJob(ctx, job.JobID, job.Status)
		if err != nil {
			return job, err
		}
		next, err := a.executor.Step(ctx, claimed)
		if err != nil {
			return claimed, err
		}
		job = next
	}
	return job, nil
}

// readCachedCalldata reads the hex-encoded calldata the executor cached for
// jobID at the OffchainReady step, for commands that export instead of
// auto-submitting on-chain.
func readCachedCalldata(a *app, jobID string) ([]byte, error) {
	return os.ReadFile(filepath.Join(a.executor.CacheDir, jobID, "calldata.hex"))
}
