package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bankai-xyz/bankai/internal/jobs"
)

// nextJobOfKind returns the earliest resumable job of one of kinds that
// hasn't yet reached stopAt, following list_resumable's (slot, created_at)
// ordering (spec.md §4.5) so proving progresses oldest-first.
func nextJobOfKind(ctx context.Context, a *app, stopAt jobs.Status, kinds ...jobs.Kind) (jobs.Job, bool, error) {
	pending, err := a.store.ListResumable(ctx)
	if err != nil {
		return jobs.Job{}, false, err
	}
	for _, j := range pending {
		if j.Status >= stopAt {
			continue
		}
		for _, k := range kinds {
			if j.Kind == k {
				return j, true, nil
			}
		}
	}
	return jobs.Job{}, false, nil
}

// ProveNextEpochCmd advances the oldest pending epoch job (single or batch)
// through trace generation and proving, stopping once the proof is ready to
// be wrapped.
func ProveNextEpochCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prove-next-epoch",
		Short: "Advance the oldest pending epoch job through trace generation and proving",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			job, ok, err := nextJobOfKind(ctx, a, jobs.ProofGenerated, jobs.EpochUpdate, jobs.EpochBatchUpdate)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("no pending epoch job to prove")
				return nil
			}

			job, err = driveToTerminal(ctx, a, job, jobs.ProofGenerated)
			if err != nil {
				return err
			}
			if job.Status == jobs.Error {
				return fmt.Errorf("job %s ended in Error (see failed_at_step)", job.JobID)
			}
			fmt.Printf("job %s (slot %d) now at %s\n", job.JobID, job.Slot, job.Status)
			return nil
		},
	}
	return cmd
}
