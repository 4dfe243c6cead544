package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bankai-xyz/bankai/internal/jobs"
)

// ProveNextCommitteeCmd advances the oldest pending sync-committee rotation
// job through trace generation and proving.
func ProveNextCommitteeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prove-next-committee",
		Short: "Advance the oldest pending committee rotation job through trace generation and proving",
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
			job, ok, err := nextJobOfKind(ctx, a, jobs.ProofGenerated, jobs.SyncCommitteeUpdate)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("no pending committee job to prove")
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
