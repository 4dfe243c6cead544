package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bankai-xyz/bankai/internal/jobs"
)

const FlagBatchID = "batch-id"

// SubmitWrappedProofCmd requests wrapping of an already-generated proof
// into its on-chain-verifiable form and polls the gateway for one burst; if
// the wrapper is still running after that burst, it returns the pending
// error instead of waiting further.
func SubmitWrappedProofCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit-wrapped-proof",
		Short: "Submit the wrapper request for a generated proof and poll it for one burst",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, _ := cmd.Flags().GetString(FlagBatchID)
			if jobID == "" {
				return fmt.Errorf("--batch-id is required")
			}

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
			job, err := a.store.GetJob(ctx, jobID)
			if err != nil {
				return err
			}

			job, err = driveToTerminal(ctx, a, job, jobs.ProofWrapped)
			if err != nil {
				return err
			}
			if job.Status == jobs.Error {
				return fmt.Errorf("job %s ended in Error (see failed_at_step)", job.JobID)
			}
			fmt.Printf("job %s now at %s (wrapper_query_id %s)\n", job.JobID, job.Status, job.WrapperQueryID)
			return nil
		},
	}
	cmd.Flags().String(FlagBatchID, "", "job id to submit the wrapper request for")
	return cmd
}
