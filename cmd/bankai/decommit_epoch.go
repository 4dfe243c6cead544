package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bankai-xyz/bankai/internal/jobs"
)

const FlagEpoch = "epoch"

// DecommitEpochCmd reveals one epoch's state root out of an already-settled
// EpochBatchUpdate job's batch commitment (spec.md §5(b)), using the
// authentication path stepFinalize recorded for that epoch at Done. Unlike
// verify-epoch/verify-committee, the batch job itself never submits this
// write: it only gets the job to Done with the batch root on-chain, and an
// operator decommits individual epochs out of it afterward, on demand.
func DecommitEpochCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decommit-epoch",
		Short: "Reveal one epoch's state root out of a settled batch commitment",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, _ := cmd.Flags().GetString(FlagBatchID)
			epoch, err := cmd.Flags().GetUint64(FlagEpoch)
			if jobID == "" || err != nil {
				return fmt.Errorf("--batch-id and --epoch are required")
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
			if job.Kind != jobs.EpochBatchUpdate {
				return fmt.Errorf("job %s is a %s job, not an EpochBatchUpdate", jobID, job.Kind)
			}
			if job.Status != jobs.Done {
				return fmt.Errorf("job %s has not reached Done yet (status %s)", jobID, job.Status)
			}
			if epoch < job.BatchRange.BeginEpoch || epoch > job.BatchRange.EndEpoch {
				return fmt.Errorf("epoch %d is outside job %s's batch range [%d, %d]", epoch, jobID, job.BatchRange.BeginEpoch, job.BatchRange.EndEpoch)
			}

			paths, err := a.store.ListEpochMerklePaths(ctx, epoch, epoch)
			if err != nil {
				return err
			}
			path, ok := paths[epoch]
			if !ok {
				return fmt.Errorf("no recorded merkle path for epoch %d", epoch)
			}

			result, err := a.settle.DecommitBatchedEpoch(ctx, epoch, []string{path})
			if err != nil {
				return err
			}
			status, err := a.settle.AwaitReceipt(ctx, result.TxHash)
			if err != nil {
				return err
			}
			fmt.Printf("decommit-epoch tx %s for epoch %d: %v\n", result.TxHash, epoch, status)
			return nil
		},
	}
	cmd.Flags().String(FlagBatchID, "", "job id of the settled EpochBatchUpdate job")
	cmd.Flags().Uint64(FlagEpoch, 0, "epoch within the batch range to reveal")
	return cmd
}
