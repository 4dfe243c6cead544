package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const slotsPerPeriod = 8192

// VerifyCommitteeCmd submits an already-generated committee-rotation
// proof's calldata on-chain directly, the manual counterpart of
// committee-update --export.
func VerifyCommitteeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-committee",
		Short: "Submit a previously generated committee update's calldata on-chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, _ := cmd.Flags().GetString(FlagBatchID)
			slot, err := cmd.Flags().GetUint64(FlagSlot)
			if jobID == "" || err != nil || slot == 0 {
				return fmt.Errorf("--batch-id and --slot are required")
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
			if job.Slot != slot {
				return fmt.Errorf("job %s is for slot %d, not %d", jobID, job.Slot, slot)
			}

			calldataHex, err := readCachedCalldata(a, jobID)
			if err != nil {
				return fmt.Errorf("read cached calldata: %w", err)
			}
			calldata := []string{"0x" + string(calldataHex)}

			committeeID := slot / slotsPerPeriod
			result, err := a.settle.VerifyCommitteeUpdate(ctx, committeeID, calldata)
			if err != nil {
				return err
			}
			status, err := a.settle.AwaitReceipt(ctx, result.TxHash)
			if err != nil {
				return err
			}
			fmt.Printf("verify-committee tx %s for committee %d: %v\n", result.TxHash, committeeID, status)
			return nil
		},
	}
	cmd.Flags().String(FlagBatchID, "", "job id holding the cached calldata to submit")
	cmd.Flags().Uint64(FlagSlot, 0, "slot the committee rotation was enqueued at")
	return cmd
}
