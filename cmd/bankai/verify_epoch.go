package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// VerifyEpochCmd submits an already-generated epoch proof's calldata
// on-chain directly, the manual counterpart of epoch-update --export: an
// operator who exported calldata earlier resumes here once ready to settle.
func VerifyEpochCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-epoch",
		Short: "Submit a previously generated epoch proof's calldata on-chain",
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

			result, err := a.settle.VerifyEpochUpdate(ctx, slot, calldata)
			if err != nil {
				return err
			}
			status, err := a.settle.AwaitReceipt(ctx, result.TxHash)
			if err != nil {
				return err
			}
			fmt.Printf("verify-epoch tx %s for slot %d: %v\n", result.TxHash, slot, status)
			return nil
		},
	}
	cmd.Flags().String(FlagBatchID, "", "job id holding the cached calldata to submit")
	cmd.Flags().Uint64(FlagSlot, 0, "slot the proof covers")
	return cmd
}
