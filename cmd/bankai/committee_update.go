package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bankai-xyz/bankai/internal/jobs"
)

// CommitteeUpdateCmd drives a sync-committee rotation job from scratch
// through trace generation, proving, and (unless --export is given)
// on-chain settlement.
func CommitteeUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "committee-update",
		Short: "Generate and settle a sync-committee rotation update",
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := cmd.Flags().GetUint64(FlagSlot)
			if err != nil || slot == 0 {
				return fmt.Errorf("--slot is required")
			}
			exportPath, _ := cmd.Flags().GetString(FlagExport)

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
			job, err := findOrCreateJob(ctx, a, jobs.SyncCommitteeUpdate, slot, jobs.BatchRange{})
			if err != nil {
				return err
			}

			stopAt := jobs.Done
			if exportPath != "" {
				stopAt = jobs.OffchainReady
			}

			job, err = driveToTerminal(ctx, a, job, stopAt)
			if err != nil {
				return err
			}

			if exportPath != "" && job.Status == jobs.OffchainReady {
				calldata, rerr := readCachedCalldata(a, job.JobID)
				if rerr != nil {
					return rerr
				}
				if werr := os.WriteFile(exportPath, calldata, 0o644); werr != nil {
					return fmt.Errorf("write export file: %w", werr)
				}
				fmt.Printf("exported calldata for committee rotation at slot %d to %s\n", slot, exportPath)
				return nil
			}

			if job.Status == jobs.Error {
				return fmt.Errorf("job %s for slot %d ended in Error (see failed_at_step)", job.JobID, slot)
			}
			fmt.Printf("committee update at slot %d settled, tx %s\n", slot, job.TxHash)
			return nil
		},
	}
	cmd.Flags().Uint64(FlagSlot, 0, "period-boundary slot to generate the committee update for")
	cmd.Flags().String(FlagExport, "", "write the generated calldata to this file instead of submitting on-chain")
	return cmd
}
