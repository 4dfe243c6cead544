package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ContractStatusCmd reports the settlement contract's on-chain watermarks
// directly, the read-only counterpart of check-batch-status: that command
// reports what one job believes happened, this one reports what the
// contract itself has actually accepted.
func ContractStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contract-status",
		Short: "Report the settlement contract's latest committee period, epoch slot, and pause state",
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
			committeeID, err := a.settle.LatestCommitteeID(ctx)
			if err != nil {
				return err
			}
			epochSlot, err := a.settle.LatestEpochSlot(ctx)
			if err != nil {
				return err
			}
			paused, err := a.settle.IsPaused(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("latest_committee_id: %d\n", committeeID)
			fmt.Printf("latest_epoch_slot:    %d\n", epochSlot)
			fmt.Printf("paused:               %v\n", paused)
			return nil
		},
	}
	return cmd
}
