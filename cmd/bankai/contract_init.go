package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const FlagSlot = "slot"

// ContractInitCmd bootstraps the daemon cursor at a genesis slot so a fresh
// deployment's scheduler has a starting point to tail the beacon head from,
// without retroactively enqueueing work for history before that slot.
func ContractInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contract-init",
		Short: "Bootstrap the daemon cursor at a genesis slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := cmd.Flags().GetUint64(FlagSlot)
			if err != nil || slot == 0 {
				return fmt.Errorf("--slot is required")
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

			epoch, err := a.beacon.FetchEpochProof(cmd.Context(), slot)
			if err != nil {
				return err
			}
			if err := a.store.UpsertCursor(cmd.Context(), slot, epoch.SignedHeaderRoot); err != nil {
				return err
			}
			fmt.Printf("cursor initialized at slot %d (root %s)\n", slot, epoch.SignedHeaderRoot)
			return nil
		},
	}
	cmd.Flags().Uint64(FlagSlot, 0, "genesis slot to bootstrap the cursor at")
	return cmd
}
