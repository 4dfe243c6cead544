package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// DeployContractCmd initializes the Starknet verifier contract, seeding it
// with the genesis slot the light client should start trusting from.
func DeployContractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy-contract",
		Short: "Initialize the Starknet verifier contract at a genesis slot",
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

			ctx := cmd.Context()
			result, err := a.settle.DeployContract(ctx, slot)
			if err != nil {
				return err
			}

			status, err := a.settle.AwaitReceipt(ctx, result.TxHash)
			if err != nil {
				return err
			}
			fmt.Printf("deploy-contract tx %s at genesis slot %d: %v\n", result.TxHash, slot, status)
			return nil
		},
	}
	cmd.Flags().Uint64(FlagSlot, 0, "genesis slot to initialize the contract with")
	return cmd
}
