package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// CheckBatchStatusCmd reports a job's current status and monotone fields
// without driving any further work — purely a read against the store.
func CheckBatchStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-batch-status",
		Short: "Report a job's current status",
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

			job, err := a.store.GetJob(cmd.Context(), jobID)
			if err != nil {
				return err
			}

			fmt.Printf("job:          %s\n", job.JobID)
			fmt.Printf("kind:         %s\n", job.Kind)
			fmt.Printf("slot:         %d\n", job.Slot)
			fmt.Printf("status:       %s\n", job.Status)
			fmt.Printf("retries:      %d\n", job.RetriesCount)
			if job.GenerateQueryID != "" {
				fmt.Printf("generate_query_id: %s\n", job.GenerateQueryID)
			}
			if job.WrapperQueryID != "" {
				fmt.Printf("wrapper_query_id:  %s\n", job.WrapperQueryID)
			}
			if job.TxHash != "" {
				fmt.Printf("tx_hash:      %s\n", job.TxHash)
			}
			if job.HasFailure {
				fmt.Printf("last_failure: %s at %s\n", job.FailedAtStep, job.LastFailureTime)
			}
			return nil
		},
	}
	cmd.Flags().String(FlagBatchID, "", "job id to report status for")
	return cmd
}
