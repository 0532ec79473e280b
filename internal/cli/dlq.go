package cli

import (
	"github.com/spf13/cobra"
)

var (
	bulkPlatform string
	bulkCategory string
	bulkBatchID  string
	bulkLimit    int
)

var dlqStatsCmd = &cobra.Command{
	Use:   "dlq-stats",
	Short: "Show dead letter queue summary and recent failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		return get("/v1/dlq/stats")
	},
}

var dlqRetryCmd = &cobra.Command{
	Use:   "dlq-retry [dlq_id]",
	Short: "Retry one dead letter entry with a fresh attempt budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/v1/dlq/"+args[0]+"/retry", nil)
	},
}

var bulkRetryCmd = &cobra.Command{
	Use:   "bulk-retry",
	Short: "Retry pending dead letter entries matching a filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}
		if bulkPlatform != "" {
			body["platform"] = bulkPlatform
		}
		if bulkCategory != "" {
			body["error_type"] = bulkCategory
		}
		if bulkBatchID != "" {
			body["batch_id"] = bulkBatchID
		}
		if bulkLimit > 0 {
			body["limit"] = bulkLimit
		}
		return post("/v1/dlq/retry", body)
	},
}

func init() {
	bulkRetryCmd.Flags().StringVar(&bulkPlatform, "platform", "", "filter by platform (shopee, tiktok)")
	bulkRetryCmd.Flags().StringVar(&bulkCategory, "category", "", "filter by error category")
	bulkRetryCmd.Flags().StringVar(&bulkBatchID, "batch", "", "filter by batch id")
	bulkRetryCmd.Flags().IntVar(&bulkLimit, "limit", 0, "max entries to retry (0 = all)")

	rootCmd.AddCommand(dlqStatsCmd)
	rootCmd.AddCommand(dlqRetryCmd)
	rootCmd.AddCommand(bulkRetryCmd)
}
