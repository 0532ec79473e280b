package cli

import (
	"github.com/spf13/cobra"
)

var queueStatsCmd = &cobra.Command{
	Use:   "queue-stats",
	Short: "Show queue state counts and scheduling depths",
	RunE: func(cmd *cobra.Command, args []string) error {
		return get("/v1/queue/stats")
	},
}

var batchStatusCmd = &cobra.Command{
	Use:   "batch-status [batch_id]",
	Short: "Show the aggregate status of one batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return get("/v1/batches/" + args[0])
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause job claims; in-flight jobs finish",
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/v1/queue/pause", nil)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume job claims",
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/v1/queue/resume", nil)
	},
}

func init() {
	rootCmd.AddCommand(queueStatsCmd)
	rootCmd.AddCommand(batchStatusCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
}
