package cli

import (
	"github.com/spf13/cobra"
)

var (
	runNoWebhook bool
	runListen    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the polling pipelines and the webhook intake",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if runNoWebhook {
			a.Config.Webhook.Enabled = false
		}
		if runListen != "" {
			a.Config.Webhook.Listen = runListen
		}
		return a.Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().BoolVar(&runNoWebhook, "no-webhook", false, "Disable the webhook server even if enabled in config")
	runCmd.Flags().StringVar(&runListen, "listen", "", "Override webhook.listen")
}
