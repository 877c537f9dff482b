package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goblast/internal/send"
)

func sendCmd() *cobra.Command {
	var (
		recipients  []string
		text        string
		attachments []string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Submit a batch and wait for per-recipient outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newGatewayClient()
			if err != nil {
				return err
			}

			req := send.Request{
				Recipients:     recipients,
				Text:           text,
				AttachmentRefs: attachments,
			}
			var report send.Report
			if err := client.post("/send", req, &report); err != nil {
				return err
			}

			for _, addr := range report.Delivered {
				fmt.Printf("delivered  %s\n", addr)
			}
			for addr, reason := range report.Failed {
				fmt.Printf("failed     %s  (%s)\n", addr, reason)
			}
			fmt.Printf("%d delivered, %d failed\n", len(report.Delivered), len(report.Failed))
			if len(report.Failed) > 0 {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&recipients, "to", "t", nil, "recipient phone number (repeatable)")
	cmd.Flags().StringVarP(&text, "message", "m", "", "message text")
	cmd.Flags().StringSliceVarP(&attachments, "attach", "a", nil, "attachment ref from `goblast upload` (repeatable)")
	cmd.MarkFlagRequired("to")
	return cmd
}
