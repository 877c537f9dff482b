package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goblast/pkg/protocol"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session state and queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newGatewayClient()
			if err != nil {
				return err
			}
			var st protocol.SessionStatePayload
			if err := client.get("/status", &st); err != nil {
				return err
			}

			fmt.Printf("State:       %s\n", st.State)
			fmt.Printf("Queue depth: %d\n", st.QueueDepth)
			if st.PairingCode != "" {
				fmt.Println("Pairing:     challenge pending (run `goblast qr` to display it)")
			}
			if st.RestartAttempts > 0 {
				fmt.Printf("Restarts:    %d\n", st.RestartAttempts)
			}
			if st.LastError != "" {
				fmt.Printf("Last error:  %s\n", st.LastError)
			}
			return nil
		},
	}
}

func disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Tear down the session, wipe credentials and re-initialize",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newGatewayClient()
			if err != nil {
				return err
			}
			if err := client.post("/disconnect", nil, nil); err != nil {
				return err
			}
			fmt.Println("Session reset. A new pairing challenge will be issued shortly.")
			return nil
		},
	}
}
