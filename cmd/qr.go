package cmd

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goblast/pkg/protocol"
)

func qrCmd() *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Display the pending pairing QR code",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newGatewayClient()
			if err != nil {
				return err
			}
			var st protocol.SessionStatePayload
			if err := client.get("/status", &st); err != nil {
				return err
			}
			if st.PairingCode == "" {
				return fmt.Errorf("no pairing challenge pending (session state: %s)", st.State)
			}

			if outFile != "" {
				if err := qrcode.WriteFile(st.PairingCode, qrcode.Medium, 512, outFile); err != nil {
					return err
				}
				fmt.Printf("QR code written to %s\n", outFile)
				return nil
			}

			code, err := qrcode.New(st.PairingCode, qrcode.Medium)
			if err != nil {
				return err
			}
			fmt.Print(code.ToSmallString(false))
			fmt.Println("Scan with the phone to pair.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&outFile, "output", "o", "", "write a PNG instead of printing to the terminal")
	return cmd
}
