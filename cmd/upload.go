package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goblast/pkg/protocol"
)

func uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Stage an attachment and print its ref",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newGatewayClient()
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			part, err := mw.CreateFormFile("file", filepath.Base(args[0]))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, f); err != nil {
				return err
			}
			mw.Close()

			req, err := http.NewRequest(http.MethodPost, client.base+"/attachments", &buf)
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", mw.FormDataContentType())
			if client.token != "" {
				req.Header.Set("Authorization", "Bearer "+client.token)
			}

			resp, err := client.http.Do(req)
			if err != nil {
				return fmt.Errorf("gateway unreachable at %s (is it running?): %w", client.base, err)
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode >= 400 {
				var env protocol.ErrorEnvelope
				if json.Unmarshal(data, &env) == nil && env.Message != "" {
					return fmt.Errorf("%s: %s", env.Code, env.Message)
				}
				return fmt.Errorf("gateway returned %s", resp.Status)
			}

			var out struct {
				Ref         string `json:"ref"`
				ContentType string `json:"content_type"`
			}
			if err := json.Unmarshal(data, &out); err != nil {
				return err
			}
			fmt.Printf("%s  (%s)\n", out.Ref, out.ContentType)
			return nil
		},
	}
}
