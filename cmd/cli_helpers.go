package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/goblast/internal/config"
	"github.com/nextlevelbuilder/goblast/pkg/protocol"
)

func resolveConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	return config.Load(resolveConfigPath())
}

// gatewayClient is the thin HTTP client the CLI subcommands use to talk
// to a running gateway.
type gatewayClient struct {
	base  string
	token string
	http  *http.Client
}

func newGatewayClient() (*gatewayClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return &gatewayClient{
		base:  fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
		token: cfg.Gateway.Token,
		http:  &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (c *gatewayClient) get(path string, out interface{}) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *gatewayClient) post(path string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	return c.do(http.MethodPost, path, r, out)
}

func (c *gatewayClient) do(method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable at %s (is it running?): %w", c.base, err)
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
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
