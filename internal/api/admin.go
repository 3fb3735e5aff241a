package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rickgao/effekt/internal/relay"
	"github.com/rickgao/effekt/internal/version"
)

// Health fetches the server health report. It is not retried. A 503 still
// returns the decoded report alongside the *APIError.
func (c *Client) Health(ctx context.Context) (relay.HealthReport, error) {
	var report relay.HealthReport

	body, err := c.doRequest(ctx, "/health")
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
			_ = json.Unmarshal(apiErr.Body, &report)
		}
		return report, err
	}

	if err := json.Unmarshal(body, &report); err != nil {
		return report, fmt.Errorf("unmarshal response: %w", err)
	}
	return report, nil
}

// Clients lists the peers connected to the server.
func (c *Client) Clients(ctx context.Context) ([]relay.ClientInfo, error) {
	var clients []relay.ClientInfo
	if err := c.get(ctx, "/clients", &clients); err != nil {
		return nil, err
	}
	return clients, nil
}

// Version fetches the server build information.
func (c *Client) Version(ctx context.Context) (version.Info, error) {
	var info version.Info
	if err := c.get(ctx, "/version", &info); err != nil {
		return version.Info{}, err
	}
	return info, nil
}
