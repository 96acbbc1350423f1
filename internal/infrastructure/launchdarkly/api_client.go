// Package launchdarkly provides the outbound adapters for the flag
// platform: a REST client for reading flag configuration and an SDK-backed
// evaluation client for serving variations and reporting events.
package launchdarkly

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/releaseguard/backend/internal/domain/simulation"
)

// maxResponseSize is the maximum allowed response size from the flag API (5MB)
const maxResponseSize = 5 * 1024 * 1024

// measuredRolloutType is the experiment allocation type of a guarded rollout
const measuredRolloutType = "measuredRollout"

// APIClient reads flag configuration from the flag-management REST API.
// It implements simulation.FlagAPI.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient creates a REST client for the given API base URL.
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GuardedRolloutActive reports whether the flag currently has a measured
// rollout in progress in the given environment. The environment's
// fallthrough rule and every targeting rule are inspected; any rollout with
// a measured experiment allocation counts as active.
func (c *APIClient) GuardedRolloutActive(ctx context.Context, cfg simulation.Config, envKey string) (bool, error) {
	endpoint := fmt.Sprintf("%s/flags/%s/%s", c.baseURL, cfg.ProjectKey, cfg.FlagKey)

	body, err := c.get(ctx, endpoint, cfg.APIKey)
	if err != nil {
		return false, err
	}

	var flag flagResponse
	if err := json.Unmarshal(body, &flag); err != nil {
		return false, fmt.Errorf("%w: %v", simulation.ErrFlagAPIInvalidResponse, err)
	}

	env, ok := flag.Environments[envKey]
	if !ok {
		return false, nil
	}
	if env.Fallthrough.measured() {
		return true, nil
	}
	for _, rule := range env.Rules {
		if rule.measured() {
			return true, nil
		}
	}
	return false, nil
}

// ResolveEnvironmentKey finds the environment of the project whose SDK key
// matches the session config.
func (c *APIClient) ResolveEnvironmentKey(ctx context.Context, cfg simulation.Config) (string, error) {
	endpoint := fmt.Sprintf("%s/projects/%s/environments", c.baseURL, cfg.ProjectKey)

	body, err := c.get(ctx, endpoint, cfg.APIKey)
	if err != nil {
		return "", err
	}

	var envs environmentsResponse
	if err := json.Unmarshal(body, &envs); err != nil {
		return "", fmt.Errorf("%w: %v", simulation.ErrFlagAPIInvalidResponse, err)
	}

	for _, item := range envs.Items {
		if item.APIKey == cfg.SDKKey {
			return item.Key, nil
		}
	}
	return "", simulation.ErrEnvironmentNotFound
}

// get performs an authenticated GET against the flag API
func (c *APIClient) get(ctx context.Context, endpoint, apiKey string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("launchdarkly: failed to create request: %w", err)
	}

	req.Header.Set("Authorization", apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", simulation.ErrFlagAPIUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("launchdarkly: failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: HTTP %d", simulation.ErrFlagAPIRequest, resp.StatusCode)
	}

	return body, nil
}
