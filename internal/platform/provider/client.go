// Package provider implements the HTTP client for the external generation
// backend. Per-call timeouts come from configuration; retry policy is the
// caller's business (the orchestrator treats status failures as transient).
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/genstudio-credit-ledger/internal/config"
	"github.com/genstudio-credit-ledger/internal/orchestrator"
)

// Client talks to the generation provider's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a provider API client.
func NewClient(cfg config.ProviderConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{},
	}
}

type submitRequest struct {
	Kind       string            `json:"kind"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

type statusResponse struct {
	State     string `json:"state"`
	ResultRef string `json:"result_ref,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Submit hands a generation task to the provider and returns its task ID.
func (c *Client) Submit(ctx context.Context, jobKind string, parameters map[string]string) (string, error) {
	body, err := json.Marshal(submitRequest{Kind: jobKind, Parameters: parameters})
	if err != nil {
		return "", fmt.Errorf("failed to encode submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tasks", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider submit request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", newStatusError("submit", resp)
	}

	var parsed submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode submit response: %w", err)
	}
	if parsed.TaskID == "" {
		return "", fmt.Errorf("provider returned an empty task id")
	}
	return parsed.TaskID, nil
}

// Status fetches the current state of a submitted task.
func (c *Client) Status(ctx context.Context, taskID string) (*orchestrator.TaskStatus, error) {
	endpoint := c.baseURL + "/v1/tasks/" + url.PathEscape(taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newStatusError("status", resp)
	}

	var parsed statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}

	status := &orchestrator.TaskStatus{ResultRef: parsed.ResultRef, Reason: parsed.Reason}
	switch parsed.State {
	case "completed", "succeeded":
		status.State = orchestrator.TaskCompleted
	case "failed", "canceled":
		status.State = orchestrator.TaskFailed
	default:
		// "queued", "processing" and anything unrecognized keep the poller going.
		status.State = orchestrator.TaskProcessing
	}
	return status, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func newStatusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("provider %s returned %d: %s", op, resp.StatusCode, string(snippet))
}
