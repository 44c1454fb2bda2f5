package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"PhysioFlow/internal/session"
)

// RemoteRequest is the body posted to the reply endpoint.
type RemoteRequest struct {
	Prompt string `json:"prompt"`
}

// RemoteResponse is the body the reply endpoint answers with.
type RemoteResponse struct {
	Response string `json:"response,omitempty"`
	Feedback string `json:"feedback,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Remote posts the prompt to an HTTP endpoint and returns its "response" field.
type Remote struct {
	endpoint   string
	httpClient *http.Client
}

// NewRemote creates a remote provider. timeout bounds the whole exchange.
func NewRemote(endpoint string, timeout time.Duration) (*Remote, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("remote endpoint not set")
	}
	return &Remote{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (r *Remote) Name() string {
	return "remote"
}

func (r *Remote) Reply(ctx context.Context, prompt string, _ []session.Message) (string, error) {
	jsonData, err := json.Marshal(RemoteRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("API error: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var apiResp RemoteResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("%w: %v", session.ErrMalformedReply, err)
	}
	if apiResp.Response == "" {
		return "", fmt.Errorf("%w: no response field in reply", session.ErrMalformedReply)
	}
	return apiResp.Response, nil
}
