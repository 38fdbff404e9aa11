package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sagekb/sage/internal/config"
)

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.Token == "" {
		return nil, fmt.Errorf("SAGE_API_TOKEN is not set")
	}

	return &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.Auth.Token,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable — is sage running? (%w)", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("server error: status %d", resp.StatusCode)
	}

	return resp, nil
}

func (c *apiClient) post(path string, body any) (*http.Response, error) {
	return c.do(context.Background(), http.MethodPost, path, body)
}

func (c *apiClient) get(path string) (*http.Response, error) {
	return c.do(context.Background(), http.MethodGet, path, nil)
}

func (c *apiClient) delete(path string) (*http.Response, error) {
	return c.do(context.Background(), http.MethodDelete, path, nil)
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
