package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"attendance-kiosk/config"
)

const maxErrorBody = 4 << 10

// Client calls the remote attendance API on behalf of the kiosk.
type Client struct {
	baseURL   string
	deviceKey string
	http      *http.Client
}

// New creates a client from the api section of the config.
func New(cfg config.APIConfig, log logrus.FieldLogger) *Client {
	var transport http.RoundTripper = http.DefaultTransport
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.WithError(err).WithField("proxy", cfg.HTTPProxy).Warn("invalid proxy URL, remote client will not use a proxy")
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		deviceKey: cfg.DeviceAPIKey,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}
}

// Commit sends one attendance scan to the server, authorised by the staff pin.
func (c *Client) Commit(ctx context.Context, req ScanRequest, pin string) (*ScanResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scan request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/iot/checkin", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.deviceKey)
	httpReq.Header.Set("X-Staff-PIN", pin)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &APIError{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: KindNetwork, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Kind: KindInvalidResponse, Err: err}
	}
	if env.Data == nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Kind: KindInvalidResponse, Message: "response has no data"}
	}
	if env.Data.Message == "" {
		env.Data.Message = env.Message
	}
	return env.Data, nil
}

// Health probes the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	return nil
}

func statusError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, Kind: KindFromStatus(resp.StatusCode)}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Message != "" {
		apiErr.Message = env.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
