package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPBridge talks to an enforcement agent over a local HTTP endpoint.
// The agent exposes three routes:
//
//	POST /v1/blocking/apply   {"targets": [...]}
//	POST /v1/blocking/remove  {"targets": [...]}
//	GET  /v1/emergency/status
type HTTPBridge struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

// NewHTTPBridge creates a bridge against the given base endpoint.
func NewHTTPBridge(endpoint string, timeout time.Duration, logger zerolog.Logger) *HTTPBridge {
	return &HTTPBridge{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "bridge").Logger(),
	}
}

type blockingRequest struct {
	Targets []string `json:"targets"`
}

func (b *HTTPBridge) post(ctx context.Context, path string, targets []string) error {
	body, err := json.Marshal(blockingRequest{Targets: targets})
	if err != nil {
		return fmt.Errorf("encode blocking request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Warn().Err(err).Str("path", path).Msg("Enforcement endpoint unreachable")
		return ErrUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("enforcement endpoint returned %d for %s", resp.StatusCode, path)
	}

	return nil
}

func (b *HTTPBridge) ApplyBlocking(ctx context.Context, targets []string) error {
	return b.post(ctx, "/v1/blocking/apply", targets)
}

func (b *HTTPBridge) RemoveBlocking(ctx context.Context, targets []string) error {
	return b.post(ctx, "/v1/blocking/remove", targets)
}

func (b *HTTPBridge) QueryEmergencyStatus(ctx context.Context) (*EmergencyStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"/v1/emergency/status", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, ErrUnavailable
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNotImplemented:
		return nil, ErrUnavailable
	default:
		return nil, fmt.Errorf("enforcement endpoint returned %d for status query", resp.StatusCode)
	}

	var status EmergencyStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode emergency status: %w", err)
	}

	return &status, nil
}
