package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-live-attendance/pkg/config"
)

// Result is the verifier's verdict for one descriptor pair.
type Result struct {
	IsMatch    bool    `json:"isMatch"`
	Confidence float64 `json:"confidence"`
	Distance   float64 `json:"distance"`
}

type verifyRequest struct {
	CandidateDescriptor []float64 `json:"candidateDescriptor"`
	StoredDescriptor    []float64 `json:"storedDescriptor"`
	Threshold           float64   `json:"threshold"`
}

// Client calls the external face recognition service. The service is pure
// from the coordinator's perspective: same descriptors in, same verdict out,
// no side effects.
type Client struct {
	baseURL   string
	threshold float64
	http      *http.Client
	logger    *zap.Logger
}

// NewClient constructs a verifier client.
func NewClient(cfg config.VerifierConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 0.6
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		threshold: threshold,
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}
}

// Verify compares a candidate descriptor against the stored one.
func (c *Client) Verify(ctx context.Context, candidate, stored []float64) (*Result, error) {
	if len(candidate) == 0 || len(stored) == 0 {
		return nil, fmt.Errorf("verify: both descriptors are required")
	}

	body, err := json.Marshal(verifyRequest{
		CandidateDescriptor: candidate,
		StoredDescriptor:    stored,
		Threshold:           c.threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("verify: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("verify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify: call service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verify: service returned %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("verify: decode response: %w", err)
	}

	c.logger.Debug("face verification completed",
		zap.Bool("is_match", result.IsMatch),
		zap.Float64("distance", result.Distance),
	)
	return &result, nil
}
