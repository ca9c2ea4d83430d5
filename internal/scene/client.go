// Package scene classifies images into scene tags through the scene-classifier server.
package scene

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kozaktomas/facegraph/internal/constants"
	"github.com/kozaktomas/facegraph/internal/imaging"
)

// ErrNotConfigured is returned when no classifier URL is set.
var ErrNotConfigured = errors.New("scene classifier not configured")

type predictRequest struct {
	Images []string `json:"images"` // base64 JPEG, already resized
}

type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
}

// Client posts image batches to the classifier's /predict endpoint.
type Client struct {
	baseURL string
	size    int
	client  *http.Client
}

// NewClient creates a client. An empty baseURL yields a client whose calls fail with ErrNotConfigured.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		size:    constants.SceneImageSize,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// Predict returns one probability vector per image, in input order.
func (c *Client) Predict(ctx context.Context, images [][]byte) ([][]float64, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	req := predictRequest{Images: make([]string, len(images))}
	for i, data := range images {
		resized, err := imaging.SmartResizeJPEG(data, c.size, c.size)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		req.Images[i] = base64.StdEncoding.EncodeToString(resized)
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var predResp predictResponse
	if err := json.Unmarshal(body, &predResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(predResp.Predictions) != len(images) {
		return nil, fmt.Errorf("classifier returned %d predictions for %d images", len(predResp.Predictions), len(images))
	}
	return predResp.Predictions, nil
}
