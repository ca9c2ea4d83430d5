// Package encoder talks to the face-encoder server that detects faces and returns their vectors.
package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/facegraph/internal/constants"
	"github.com/kozaktomas/facegraph/internal/facematch"
	"github.com/kozaktomas/facegraph/internal/imaging"
	"golang.org/x/time/rate"
)

const defaultEncoderURL = "http://localhost:8000"

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Client extracts face vectors through the encoder server.
type Client struct {
	baseURL string
	maxSize int
	client  *http.Client
	limiter *rate.Limiter
}

// New creates a client. rps limits outbound requests per second; zero or less means unlimited.
func New(baseURL string, rps float64) *Client {
	if baseURL == "" {
		baseURL = defaultEncoderURL
	}
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		maxSize: constants.MaxImageSize,
		client:  &http.Client{Timeout: 2 * time.Minute},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// postMultipartImage posts the image as the "file" form field and returns the response body.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", imaging.DetectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
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

	return body, nil
}

// DetectFaces downscales the image and returns every face the encoder found.
func (c *Client) DetectFaces(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	scaled, err := imaging.Downscale(imageData, c.maxSize)
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/embed/face", scaled)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &faceResp, nil
}

// ExtractFaceVectors returns one vector per detected face. An image without faces yields an empty slice.
// Duplicate detections of one face are reported once.
func (c *Client) ExtractFaceVectors(ctx context.Context, imageData []byte) ([]facematch.Vector, error) {
	resp, err := c.DetectFaces(ctx, imageData)
	if err != nil {
		return nil, err
	}

	faces := distinctFaces(resp.Faces)
	vectors := make([]facematch.Vector, 0, len(faces))
	for _, f := range faces {
		vectors = append(vectors, facematch.Vector(f.Embedding))
	}
	return vectors, nil
}

// distinctFaces drops detections whose box overlaps a higher-scored detection of the same face.
func distinctFaces(faces []FaceDetection) []FaceDetection {
	if len(faces) < 2 {
		return faces
	}
	boxes := make([][]float64, len(faces))
	scores := make([]float64, len(faces))
	for i, f := range faces {
		boxes[i] = f.BBox
		scores[i] = f.DetScore
	}
	kept := facematch.SuppressOverlaps(boxes, scores, constants.DuplicateDetectionIoU)
	out := make([]FaceDetection, len(kept))
	for i, k := range kept {
		out[i] = faces[k]
	}
	return out
}

// HasFace reports whether the encoder detects at least one face.
func (c *Client) HasFace(ctx context.Context, imageData []byte) (bool, error) {
	resp, err := c.DetectFaces(ctx, imageData)
	if err != nil {
		return false, err
	}
	return len(resp.Faces) > 0, nil
}
