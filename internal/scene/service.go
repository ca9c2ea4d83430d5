package scene

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Predictor returns class probabilities for a batch of images.
type Predictor interface {
	Predict(ctx context.Context, images [][]byte) ([][]float64, error)
}

// FaceDetector reports whether an image contains at least one face.
type FaceDetector interface {
	HasFace(ctx context.Context, image []byte) (bool, error)
}

// Result is the classification of one image.
type Result struct {
	Tags    []string `json:"tags"`
	HasFace bool     `json:"has_face"`
}

// ErrEmptyBatch is returned for a classification request without images.
var ErrEmptyBatch = errors.New("empty image batch")

// Service combines scene tags with face presence.
type Service struct {
	predictor  Predictor
	faces      FaceDetector
	categories []string
	workers    int
}

// NewService creates a classification service. faces may be nil, in which case HasFace is always false.
func NewService(predictor Predictor, faces FaceDetector, categories []string, workers int) *Service {
	return &Service{
		predictor:  predictor,
		faces:      faces,
		categories: categories,
		workers:    max(1, workers),
	}
}

// Classify tags every image and checks it for faces. Results are in input order.
func (s *Service) Classify(ctx context.Context, images [][]byte) ([]Result, error) {
	if len(images) == 0 {
		return nil, ErrEmptyBatch
	}

	results := make([]Result, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers + 1)

	g.Go(func() error {
		predictions, err := s.predictor.Predict(gctx, images)
		if err != nil {
			return fmt.Errorf("predict scenes: %w", err)
		}
		if len(predictions) != len(images) {
			return fmt.Errorf("predict scenes: got %d predictions for %d images", len(predictions), len(images))
		}
		for i, probs := range predictions {
			results[i].Tags = TagsFromPrediction(probs, s.categories)
		}
		return nil
	})

	if s.faces != nil {
		for i, img := range images {
			g.Go(func() error {
				has, err := s.faces.HasFace(gctx, img)
				if err != nil {
					return fmt.Errorf("detect faces in image %d: %w", i, err)
				}
				results[i].HasFace = has
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
