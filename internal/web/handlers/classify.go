package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/kozaktomas/facegraph/internal/imaging"
	"github.com/kozaktomas/facegraph/internal/scene"
)

// Classifier tags images with scene categories and face presence.
type Classifier interface {
	Classify(ctx context.Context, images [][]byte) ([]scene.Result, error)
}

// ClassifyHandler handles scene classification.
type ClassifyHandler struct {
	classifier Classifier
	logger     *log.Logger
}

// NewClassifyHandler creates a new classify handler. classifier may be nil when no scene classifier is configured.
func NewClassifyHandler(classifier Classifier, logger *log.Logger) *ClassifyHandler {
	return &ClassifyHandler{classifier: classifier, logger: logger}
}

// Classify returns tags and face presence for each image, in input order.
func (h *ClassifyHandler) Classify(w http.ResponseWriter, r *http.Request) {
	if h.classifier == nil {
		respondError(w, http.StatusServiceUnavailable, "scene classifier not configured")
		return
	}

	var req []string
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req) == 0 {
		respondError(w, http.StatusBadRequest, "Empty image array")
		return
	}

	images := make([][]byte, len(req))
	for i, s := range req {
		data, err := imaging.DecodeDataURL(s)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("image %d: %v", i, err))
			return
		}
		images[i] = data
	}

	results, err := h.classifier.Classify(r.Context(), images)
	if err != nil {
		if errors.Is(err, imaging.ErrInvalidImage) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, scene.ErrNotConfigured) {
			respondError(w, http.StatusServiceUnavailable, "scene classifier not configured")
			return
		}
		h.logger.Error("classify", "images", len(images), "err", err)
		respondError(w, http.StatusBadGateway, "classification failed")
		return
	}

	respondJSON(w, http.StatusOK, results)
}
