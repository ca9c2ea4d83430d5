package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/facegraph/internal/database"
	"github.com/kozaktomas/facegraph/internal/facematch"
	"github.com/kozaktomas/facegraph/internal/imaging"
	"github.com/kozaktomas/facegraph/internal/resolve"
)

// FaceService is the identity resolution core as seen by the HTTP layer.
type FaceService interface {
	ProcessBatch(ctx context.Context, userID string, images []resolve.ImageInput) (int, error)
	ListPeople(ctx context.Context, userID string) ([]database.PersonSummary, error)
	RenamePerson(ctx context.Context, userID, personID, name string) (bool, error)
	DeleteImage(ctx context.Context, userID, imageID string) ([]string, error)
}

// FacesHandler handles the per-user face endpoints.
type FacesHandler struct {
	faces  FaceService
	logger *log.Logger
}

// NewFacesHandler creates a new faces handler
func NewFacesHandler(faces FaceService, logger *log.Logger) *FacesHandler {
	return &FacesHandler{faces: faces, logger: logger}
}

// ImageRequest is one image of a process request.
type ImageRequest struct {
	ID string `json:"id"`
	// Image is a base64 data URL or bare base64 payload.
	Image string `json:"image"`
}

// ProcessResponse reports the number of faces found in a batch.
type ProcessResponse struct {
	Count int `json:"count"`
}

// RenameRequest is the body of a rename request.
type RenameRequest struct {
	Name string `json:"name"`
}

// RenameResponse acknowledges a rename.
type RenameResponse struct {
	Msg     string `json:"msg"`
	Changed bool   `json:"changed"`
}

// Process resolves a batch of images into the user's people.
func (h *FacesHandler) Process(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	var req []ImageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	images := make([]resolve.ImageInput, len(req))
	for i, img := range req {
		data, err := imaging.DecodeDataURL(img.Image)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("image %s: %v", img.ID, err))
			return
		}
		images[i] = resolve.ImageInput{ID: img.ID, Data: data}
	}

	count, err := h.faces.ProcessBatch(r.Context(), userID, images)
	if err != nil {
		h.logger.Error("process batch", "user", sanitizeForLog(userID), "err", err)
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, ProcessResponse{Count: count})
}

// List returns the user's people with their image IDs. An unknown user has no people.
// The optional name query parameter filters by name, ignoring case and diacritics.
func (h *FacesHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	people, err := h.faces.ListPeople(r.Context(), userID)
	if errors.Is(err, database.ErrNotFound) {
		respondJSON(w, http.StatusOK, []database.PersonSummary{})
		return
	}
	if err != nil {
		h.logger.Error("list people", "user", sanitizeForLog(userID), "err", err)
		respondServiceError(w, err)
		return
	}

	if q := facematch.NormalizePersonName(r.URL.Query().Get("name")); q != "" {
		filtered := make([]database.PersonSummary, 0, len(people))
		for _, p := range people {
			if strings.Contains(facematch.NormalizePersonName(p.Name), q) {
				filtered = append(filtered, p)
			}
		}
		people = filtered
	}
	if people == nil {
		people = []database.PersonSummary{}
	}

	respondJSON(w, http.StatusOK, people)
}

// Rename sets a person's display name. The name comes from the JSON body or the name query parameter.
func (h *FacesHandler) Rename(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	personID := chi.URLParam(r, "personId")

	name := r.URL.Query().Get("name")
	if name == "" && r.ContentLength != 0 {
		var req RenameRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
		name = req.Name
	}

	changed, err := h.faces.RenamePerson(r.Context(), userID, personID, name)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, RenameResponse{Msg: "Success", Changed: changed})
}

// DeleteImage removes an image from the user's graph and returns the IDs of the people it touched.
func (h *FacesHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	imageID := chi.URLParam(r, "imageId")

	touched, err := h.faces.DeleteImage(r.Context(), userID, imageID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			h.logger.Error("delete image", "user", sanitizeForLog(userID), "image", sanitizeForLog(imageID), "err", err)
		}
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, touched)
}
