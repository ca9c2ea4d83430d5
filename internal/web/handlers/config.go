package handlers

import (
	"net/http"

	"github.com/kozaktomas/facegraph/internal/config"
	"github.com/kozaktomas/facegraph/internal/database"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	Driver          string   `json:"driver"`
	Backends        []string `json:"backends"`
	MatchStrategy   string   `json:"match_strategy"`
	Linkage         string   `json:"linkage"`
	EncodingDim     int      `json:"encoding_dim"`
	SceneEnabled    bool     `json:"scene_enabled"`
	SceneCategories []string `json:"scene_categories"`
}

// Get returns the non-secret part of the running configuration
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	categories := h.config.Scene.Categories
	if categories == nil {
		categories = []string{}
	}

	respondJSON(w, http.StatusOK, ConfigResponse{
		Driver:          h.config.Database.Driver,
		Backends:        database.Backends(),
		MatchStrategy:   h.config.Matching.Strategy,
		Linkage:         h.config.Matching.Linkage,
		EncodingDim:     h.config.Encoder.Dim,
		SceneEnabled:    h.config.Scene.URL != "",
		SceneCategories: categories,
	})
}
