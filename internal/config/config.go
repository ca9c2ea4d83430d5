package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var categoriesYAML []byte

type Config struct {
	Database DatabaseConfig
	Encoder  EncoderConfig
	Scene    SceneConfig
	Matching MatchingConfig
	Web      WebConfig
	LogLevel string // debug, info, warn, error (default info)
}

type DatabaseConfig struct {
	Driver       string // postgres, mariadb or memory (default postgres)
	URL          string // PostgreSQL connection URL
	MariaDBDSN   string // MariaDB DSN (e.g., facegraph:facegraph@tcp(mariadb:3306)/facegraph)
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type EncoderConfig struct {
	URL string  // empty selects the encoder client default (http://localhost:8000)
	Dim int     // defaults to 128
	RPS float64 // requests per second to the encoder, 0 disables throttling
}

type SceneConfig struct {
	URL            string // scene classifier base URL, empty disables /classify
	CategoriesPath string // optional YAML file overriding the embedded categories
	Categories     []string
}

type MatchingConfig struct {
	Strategy       string // exact or hnsw
	Linkage        string // single, average or complete
	ClusterWorkers int
	ExtractWorkers int
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// categoriesFile is the on-disk layout of a categories YAML file.
type categoriesFile struct {
	Categories []string `yaml:"categories"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a non-negative float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

// splitList splits a comma-separated value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseCategories parses a categories YAML document.
func ParseCategories(data []byte) ([]string, error) {
	var f categoriesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse categories: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("parse categories: no categories listed")
	}
	return f.Categories, nil
}

// LoadCategories returns the categories from path, or the embedded defaults when path is empty.
func LoadCategories(path string) ([]string, error) {
	if path == "" {
		return ParseCategories(categoriesYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read categories file: %w", err)
	}
	return ParseCategories(data)
}

func Load() *Config {
	scene := SceneConfig{
		URL:            os.Getenv("SCENE_CLASSIFIER_URL"),
		CategoriesPath: os.Getenv("SCENE_CATEGORIES_PATH"),
	}
	categories, err := LoadCategories(scene.CategoriesPath)
	if err != nil {
		// The embedded file is always valid; a broken override is a deployment error.
		panic("failed to load scene categories: " + err.Error())
	}
	scene.Categories = categories

	return &Config{
		Database: DatabaseConfig{
			Driver:       strings.ToLower(envString("DATABASE_DRIVER", "postgres")),
			URL:          os.Getenv("DATABASE_URL"),
			MariaDBDSN:   os.Getenv("MARIADB_DSN"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Encoder: EncoderConfig{
			URL: os.Getenv("FACE_ENCODER_URL"),
			Dim: envInt("FACE_ENCODING_DIM", 128),
			RPS: envFloat("FACE_ENCODER_RPS", 0),
		},
		Scene: scene,
		Matching: MatchingConfig{
			Strategy:       strings.ToLower(envString("MATCH_STRATEGY", "exact")),
			Linkage:        envString("CLUSTER_LINKAGE", "average"),
			ClusterWorkers: envInt("CLUSTER_WORKERS", 2),
			ExtractWorkers: envInt("EXTRACT_WORKERS", 4),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: splitList(os.Getenv("WEB_ALLOWED_ORIGINS")),
		},
		LogLevel: envString("LOG_LEVEL", "info"),
	}
}

// Validate checks the settings a server needs before it starts.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case "mariadb":
		if c.Database.MariaDBDSN == "" {
			return fmt.Errorf("MARIADB_DSN is required for the mariadb driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown DATABASE_DRIVER %q (expected postgres, mariadb or memory)", c.Database.Driver)
	}

	switch c.Matching.Strategy {
	case "exact", "hnsw":
	default:
		return fmt.Errorf("unknown MATCH_STRATEGY %q (expected exact or hnsw)", c.Matching.Strategy)
	}
	return nil
}
