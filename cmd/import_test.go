package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/facegraph/internal/config"
	"github.com/kozaktomas/facegraph/internal/facematch"
	"github.com/kozaktomas/facegraph/internal/logging"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCollectImages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.JPG"))
	writeFile(t, filepath.Join(dir, "a.png"))
	writeFile(t, filepath.Join(dir, "notes.txt"))
	writeFile(t, filepath.Join(dir, "trip", "c.webp"))

	t.Run("flat", func(t *testing.T) {
		ids, paths, err := collectImages(dir, false)
		if err != nil {
			t.Fatalf("collectImages() error = %v", err)
		}
		if len(ids) != 2 || ids[0] != "a.png" || ids[1] != "b.JPG" {
			t.Errorf("ids = %v, want [a.png b.JPG]", ids)
		}
		if paths["a.png"] != filepath.Join(dir, "a.png") {
			t.Errorf("unexpected path %q", paths["a.png"])
		}
	})

	t.Run("recursive", func(t *testing.T) {
		ids, _, err := collectImages(dir, true)
		if err != nil {
			t.Fatalf("collectImages() error = %v", err)
		}
		if len(ids) != 3 || ids[2] != "trip/c.webp" {
			t.Errorf("ids = %v, want trip/c.webp included", ids)
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		if _, _, err := collectImages(filepath.Join(dir, "nope"), false); err == nil {
			t.Error("expected error for missing directory")
		}
	})
}

func TestBatches(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}

	tests := []struct {
		name string
		size int
		want []int
	}{
		{"even split", 5, []int{5}},
		{"remainder", 2, []int{2, 2, 1}},
		{"zero size means one per batch", 0, []int{1, 1, 1, 1, 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := batches(ids, tc.size)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d batches, want %d", len(got), len(tc.want))
			}
			for i, b := range got {
				if len(b) != tc.want[i] {
					t.Errorf("batch %d has %d ids, want %d", i, len(b), tc.want[i])
				}
			}
		})
	}
}

func TestWaitOrAbort(t *testing.T) {
	if !waitOrAbort(context.Background(), time.Millisecond) {
		t.Error("expected wait to complete")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if waitOrAbort(ctx, time.Hour) {
		t.Error("expected cancelled context to abort")
	}
}

func TestResolverOptions(t *testing.T) {
	cfg := &config.Config{
		Encoder:  config.EncoderConfig{Dim: 64},
		Matching: config.MatchingConfig{Strategy: "hnsw", Linkage: "complete", ExtractWorkers: 3, ClusterWorkers: 1},
	}
	opts, err := resolverOptions(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("resolverOptions() error = %v", err)
	}
	if opts.Dim != 64 || opts.Linkage != facematch.LinkageComplete || opts.Strategy != "hnsw" || opts.ExtractWorkers != 3 {
		t.Errorf("unexpected options %+v", opts)
	}

	cfg.Matching.Linkage = "ward"
	if _, err := resolverOptions(cfg, logging.Discard()); err == nil {
		t.Error("expected error for unknown linkage")
	}
}
