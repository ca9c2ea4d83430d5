package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/kozaktomas/facegraph/internal/constants"
	"github.com/kozaktomas/facegraph/internal/database"
	"github.com/kozaktomas/facegraph/internal/resolve"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <user-id> <directory>",
	Short: "Resolve a directory of photos into a user's people",
	Long: `Send every image in a directory through the face encoder and resolve the
faces into the user's people. The file name is used as the image ID; images
the user already has are skipped.

Example:
  facegraph import alice ./photos --batch-size 10`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().Int("batch-size", constants.DefaultImportBatchSize, "Images per batch")
	importCmd.Flags().Bool("recursive", false, "Include subdirectories (IDs are paths relative to the directory)")
}

var importExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}

// collectImages returns the image files under dir keyed by their image ID, sorted by ID.
func collectImages(dir string, recursive bool) ([]string, map[string]string, error) {
	paths := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !slices.Contains(importExtensions, strings.ToLower(filepath.Ext(path))) {
			return nil
		}
		id, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		paths[filepath.ToSlash(id)] = path
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	ids := make([]string, 0, len(paths))
	for id := range paths {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, paths, nil
}

// batches splits ids into chunks of at most size.
func batches(ids []string, size int) [][]string {
	size = max(1, min(size, constants.MaxBatchImages))
	var out [][]string
	for chunk := range slices.Chunk(ids, size) {
		out = append(out, chunk)
	}
	return out
}

func runImport(cmd *cobra.Command, args []string) error {
	userID, dir := args[0], args[1]
	ctx := cmd.Context()

	ids, paths, err := collectImages(dir, mustGetBool(cmd, "recursive"))
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stored, err := a.store.ListUserImageIDs(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing stored images: %w", err)
	}
	ids = slices.DeleteFunc(ids, func(id string) bool { return slices.Contains(stored, id) })
	if skipped := len(paths) - len(ids); skipped > 0 {
		fmt.Printf("Skipping %d images already stored for %s\n", skipped, userID)
	}
	if len(ids) == 0 {
		fmt.Println("Nothing to import.")
		return nil
	}

	bar := progressbar.NewOptions(len(ids),
		progressbar.OptionSetDescription("Importing"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	faces := 0
	for _, chunk := range batches(ids, mustGetInt(cmd, "batch-size")) {
		images := make([]resolve.ImageInput, 0, len(chunk))
		for _, id := range chunk {
			data, err := os.ReadFile(paths[id])
			if err != nil {
				return fmt.Errorf("reading %s: %w", paths[id], err)
			}
			images = append(images, resolve.ImageInput{ID: id, Data: data})
		}

		n, err := a.resolver.ProcessBatch(ctx, userID, images)
		if err != nil {
			bar.Exit()
			if errors.Is(err, database.ErrInvalidInput) {
				return fmt.Errorf("batch starting at %s rejected: %w", chunk[0], err)
			}
			return fmt.Errorf("batch starting at %s: %w", chunk[0], err)
		}
		faces += n
		bar.Add(len(chunk))
	}
	bar.Finish()

	fmt.Printf("\nImported %d images with %d faces for %s\n", len(ids), faces, userID)
	return nil
}
