package database

import (
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
)

// Migration is one embedded schema file. Version is its file name.
type Migration struct {
	Version string
	SQL     string
}

// PendingMigrations reads the .sql files in dir of fsys that are not listed in applied,
// ordered by version.
func PendingMigrations(fsys fs.FS, dir string, applied []string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var pending []Migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") || slices.Contains(applied, name) {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		pending = append(pending, Migration{Version: name, SQL: string(content)})
	}
	slices.SortFunc(pending, func(a, b Migration) int { return strings.Compare(a.Version, b.Version) })
	return pending, nil
}
