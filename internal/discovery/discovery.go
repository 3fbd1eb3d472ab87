// Package discovery implements C2: enumerating manifest files under a
// resolved source root.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/keronhq/keron/internal/kerr"
)

// manifestExt is the file extension manifests are discovered under.
const manifestExt = ".lua"

// Discoverer enumerates manifest files under a resolved source root.
type Discoverer struct {
	logger zerolog.Logger
}

// New returns a Discoverer that logs via logger.
func New(logger zerolog.Logger) *Discoverer {
	return &Discoverer{logger: logger}
}

// Discover walks root and returns the absolute paths of every manifest
// file found, in stable sorted order. Hidden directories (dotfiles
// directories themselves are an expected tree shape, but directories
// whose own name starts with "." are considered tooling directories,
// e.g. .git) are skipped entirely. Symlinked directories are followed
// at most once: a symlink is resolved and walked, but a symlink whose
// target has already been visited is skipped to avoid cycles.
func (d *Discoverer) Discover(root string) ([]string, error) {
	visited := make(map[string]bool)

	var files []string
	err := walk(root, root, visited, &files)
	if err != nil {
		return nil, kerr.New(kerr.ClassSource, "manifest discovery failed", err).
			WithCode(kerr.CodeFilesystemError).
			WithDetail("root", root)
	}

	sort.Strings(files)
	d.logger.Debug().Int("count", len(files)).Str("root", root).Msg("discovered manifests")
	return files, nil
}

func walk(dir, root string, visited map[string]bool, files *[]string) error {
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", dir, err)
	}
	if visited[real] {
		return nil
	}
	visited[real] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(dir, name)

		if entry.IsDir() {
			if strings.HasPrefix(name, ".") {
				continue
			}
			if err := walk(path, root, visited, files); err != nil {
				return err
			}
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(path)
			if err != nil {
				continue
			}
			targetInfo, err := os.Stat(target)
			if err != nil {
				continue
			}
			if targetInfo.IsDir() {
				if err := walk(path, root, visited, files); err != nil {
					return err
				}
				continue
			}
			path = target
		}

		if strings.HasSuffix(name, manifestExt) {
			*files = append(*files, path)
		}
	}

	return nil
}
