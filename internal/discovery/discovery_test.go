package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte("link(dest='~/.zshrc', src='zshrc')\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestDiscoverFindsManifestsSorted(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "zsh", "manifest.lua"))
	writeFile(t, filepath.Join(root, "aliases.lua"))
	writeFile(t, filepath.Join(root, "nvim", "manifest.lua"))

	got, err := New(zerolog.Nop()).Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("found %d manifests, want 3: %v", len(got), got)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] > got[i] {
			t.Errorf("results not sorted: %q > %q", got[i-1], got[i])
		}
	}
}

func TestDiscoverSkipsHiddenDirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".git", "manifest.lua"))
	writeFile(t, filepath.Join(root, "zsh", "manifest.lua"))

	got, err := New(zerolog.Nop()).Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("found %d manifests, want 1: %v", len(got), got)
	}
}

func TestDiscoverIgnoresNonManifestFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "zsh", "manifest.lua"))
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("# dotfiles\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := New(zerolog.Nop()).Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("found %d manifests, want 1: %v", len(got), got)
	}
}

func TestDiscoverEmptyTree(t *testing.T) {
	root := t.TempDir()

	got, err := New(zerolog.Nop()).Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("found %d manifests, want 0", len(got))
	}
}

func TestDiscoverSymlinkCycleSafe(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "real", "manifest.lua"))

	if err := os.Symlink(root, filepath.Join(root, "real", "loop")); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	got, err := New(zerolog.Nop()).Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("found %d manifests, want 1 (cycle should not duplicate): %v", len(got), got)
	}
}
