// Package source implements C1: resolving a source descriptor (a local
// directory or a remote git URL) into a rooted local directory plus a
// cleanup handle.
package source

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/keronhq/keron/internal/kerr"
)

// Resolved is the outcome of resolving a source descriptor.
type Resolved struct {
	// Root is the absolute, canonicalized directory manifests should be
	// discovered under.
	Root string

	// Cleanup releases any temporary resources (e.g. a git clone
	// directory). It is safe to call multiple times and is guaranteed
	// to be invoked by the caller on every exit path.
	Cleanup func()
}

// noopCleanup is shared by local resolutions, which own no temp state.
func noopCleanup() {}

// Resolver resolves a source descriptor into a rooted local directory.
type Resolver struct {
	logger zerolog.Logger
}

// New returns a Resolver that logs via logger.
func New(logger zerolog.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve accepts a source descriptor string and returns a rooted local
// directory. Recognized forms: absolute/relative local directory paths;
// https://, http://, git:// URLs; and scp-style user@host:path remotes.
// file:// is explicitly rejected.
func (r *Resolver) Resolve(ctx context.Context, descriptor string) (*Resolved, error) {
	if strings.HasPrefix(descriptor, "file://") {
		return nil, kerr.New(kerr.ClassSource, "file:// sources are not supported", nil).
			WithCode(kerr.CodeUnsupportedSource).
			WithDetail("source", descriptor)
	}

	if isRemote(descriptor) {
		r.logger.Debug().Str("source", descriptor).Msg("resolving remote source")
		return resolveRemote(ctx, descriptor)
	}

	r.logger.Debug().Str("source", descriptor).Msg("resolving local source")
	return resolveLocal(descriptor)
}

// isRemote reports whether descriptor looks like a remote git source
// rather than a filesystem path.
func isRemote(descriptor string) bool {
	switch {
	case strings.HasPrefix(descriptor, "https://"),
		strings.HasPrefix(descriptor, "http://"),
		strings.HasPrefix(descriptor, "git://"):
		return true
	}
	// scp-style user@host:path, but don't confuse it with a Windows
	// drive letter (C:\...) or a bare relative path containing a colon.
	if at := strings.Index(descriptor, "@"); at > 0 {
		if colon := strings.Index(descriptor[at:], ":"); colon > 0 {
			return true
		}
	}
	return false
}

func resolveLocal(descriptor string) (*Resolved, error) {
	abs, err := filepath.Abs(descriptor)
	if err != nil {
		return nil, kerr.New(kerr.ClassSource, "failed to resolve local path", err).
			WithCode(kerr.CodePathNotADirectory).
			WithDetail("source", descriptor)
	}

	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, kerr.New(kerr.ClassSource, "local source does not exist", err).
			WithCode(kerr.CodePathNotADirectory).
			WithDetail("source", descriptor)
	}

	info, err := os.Stat(canonical)
	if err != nil || !info.IsDir() {
		return nil, kerr.New(kerr.ClassSource, "local source is not a directory", err).
			WithCode(kerr.CodePathNotADirectory).
			WithDetail("source", descriptor)
	}

	return &Resolved{Root: canonical, Cleanup: noopCleanup}, nil
}

// remoteSpec is the parsed form of <repo-url>//<subdir>?ref=<ref>.
type remoteSpec struct {
	repoURL string
	subdir  string
	ref     string
}

func parseRemoteDescriptor(descriptor string) remoteSpec {
	spec := remoteSpec{ref: "main"}

	raw := descriptor
	if idx := strings.Index(raw, "?"); idx >= 0 {
		query := raw[idx+1:]
		raw = raw[:idx]
		if values, err := url.ParseQuery(query); err == nil {
			if ref := values.Get("ref"); ref != "" {
				spec.ref = ref
			}
		}
	}

	if idx := strings.Index(raw, "//"); idx >= 0 {
		// The first "//" is part of the scheme (https://...); only a
		// *second* "//" after the host introduces the subdir tail.
		schemeEnd := strings.Index(raw, "://")
		tailStart := -1
		if schemeEnd >= 0 {
			if idx2 := strings.Index(raw[schemeEnd+3:], "//"); idx2 >= 0 {
				tailStart = schemeEnd + 3 + idx2
			}
		} else if idx >= 0 {
			tailStart = idx
		}
		if tailStart >= 0 {
			spec.subdir = strings.Trim(raw[tailStart+2:], "/")
			raw = raw[:tailStart]
		}
	}

	spec.repoURL = raw
	return spec
}

func resolveRemote(ctx context.Context, descriptor string) (*Resolved, error) {
	spec := parseRemoteDescriptor(descriptor)

	tmpDir, err := os.MkdirTemp("", "keron-clone-*")
	if err != nil {
		return nil, kerr.New(kerr.ClassSource, "failed to create temp clone directory", err).
			WithCode(kerr.CodeCloneFailed)
	}
	cleanup := func() { _ = os.RemoveAll(tmpDir) }

	if err := gitClone(ctx, spec.repoURL, spec.ref, tmpDir); err != nil {
		cleanup()
		return nil, kerr.New(kerr.ClassSource, "git clone failed", err).
			WithCode(kerr.CodeCloneFailed).
			WithDetail("repo", spec.repoURL).
			WithDetail("ref", spec.ref)
	}

	root := tmpDir
	if spec.subdir != "" {
		root = filepath.Join(tmpDir, spec.subdir)
		info, statErr := os.Stat(root)
		if statErr != nil || !info.IsDir() {
			cleanup()
			return nil, kerr.New(kerr.ClassSource, "subdirectory not found in cloned repository", statErr).
				WithCode(kerr.CodeSubdirNotFound).
				WithDetail("subdir", spec.subdir)
		}
	}

	return &Resolved{Root: root, Cleanup: cleanup}, nil
}
