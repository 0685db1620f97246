package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideMediaDir is returned for job paths that leave the media
// directory.
var ErrOutsideMediaDir = errors.New("path is outside the media directory")

// mediaRoot returns the absolute, symlink-free form of dir. An empty dir is
// the working directory.
func mediaRoot(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("media dir %s: %w", dir, err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return abs, nil
}

// resolveMediaPath maps a client path onto the media root. Relative paths
// are taken from the root; absolute ones must already lie under it.
// Symlinks are followed before the check, so a link pointing out of the
// root is rejected too. Paths that do not exist yet are checked lexically
// and fail later when opened.
func resolveMediaPath(root, p string) (string, error) {
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	full = filepath.Clean(full)
	if real, err := filepath.EvalSymlinks(full); err == nil {
		full = real
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}

	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideMediaDir, p)
	}
	return full, nil
}
