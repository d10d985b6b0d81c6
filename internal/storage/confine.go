// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for logical paths that resolve outside the root.
var ErrOutsideRoot = errors.New("storage: path escapes root")

// confine joins a slash-separated logical path onto realRoot and verifies
// that the result, after resolving symlinks on the existing prefix, stays
// underneath realRoot. realRoot must already be symlink-free.
func confine(realRoot, logical string) (string, error) {
	if logical == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideRoot)
	}
	if strings.Contains(logical, "\\") || strings.ContainsRune(logical, 0) {
		return "", fmt.Errorf("%w: invalid character in %q", ErrOutsideRoot, logical)
	}
	if strings.HasPrefix(logical, "/") {
		return "", fmt.Errorf("%w: absolute path %q", ErrOutsideRoot, logical)
	}

	clean := filepath.Clean(filepath.FromSlash(logical))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, logical)
	}

	full := filepath.Join(realRoot, clean)
	resolved, err := resolveExisting(full)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(realRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q resolves to %s", ErrOutsideRoot, logical, resolved)
	}
	return full, nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of p and
// re-appends the missing tail.
func resolveExisting(p string) (string, error) {
	var tail []string
	cur := p
	for {
		if _, err := os.Lstat(cur); err == nil {
			real, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", fmt.Errorf("resolve %s: %w", cur, err)
			}
			for i := len(tail) - 1; i >= 0; i-- {
				real = filepath.Join(real, tail[i])
			}
			return real, nil
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat %s: %w", cur, err)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}
