// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package storage is the filesystem backend for uploads and derived
// artifacts. Callers address files by slash-separated logical paths that are
// confined to the backend's root; every write is atomic and durable.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	xglog "github.com/ManuGH/samplr/internal/log"
	"github.com/google/renameio/v2"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Local stores files under a root directory.
type Local struct {
	root string
}

// NewLocal creates the root if needed and returns a backend confined to it.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New("storage: root must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	return &Local{root: real}, nil
}

// Root returns the resolved root directory.
func (l *Local) Root() string { return l.root }

// Path maps a logical path to its absolute location.
func (l *Local) Path(logical string) (string, error) {
	return confine(l.root, logical)
}

// EnsureDirectory creates the logical directory and its parents.
func (l *Local) EnsureDirectory(logical string) error {
	p, err := l.Path(logical)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p, dirPerm); err != nil {
		return fmt.Errorf("storage: ensure directory %s: %w", logical, err)
	}
	return nil
}

// Put writes r to the logical path atomically, replacing any existing file,
// and returns the number of bytes written.
func (l *Local) Put(ctx context.Context, logical string, r io.Reader) (int64, error) {
	w, err := l.Create(logical)
	if err != nil {
		return 0, err
	}
	defer w.Discard(ctx)

	n, err := io.Copy(w, contextReader{ctx: ctx, r: r})
	if err != nil {
		return n, fmt.Errorf("storage: write %s: %w", logical, err)
	}
	if err := w.Commit(); err != nil {
		return n, err
	}
	return n, nil
}

// Create opens a pending file for the logical path. Nothing is visible at
// the path until Commit; Discard drops the pending file.
func (l *Local) Create(logical string) (*Pending, error) {
	p, err := l.Path(logical)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), dirPerm); err != nil {
		return nil, fmt.Errorf("storage: ensure parent of %s: %w", logical, err)
	}
	pf, err := renameio.NewPendingFile(p, renameio.WithPermissions(filePerm))
	if err != nil {
		return nil, fmt.Errorf("storage: create pending %s: %w", logical, err)
	}
	return &Pending{pf: pf, logical: logical}, nil
}

// Exists reports whether a regular file exists at the logical path.
func (l *Local) Exists(logical string) (bool, error) {
	p, err := l.Path(logical)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: stat %s: %w", logical, err)
	}
	return info.Mode().IsRegular(), nil
}

// Size returns the size of the file at the logical path.
func (l *Local) Size(logical string) (int64, error) {
	p, err := l.Path(logical)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return 0, fmt.Errorf("storage: stat %s: %w", logical, err)
	}
	return info.Size(), nil
}

// Remove deletes the file at the logical path. A missing file is not an error.
func (l *Local) Remove(logical string) error {
	p, err := l.Path(logical)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: remove %s: %w", logical, err)
	}
	return nil
}

// Join builds a logical path from elements.
func Join(elem ...string) string { return path.Join(elem...) }

// Pending is an uncommitted write.
type Pending struct {
	pf      *renameio.PendingFile
	logical string
	done    bool
}

// Write implements io.Writer.
func (p *Pending) Write(b []byte) (int, error) { return p.pf.Write(b) }

// Name returns the temporary file path, for tools that need a filename.
func (p *Pending) Name() string { return p.pf.Name() }

// Logical returns the destination logical path.
func (p *Pending) Logical() string { return p.logical }

// Commit syncs the file and renames it over the destination.
func (p *Pending) Commit() error {
	if err := p.pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("storage: commit %s: %w", p.logical, err)
	}
	p.done = true
	return nil
}

// Discard removes the pending file if it was not committed.
func (p *Pending) Discard(ctx context.Context) {
	if p.done {
		return
	}
	if err := p.pf.Cleanup(); err != nil {
		xglog.FromContext(ctx).Debug().Err(err).Str(xglog.FieldPath, p.logical).Msg("cleanup pending file")
	}
	p.done = true
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(b)
}
