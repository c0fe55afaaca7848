// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultBranch is checked out when an ingest request names none.
const DefaultBranch = "main"

// ErrBadPath is returned for file paths that escape the repository.
var ErrBadPath = errors.New("file path escapes repository root")

// skippedDirs are never descended into when listing repository files.
var skippedDirs = map[string]struct{}{
	"vendor":       {},
	"node_modules": {},
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the loader's logger.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// WithLoaderMaxFileSize caps the size of files ReadFile will return.
func WithLoaderMaxFileSize(bytes int64) LoaderOption {
	return func(l *Loader) {
		if bytes > 0 {
			l.maxFileSize = bytes
		}
	}
}

// Loader clones git repositories under a base directory and serves
// their files.
//
// Description:
//
//	Clones are shallow and single-branch, made by shelling out to the
//	git binary. A repository that already exists on disk is updated
//	(checkout + pull) instead of recloned; when the update fails the
//	existing checkout is used as is.
//
// Thread Safety:
//
//	Safe for concurrent reads. Concurrent CloneOrUpdate calls for the
//	same repository are not coordinated; callers serialize ingestion
//	per repository.
type Loader struct {
	baseDir     string
	maxFileSize int64
	logger      *slog.Logger
}

// NewLoader creates a Loader rooted at baseDir, creating the directory
// when needed.
func NewLoader(baseDir string, opts ...LoaderOption) (*Loader, error) {
	if baseDir == "" {
		return nil, errors.New("ingest: base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create clone directory: %w", err)
	}

	l := &Loader{
		baseDir:     baseDir,
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l, nil
}

// CloneOrUpdate clones the repository, or updates an existing checkout,
// and returns its path on disk.
func (l *Loader) CloneOrUpdate(ctx context.Context, repoURL, repoID, branch string) (string, error) {
	if branch == "" {
		branch = DefaultBranch
	}
	repoPath := filepath.Join(l.baseDir, repoID)

	if _, err := os.Stat(repoPath); err == nil {
		l.logger.Info("repository exists, updating",
			slog.String("repo_id", repoID),
		)
		return l.update(ctx, repoPath, branch)
	}

	l.logger.Info("cloning repository",
		slog.String("url", repoURL),
		slog.String("branch", branch),
	)
	if _, err := l.git(ctx, "", "clone", "--depth", "1", "--branch", branch, "--single-branch", repoURL, repoPath); err != nil {
		// Leave no partial checkout behind.
		_ = os.RemoveAll(repoPath)
		return "", fmt.Errorf("clone %s: %w", repoURL, err)
	}
	return repoPath, nil
}

// update checks out the branch and pulls. A failed update keeps the
// existing checkout usable.
func (l *Loader) update(ctx context.Context, repoPath, branch string) (string, error) {
	if _, err := l.git(ctx, repoPath, "checkout", branch); err != nil {
		l.logger.Warn("checkout failed, using existing checkout",
			slog.String("path", repoPath),
			slog.String("error", err.Error()),
		)
		return repoPath, nil
	}
	if _, err := l.git(ctx, repoPath, "pull", "--ff-only", "origin", branch); err != nil {
		l.logger.Warn("pull failed, using existing checkout",
			slog.String("path", repoPath),
			slog.String("error", err.Error()),
		)
	}
	return repoPath, nil
}

// git runs one git command, returning combined output. The output is
// folded into the error on failure.
func (l *Loader) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return "", fmt.Errorf("git %s: %w", args[0], err)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, msg)
	}
	return string(out), nil
}

// ListFiles lists repository files with one of the given extensions,
// as slash-separated paths relative to the repository root. Dot
// directories, vendor, and node_modules are skipped. An unknown
// repository lists as empty.
func (l *Loader) ListFiles(repoID string, extensions []string) ([]string, error) {
	repoPath := filepath.Join(l.baseDir, repoID)
	if _, err := os.Stat(repoPath); err != nil {
		return []string{}, nil
	}

	wanted := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		wanted[strings.ToLower(ext)] = struct{}{}
	}

	files := make([]string, 0)
	err := filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == repoPath {
				return nil
			}
			if strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if _, skip := skippedDirs[name]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if len(wanted) > 0 {
			if _, ok := wanted[strings.ToLower(filepath.Ext(name))]; !ok {
				return nil
			}
		}
		rel, err := filepath.Rel(repoPath, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list files for %s: %w", repoID, err)
	}
	return files, nil
}

// ReadFile returns the content of one repository file. Paths are
// relative to the repository root and must not escape it.
func (l *Loader) ReadFile(repoID, filePath string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(filePath)) {
		return "", fmt.Errorf("%w: %s", ErrBadPath, filePath)
	}

	fullPath := filepath.Join(l.baseDir, repoID, filepath.FromSlash(filePath))
	info, err := os.Stat(fullPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filePath, err)
	}
	if info.Size() > l.maxFileSize {
		return "", fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, filePath, info.Size())
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filePath, err)
	}
	return string(data), nil
}

// Path returns the on-disk path of a cloned repository.
func (l *Loader) Path(repoID string) (string, bool) {
	repoPath := filepath.Join(l.baseDir, repoID)
	if _, err := os.Stat(repoPath); err != nil {
		return "", false
	}
	return repoPath, true
}

// Delete removes a cloned repository from disk. It reports whether a
// checkout existed.
func (l *Loader) Delete(repoID string) (bool, error) {
	repoPath := filepath.Join(l.baseDir, repoID)
	if _, err := os.Stat(repoPath); err != nil {
		return false, nil
	}
	if err := os.RemoveAll(repoPath); err != nil {
		return false, fmt.Errorf("delete %s: %w", repoID, err)
	}
	l.logger.Info("deleted repository checkout", slog.String("repo_id", repoID))
	return true, nil
}

// RepoIDFromURL derives a stable repository ID from a git URL: the last
// two path segments joined with an underscore, with any ".git" removed.
// URLs too short to carry owner and name get a random ID.
func RepoIDFromURL(repoURL string) string {
	trimmed := strings.TrimRight(repoURL, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 2 {
		id := parts[len(parts)-2] + "_" + parts[len(parts)-1]
		return strings.ReplaceAll(id, ".git", "")
	}
	return uuid.NewString()
}
