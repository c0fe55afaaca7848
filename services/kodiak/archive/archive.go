// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive copies index snapshots to Google Cloud Storage.
//
// Archiving is optional and happens after ingestion settles, so a lost
// disk can be rebuilt from the newest object prefix instead of
// re-embedding every repository.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// snapshotPrefix is the object prefix snapshots are archived under.
const snapshotPrefix = "snapshots"

// Config holds the GCS connection settings.
type Config struct {
	// Bucket receives the snapshot objects.
	Bucket string

	// CredentialsFile is an optional service account key path. When
	// empty, application default credentials apply.
	CredentialsFile string
}

// Archiver uploads snapshot directories to a GCS bucket.
type Archiver struct {
	client *storage.Client
	bucket string
	logger *slog.Logger
}

// New builds the archiver.
//
// Inputs:
//
//	ctx - Context for client construction.
//	cfg - Bucket and optional credentials file.
//	logger - Structured logger. Pass nil for slog.Default().
//
// Outputs:
//
//	*Archiver - Ready archiver. Call Close on shutdown.
//	error - Non-nil when the bucket is missing, the credentials file
//	        does not exist, or the storage client cannot be built.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("archive: credentials file not found at %s", cfg.CredentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: create storage client: %w", err)
	}

	return &Archiver{
		client: client,
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

// ArchiveSnapshot uploads every file in the snapshot directory under a
// timestamped prefix and returns that prefix. Dotfiles are skipped, so
// the advisory lock never lands in the bucket.
func (a *Archiver) ArchiveSnapshot(ctx context.Context, dir string) (string, error) {
	prefix := path.Join(snapshotPrefix, time.Now().UTC().Format("20060102T150405Z"))

	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		return a.uploadFile(ctx, p, path.Join(prefix, info.Name()))
	})
	if err != nil {
		return "", fmt.Errorf("archive snapshot: %w", err)
	}

	a.logger.Info("snapshot archived",
		slog.String("bucket", a.bucket), slog.String("prefix", prefix))
	return prefix, nil
}

// uploadFile streams one local file into the bucket.
func (a *Archiver) uploadFile(ctx context.Context, localPath, objectPath string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file %s: %w", localPath, err)
	}
	defer localFile.Close()

	obj := a.client.Bucket(a.bucket).Object(objectPath)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, localFile); err != nil {
		return fmt.Errorf("copy %s to object %s: %w", localPath, objectPath, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", objectPath, err)
	}

	a.logger.Debug("uploaded snapshot file",
		slog.String("object", fmt.Sprintf("gs://%s/%s", a.bucket, objectPath)))
	return nil
}

// Close releases the storage client.
func (a *Archiver) Close() error {
	return a.client.Close()
}
