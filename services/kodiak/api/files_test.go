// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Kodiak/services/kodiak/datatypes"
	"github.com/AleutianAI/Kodiak/services/kodiak/index"
)

// fileStore returns a store fake holding one four-line Python file.
func fileStore() *fakeAPIStore {
	return &fakeAPIStore{files: map[string]*datatypes.FileRecord{
		"acme_widgets|src/auth.py": {
			RepoID:   "acme_widgets",
			FilePath: "src/auth.py",
			Language: "python",
			Content:  "l1\nl2\nl3\nl4",
		},
	}}
}

func getFile(t *testing.T, s *Server, query string) (*datatypes.FileContentResponse, int) {
	t.Helper()

	w := doJSON(t, s, "GET", "/api/v1/file?"+query, nil)
	if w.Code != http.StatusOK {
		return nil, w.Code
	}
	var resp datatypes.FileContentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return &resp, w.Code
}

// =============================================================================
// File Content Tests
// =============================================================================

func TestGetFile_FullContent(t *testing.T) {
	s := newTestServer(t, nil, nil, nil, fileStore(), nil)

	resp, code := getFile(t, s, "file_path=src/auth.py&repo_id=acme_widgets")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "l1\nl2\nl3\nl4", resp.Content)
	assert.Equal(t, 4, resp.TotalLines)
	assert.Equal(t, "python", resp.Language)
	assert.Equal(t, "src/auth.py", resp.FilePath)
	assert.Equal(t, "acme_widgets", resp.RepoID)
}

func TestGetFile_SlicesRange(t *testing.T) {
	s := newTestServer(t, nil, nil, nil, fileStore(), nil)

	resp, code := getFile(t, s, "file_path=src/auth.py&repo_id=acme_widgets&start_line=2&end_line=3")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "l2\nl3", resp.Content)
	assert.Equal(t, 4, resp.TotalLines, "total_lines reports the whole file")
}

func TestGetFile_OpenEndedRange(t *testing.T) {
	s := newTestServer(t, nil, nil, nil, fileStore(), nil)

	resp, code := getFile(t, s, "file_path=src/auth.py&repo_id=acme_widgets&start_line=2")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "l2\nl3\nl4", resp.Content)
}

func TestGetFile_ClampsRange(t *testing.T) {
	s := newTestServer(t, nil, nil, nil, fileStore(), nil)

	resp, code := getFile(t, s, "file_path=src/auth.py&repo_id=acme_widgets&start_line=3&end_line=99")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "l3\nl4", resp.Content)
}

func TestGetFile_RangeBeyondFile(t *testing.T) {
	s := newTestServer(t, nil, nil, nil, fileStore(), nil)

	resp, code := getFile(t, s, "file_path=src/auth.py&repo_id=acme_widgets&start_line=10&end_line=12")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, resp.Content)
	assert.Equal(t, 4, resp.TotalLines)
}

func TestGetFile_LanguageDefaultsToText(t *testing.T) {
	st := &fakeAPIStore{files: map[string]*datatypes.FileRecord{
		"acme_widgets|README": {
			RepoID:   "acme_widgets",
			FilePath: "README",
			Content:  "hello",
		},
	}}
	s := newTestServer(t, nil, nil, nil, st, nil)

	resp, code := getFile(t, s, "file_path=README&repo_id=acme_widgets")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "text", resp.Language)
}

func TestGetFile_NotFound(t *testing.T) {
	s := newTestServer(t, nil, nil, nil, fileStore(), nil)

	_, code := getFile(t, s, "file_path=src/ghost.py&repo_id=acme_widgets")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetFile_MissingParams(t *testing.T) {
	s := newTestServer(t, nil, nil, nil, fileStore(), nil)

	_, code := getFile(t, s, "file_path=src/auth.py")
	assert.Equal(t, http.StatusBadRequest, code)
}

// =============================================================================
// Index Stats Tests
// =============================================================================

func TestIndexStats_ReturnsStats(t *testing.T) {
	ix := &fakeStatter{stats: index.Stats{
		TotalVectors: 42,
		Dimension:    384,
		Repositories: 2,
		VectorsPerRepo: map[string]int{
			"acme_widgets": 30,
			"acme_gears":   12,
		},
	}}
	s := newTestServer(t, nil, nil, nil, nil, ix)

	w := doJSON(t, s, "GET", "/api/v1/index/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var stats index.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 42, stats.TotalVectors)
	assert.Equal(t, 384, stats.Dimension)
	assert.Equal(t, 2, stats.Repositories)
	assert.Equal(t, 30, stats.VectorsPerRepo["acme_widgets"])
}
