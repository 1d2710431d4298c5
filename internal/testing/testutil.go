// ABOUTME: Package testing provides shared test utilities and helper functions for verbactl.
//
// This package contains test helpers, fixed test data, and assertion
// utilities that promote consistent testing patterns across the verbactl
// codebase.
//
// Key utilities:
//   - Test helpers: TempFile, WriteFile, OpenTestDB, AssertJSONEqual
//   - Test constants: FixedTime, TestDeployment, TestWeaviateURL
//
// The package is designed to work with github.com/stretchr/testify for
// assertions.
package testing

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// FixedTime is a fixed timestamp for deterministic tests.
//
// Using a fixed time ensures tests produce consistent results regardless of
// when they run. Use this as the default time for test row creation.
var FixedTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Common test constants used across the test suite.
//
// These constants provide consistent default values for test data,
// making tests more readable and reducing duplication.
const (
	TestDeployment  = "Docker"
	TestWeaviateURL = "http://localhost:8080"
	TestAPIKey      = "test-weaviate-key"
	TestRunID       = "run-test-1"
)

// AssertJSONEqual asserts that two JSON values are semantically equal.
//
// This helper marshals both values to JSON and then compares the resulting
// JSON objects semantically, ignoring differences in whitespace and key order.
//
// Useful for comparing API responses or files the importer writes.
func AssertJSONEqual(t *testing.T, want, got any, msgAndArgs ...interface{}) {
	t.Helper()
	wantBytes, err := json.Marshal(want)
	require.NoError(t, err, "failed to marshal 'want' to JSON")
	gotBytes, err := json.Marshal(got)
	require.NoError(t, err, "failed to marshal 'got' to JSON")

	var wantAny, gotAny any
	require.NoError(t, json.Unmarshal(wantBytes, &wantAny), "failed to unmarshal 'want'")
	require.NoError(t, json.Unmarshal(gotBytes, &gotAny), "failed to unmarshal 'got'")

	assert.Equal(t, wantAny, gotAny, msgAndArgs...)
}

// TempFile creates a temporary file with the given content and returns its path.
//
// The file is created in the test's temporary directory with owner-only
// permissions, so it passes the permission checks applied to config and
// identity files. It is automatically cleaned up when the test completes.
//
// Returns the absolute path to the created file.
func TempFile(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "testfile")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err, "failed to write temp file")
	return path
}

// WriteFile writes content to the slash-separated relative path under root,
// creating any missing parent directories.
//
// Useful for building input trees for importer tests. The file lives inside
// the caller's temp directory and is cleaned up with it.
//
// Returns the absolute path to the created file.
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	require.NoError(t, err, "failed to create parent dir")
	err = os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err, "failed to write tree file")
	return path
}

// MkdirTempInDir creates a temporary directory under the given parent directory.
//
// Unlike t.TempDir(), which doesn't allow specifying the parent, this function
// creates a temporary directory as a subdirectory of parentDir. The directory
// is automatically cleaned up when the test completes.
//
// Returns the path to the created directory.
func MkdirTempInDir(t *testing.T, parentDir string) string {
	t.Helper()
	path, err := os.MkdirTemp(parentDir, "testdir*")
	require.NoError(t, err, "failed to create temp dir")
	t.Cleanup(func() {
		_ = os.RemoveAll(path)
	})
	return path
}

// OpenTestDB opens a test SQLite database in a temporary directory.
// The database is automatically closed and removed when the test completes.
//
// The sqlite driver must be registered by the importing package.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err, "failed to open test database")
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// RequireRowsAffected asserts that the expected number of rows were affected.
func RequireRowsAffected(t *testing.T, res sql.Result, expected int64) {
	t.Helper()
	n, err := res.RowsAffected()
	require.NoError(t, err, "failed to get rows affected")
	require.Equal(t, expected, n, "rows affected mismatch")
}

// RequireNoRows asserts that no rows exist in the table for the given query.
func RequireNoRows(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	var count int
	err := db.QueryRow(query, args...).Scan(&count)
	require.NoError(t, err, "failed to query rows")
	require.Equal(t, 0, count, "expected no rows")
}
