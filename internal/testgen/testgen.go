// Package testgen provides fixtures for testing loan packaging and
// downloads: generated images, magazine and ebook issues, and a fake
// lending service that serves them.
package testgen

import (
	"os"
	"testing"
)

// IssueOptions configures a generated issue.
type IssueOptions struct {
	ID    string
	Title string
	// Pages is the number of table of contents pages, cover included.
	// Defaults to 4.
	Pages int
	// EBook generates a reflowable ebook with its own navigation document
	// and NCX instead of a magazine.
	EBook bool
	// Obfuscate delivers article bodies through the loader script.
	Obfuscate bool
	// NCXUID is the dtb:uid of the supplied NCX of an ebook.
	NCXUID string
	ISBN   string
}

// TempDir creates a temporary directory for testing and registers cleanup.
// The directory is automatically removed when the test completes.
func TempDir(t *testing.T, pattern string) string {
	t.Helper()
	dir, err := os.MkdirTemp("", pattern)
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return dir
}

// FileExists checks if a file exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
