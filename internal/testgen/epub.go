package testgen

import (
	"archive/zip"
	"io"
	"testing"
)

// EPUB is the content of a packaged book.
type EPUB struct {
	// Names lists the entries in archive order.
	Names   []string
	Files   map[string][]byte
	Methods map[string]uint16
}

// ReadEPUB reads every entry of the archive at path.
func ReadEPUB(t *testing.T, path string) *EPUB {
	t.Helper()

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("failed to open EPUB: %v", err)
	}
	defer zr.Close()

	book := &EPUB{Files: map[string][]byte{}, Methods: map[string]uint16{}}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("failed to open %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("failed to read %s: %v", f.Name, err)
		}
		book.Names = append(book.Names, f.Name)
		book.Files[f.Name] = data
		book.Methods[f.Name] = f.Method
	}
	return book
}
