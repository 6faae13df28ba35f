package packager

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	metaDirName    = "META-INF"
	contentDirName = "OEBPS"
	packageName    = "package.opf"

	epubMimetype = "application/epub+zip"
)

func containerXML() ([]byte, error) {
	container := newNode("container", "version", "1.0", "xmlns", "urn:oasis:names:tc:opendocument:xmlns:container")
	rootfiles := container.add("rootfiles", "")
	rootfiles.add("rootfile", "",
		"full-path", contentDirName+"/"+packageName,
		"media-type", "application/oebps-package+xml",
	)
	return container.marshal()
}

// zipBook zips the book folder into dest. The uncompressed mimetype
// entry comes first, followed by META-INF and OEBPS in lexical order.
func zipBook(bookDir, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := writeBook(f, bookDir); err != nil {
		f.Close()
		return err
	}
	return errors.WithStack(f.Close())
}

func writeBook(out io.Writer, bookDir string) error {
	zw := zip.NewWriter(out)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.WriteString(w, epubMimetype); err != nil {
		return errors.WithStack(err)
	}

	for _, dir := range []string{metaDirName, contentDirName} {
		root := filepath.Join(bookDir, dir)
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, err := filepath.Rel(bookDir, p)
			if err != nil {
				return err
			}
			return addFile(zw, p, filepath.ToSlash(rel))
		})
		if err != nil {
			return errors.WithStack(err)
		}
	}

	return errors.WithStack(zw.Close())
}

func addFile(zw *zip.Writer, src, name string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}
