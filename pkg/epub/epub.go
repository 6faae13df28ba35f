// Package epub reads the structure of packaged EPUB files.
package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"path"

	"github.com/pkg/errors"
)

const (
	MimeType      = "application/epub+zip"
	containerPath = "META-INF/container.xml"
)

// Book is a packaged EPUB.
type Book struct {
	*OPF

	// OPFPath is the archive path of the package document.
	OPFPath string
	// Mimetype is the content of the mimetype entry, which must come first
	// and be stored uncompressed.
	Mimetype        string
	MimetypeIsFirst bool
	MimetypeStored  bool
	TOC             []Chapter
	// NCXUID is the dtb:uid of the NCX, empty without one.
	NCXUID    string
	CoverData []byte
	// Files lists every entry in archive order.
	Files []string
}

type container struct {
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

func Open(filename string) (*Book, error) {
	zr, err := zip.OpenReader(filename)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer zr.Close()
	return read(&zr.Reader)
}

func Read(r io.ReaderAt, size int64) (*Book, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return read(zr)
}

func read(zr *zip.Reader) (*Book, error) {
	files := map[string]*zip.File{}
	book := &Book{}
	for i, f := range zr.File {
		files[f.Name] = f
		book.Files = append(book.Files, f.Name)
		if f.Name == "mimetype" {
			book.MimetypeIsFirst = i == 0
			book.MimetypeStored = f.Method == zip.Store
		}
	}
	readFile := func(name string) ([]byte, error) {
		f, ok := files[name]
		if !ok {
			return nil, errors.Errorf("missing %s", name)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		return b, errors.WithStack(err)
	}

	if b, err := readFile("mimetype"); err == nil {
		book.Mimetype = string(b)
	}

	opfPath, err := findOPF(readFile, zr.File)
	if err != nil {
		return nil, err
	}
	book.OPFPath = opfPath
	b, err := readFile(opfPath)
	if err != nil {
		return nil, err
	}
	book.OPF, err = ParseOPF(opfPath, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}

	if book.NCXFilepath != "" {
		if b, err := readFile(book.NCXFilepath); err == nil {
			toc, uid, err := parseNCX(bytes.NewReader(b))
			if err != nil {
				return nil, err
			}
			book.TOC, book.NCXUID = toc, uid
		}
	}
	// The navigation document wins over the NCX when it has a toc.
	if book.NavFilepath != "" {
		if b, err := readFile(book.NavFilepath); err == nil {
			toc, err := parseNavDocument(bytes.NewReader(b))
			if err != nil {
				return nil, err
			}
			if len(toc) > 0 {
				book.TOC = toc
			}
		}
	}

	if book.CoverFilepath != "" {
		if b, err := readFile(book.CoverFilepath); err == nil {
			book.CoverData = b
		}
	}
	return book, nil
}

// findOPF returns the rootfile named by the container, or the first .opf in
// the archive when there is no container.
func findOPF(readFile func(string) ([]byte, error), files []*zip.File) (string, error) {
	if b, err := readFile(containerPath); err == nil {
		c := container{}
		if err := xml.Unmarshal(b, &c); err != nil {
			return "", errors.WithStack(err)
		}
		for _, rf := range c.Rootfiles {
			if rf.FullPath != "" {
				return rf.FullPath, nil
			}
		}
	}
	for _, f := range files {
		if path.Ext(f.Name) == ".opf" {
			return f.Name, nil
		}
	}
	return "", errors.New("no opf file found")
}
