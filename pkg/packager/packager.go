// Package packager assembles an EPUB from the openbook manifest and roster of
// an ebook or magazine loan.
package packager

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/libby/pkg/fileutils"
	"github.com/shishobooks/libby/pkg/formats"
	"github.com/shishobooks/libby/pkg/libby"
	"github.com/shishobooks/libby/pkg/overdrive"
)

const (
	Version2       = "2.0"
	Version3       = "3.0"
	DefaultVersion = Version3

	coverManifestID = "coverimage"
	// unlistedPosition orders spine items missing from the table of contents
	// after those in it.
	unlistedPosition = 999
)

// Fetcher downloads loan assets with the session that prepared the loan.
type Fetcher interface {
	FetchAsset(ctx context.Context, url string) ([]byte, error)
}

type Options struct {
	// Version is the EPUB version to produce, "2.0" or "3.0".
	Version string
	Now     func() time.Time
}

type Packager struct {
	fetcher Fetcher
	version string
	now     func() time.Time
}

func New(fetcher Fetcher, opts Options) (*Packager, error) {
	switch opts.Version {
	case "":
		opts.Version = DefaultVersion
	case Version2, Version3:
	default:
		return nil, errors.Errorf("unsupported epub version: %s", opts.Version)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Packager{fetcher: fetcher, version: opts.Version, now: opts.Now}, nil
}

// Request is everything needed to package one loan.
type Request struct {
	Loan     libby.Loan
	Media    *overdrive.Media
	OpenBook *libby.OpenBook
	Rosters  []libby.Roster
	// CoverURL defaults to the widest cover of the loan.
	CoverURL   string
	OutputPath string
	// Progress, when set, is called after each asset is written.
	Progress func(done, total int)
}

type ManifestItem struct {
	ID         string
	Href       string
	MediaType  string
	Properties string
}

type Result struct {
	Path       string
	Identifier string
	CoverID    string
	// Cover is the cover image, when one was found.
	Cover    []byte
	Manifest []ManifestItem
	Spine    []string
}

// job is the state of a single packaging run.
type job struct {
	*Packager
	req        Request
	log        logger.Logger
	bookDir    string
	contentDir string
	magazine   bool
	loanFormat formats.Format
	tocPages   []string
	tocPageSet map[string]bool

	cover     []byte
	coverID   string
	foundNav  bool
	foundNCX  bool
	items     []ManifestItem
	coverItem *libby.TOCItem
	landmark  *libby.Landmark
}

// Package builds the EPUB at req.OutputPath. The file only appears once the
// whole book has been written, and any failure is returned as an *Error.
func (p *Packager) Package(ctx context.Context, req Request) (*Result, error) {
	if req.OpenBook == nil || req.Media == nil {
		return nil, NewError(StageManifest, nil, "missing openbook or media")
	}
	kind := req.Loan.MediaType()
	if kind == formats.MediaUnknown {
		kind = req.Media.Type.Media()
	}
	if kind == formats.MediaMagazine && len(req.OpenBook.Nav.TOC) <= 1 {
		return nil, NewError(StageManifest, ErrFixedLayout, "cannot package magazine")
	}

	outDir := filepath.Dir(req.OutputPath)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, NewError(StageArchive, errors.WithStack(err), "failed to create output directory")
	}
	bookDir, err := os.MkdirTemp(outDir, ".libby-package-*")
	if err != nil {
		return nil, NewError(StageArchive, errors.WithStack(err), "failed to create working directory")
	}
	defer os.RemoveAll(bookDir)

	j := &job{
		Packager:   p,
		req:        req,
		log:        logger.FromContext(ctx),
		bookDir:    bookDir,
		contentDir: filepath.Join(bookDir, contentDirName),
		magazine:   kind == formats.MediaMagazine,
		loanFormat: formats.EBookOverDrive,
		tocPageSet: map[string]bool{},
	}
	if j.magazine {
		j.loanFormat = formats.MagazineOverDrive
	}
	return j.run(ctx)
}

func (j *job) run(ctx context.Context) (*Result, error) {
	book := j.req.OpenBook
	for _, item := range book.Nav.TOC {
		p := tocPath(item.Path)
		j.tocPages = append(j.tocPages, p)
		j.tocPageSet[p] = true
	}
	for i, item := range book.Nav.TOC {
		if item.PageRange == "Cover" && item.FeatureImage != "" {
			j.coverItem = &book.Nav.TOC[i]
			break
		}
	}
	for i, l := range book.Nav.Landmarks {
		if l.Type == "cover" {
			j.landmark = &book.Nav.Landmarks[i]
			break
		}
	}
	for _, dir := range []string{filepath.Join(j.bookDir, metaDirName), j.contentDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, NewError(StageArchive, errors.WithStack(err), "failed to create book folders")
		}
	}

	j.fetchCover(ctx)

	var entries []libby.RosterEntry
	for _, e := range libby.TitleContent(j.req.Rosters).Entries {
		if keepEntry(e, j.magazine, j.tocPageSet) {
			entries = append(entries, e)
		}
	}
	sortEntries(entries)

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, NewError(StageAsset, errors.WithStack(err), "packaging cancelled")
		}
		if err := j.processEntry(ctx, e, i+1, len(entries)); err != nil {
			return nil, err
		}
		if j.req.Progress != nil {
			j.req.Progress(i+1, len(entries))
		}
	}

	navName, err := j.ensureNav()
	if err != nil {
		return nil, err
	}
	uid := PublicationIdentifier(j.req.Media, j.loanFormat)
	if err := j.ensureNCX(uid, navName); err != nil {
		return nil, err
	}

	spine, err := j.writePackage(navName)
	if err != nil {
		return nil, err
	}
	if err := j.writeArchive(); err != nil {
		return nil, err
	}
	j.log.Info("saved epub", logger.Data{"path": j.req.OutputPath, "items": len(j.items)})

	return &Result{
		Path:       j.req.OutputPath,
		Identifier: uid,
		CoverID:    j.coverID,
		Cover:      j.cover,
		Manifest:   j.items,
		Spine:      spine,
	}, nil
}

// fetchCover downloads the catalog cover. A cover that cannot be fetched is
// not an error.
func (j *job) fetchCover(ctx context.Context) {
	url := j.req.CoverURL
	if url == "" {
		url = j.req.Loan.Covers.Best()
	}
	if url == "" {
		url = j.req.Media.Covers.Best()
	}
	if url == "" {
		return
	}
	data, err := j.fetcher.FetchAsset(ctx, url)
	if err != nil {
		j.log.Warn("failed to download cover", logger.Data{"url": url, "error": err.Error()})
		return
	}
	cover, err := NormalizeCover(data, false)
	if err != nil {
		j.log.Warn("failed to read cover", logger.Data{"url": url, "error": err.Error()})
		return
	}
	j.cover = cover
}

// contentPath maps an asset path into the content folder. Leading ".."
// segments are dropped.
func (j *job) contentPath(p string) string {
	return filepath.Join(j.contentDir, filepath.FromSlash(path.Clean("/" + p)[1:]))
}

func writeFile(dest string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(dest, data, 0644))
}

func (j *job) processEntry(ctx context.Context, e libby.RosterEntry, index, total int) error {
	p := entryPath(e)
	j.log.Info("processing asset", logger.Data{"index": index, "total": total, "asset": path.Base(p)})

	mediaType := GuessMediaType(p)
	if mediaType == "" || p == "" {
		j.log.Warn("skipped roster entry", logger.Data{"asset": p})
		return nil
	}
	item := ManifestItem{Href: p, ID: ManifestID(p), MediaType: mediaType}
	if mediaType == MediaTypeNCX {
		j.foundNCX = true
		item.ID = "ncx"
	}
	// the cover named by the table of contents must be one of the assets
	if j.coverItem != nil && item.ID == ManifestID(j.coverItem.FeatureImage) {
		j.coverID = item.ID
	}

	dest := j.contentPath(p)
	data, err := j.fetcher.FetchAsset(ctx, e.URL)
	if err != nil {
		return NewError(StageAsset, err, "failed to download "+p)
	}

	var doc *document
	switch {
	case j.magazine && mediaType == MediaTypeCSS:
		data = []byte(patchMagazineCSS(string(data), func(src string) bool {
			return fileutils.Exists(filepath.Join(filepath.Dir(dest), filepath.FromSlash(src)))
		}))
	case isDocument(mediaType):
		doc, data, err = j.processDocument(p, item.ID, data)
		if err != nil {
			return err
		}
	}
	if err := writeFile(dest, data); err != nil {
		return NewError(StageAsset, err, "failed to write "+p)
	}

	if doc != nil {
		switch {
		case j.coverID == "" && j.landmark != nil && j.landmark.Path == p:
			if src := doc.firstImageSrc(); src != "" {
				j.coverID = ManifestID(path.Join(path.Dir(j.landmark.Path), src))
			}
		case !j.foundNav && doc.isNavigation():
			item.Properties = "nav"
			j.foundNav = true
		case doc.hasSVG():
			item.Properties = "svg"
		}
	}
	if j.coverID == item.ID {
		item.Properties = "cover-image"
		j.cover = data
	}
	j.items = append(j.items, item)
	return nil
}

func (j *job) processDocument(p, id string, data []byte) (*document, []byte, error) {
	doc, err := parseDocument(data)
	if err != nil {
		return nil, nil, NewError(StageAsset, err, "failed to parse "+p)
	}
	ok, err := doc.unwrapContent()
	if err != nil {
		return nil, nil, NewError(StageAsset, err, "failed to extract content of "+p)
	}
	if !ok {
		j.log.Warn("unable to extract content string", logger.Data{"asset": p})
	}
	doc.cleanup(j.version)

	if j.coverItem != nil && id == ManifestID(j.coverItem.Path) {
		src, err := filepath.Rel(filepath.FromSlash(path.Dir(p)), filepath.FromSlash(j.coverItem.FeatureImage))
		if err == nil {
			doc.replaceCoverSVG(filepath.ToSlash(src))
		}
	}

	out, err := doc.render()
	if err != nil {
		return nil, nil, NewError(StageAsset, err, "failed to render "+p)
	}
	return doc, out, nil
}

// ensureNav writes a navigation document when the book did not supply one
// and returns its name.
func (j *job) ensureNav() (string, error) {
	if j.foundNav {
		return "", nil
	}
	// the loan id keeps the name clear of the book's own files
	name := fmt.Sprintf("nav_%s.xhtml", j.req.Loan.ID)
	title := j.req.Loan.Title
	if title == "" {
		title = j.req.Media.Title
	}
	data, err := buildNav(title, j.req.OpenBook.Nav.TOC)
	if err != nil {
		return "", NewError(StageNav, err, "failed to build navigation document")
	}
	if err := writeFile(j.contentPath(name), data); err != nil {
		return "", NewError(StageNav, err, "failed to write navigation document")
	}
	j.items = append(j.items, ManifestItem{ID: ManifestID(name), Href: name, MediaType: MediaTypeXHTML, Properties: "nav"})
	return name, nil
}

// ensureNCX writes an NCX when the book did not supply one. A supplied NCX
// has its uid changed to the package identifier.
func (j *job) ensureNCX(uid, navName string) error {
	if !j.foundNCX {
		name := fmt.Sprintf("toc_%s.ncx", j.req.Loan.ID)
		data, err := buildNCX(uid, j.req.OpenBook, navName)
		if err != nil {
			return NewError(StageNav, err, "failed to build ncx")
		}
		if err := writeFile(j.contentPath(name), data); err != nil {
			return NewError(StageNav, err, "failed to write ncx")
		}
		j.items = append(j.items, ManifestItem{ID: "ncx", Href: name, MediaType: MediaTypeNCX})
		j.foundNCX = true
		return nil
	}

	for _, item := range j.items {
		if item.ID != "ncx" {
			continue
		}
		dest := j.contentPath(item.Href)
		data, err := os.ReadFile(dest)
		if err != nil {
			return NewError(StageNav, errors.WithStack(err), "failed to read ncx")
		}
		patched, changed, err := patchNCXUID(data, uid)
		if err != nil {
			return NewError(StageNav, err, "failed to patch ncx")
		}
		if changed {
			j.log.Debug("replaced ncx identifier", logger.Data{"asset": item.Href, "identifier": uid})
			if err := writeFile(dest, patched); err != nil {
				return NewError(StageNav, err, "failed to write ncx")
			}
		}
		break
	}
	return nil
}

func (j *job) writePackage(navName string) ([]string, error) {
	pkg := buildPackage(j.req.Media, j.version, j.loanFormat)

	hasCoverItem := false
	for _, item := range j.items {
		if item.Properties == "cover-image" {
			hasCoverItem = true
		}
	}
	if !hasCoverItem {
		j.coverID = ""
		if j.cover != nil {
			// the timestamp keeps the name clear of the book's own files
			name := fmt.Sprintf("cover_%d.jpg", j.now().Unix())
			if err := writeFile(j.contentPath(name), j.cover); err != nil {
				return nil, NewError(StagePackage, err, "failed to write cover")
			}
			j.coverID = coverManifestID
			j.items = append(j.items, ManifestItem{ID: coverManifestID, Href: name, MediaType: MediaTypeJPEG, Properties: "cover-image"})
		}
	}

	manifest := pkg.add("manifest", "")
	for _, item := range j.items {
		n := manifest.add("item", "", "href", item.Href, "id", item.ID, "media-type", item.MediaType)
		if item.Properties != "" {
			n.set("properties", item.Properties)
		}
	}
	if j.coverID != "" {
		pkg.child("metadata").add("meta", "", "name", "cover", "content", j.coverID)
	}

	spine := pkg.add("spine", "")
	if j.foundNCX {
		spine.set("toc", "ncx")
	}
	var refs []string
	for i, item := range j.spineItems() {
		refs = append(refs, ManifestID(item.OriginalPath))
		if i == 0 && navName != "" {
			refs = append(refs, ManifestID(navName))
		}
	}
	for _, ref := range refs {
		spine.add("itemref", "", "idref", ref)
	}

	if landmarks := j.req.OpenBook.Nav.Landmarks; len(landmarks) > 0 {
		guide := pkg.add("guide", "")
		for _, l := range landmarks {
			guide.add("reference", "", "href", l.Path, "title", l.Title, "type", l.Type)
		}
	}

	data, err := pkg.marshal()
	if err != nil {
		return nil, NewError(StagePackage, err, "failed to build package document")
	}
	if err := writeFile(j.contentPath(packageName), data); err != nil {
		return nil, NewError(StagePackage, err, "failed to write package document")
	}
	return refs, nil
}

// spineItems orders the spine by the table of contents, then by declared
// position. Magazine pages missing from the table of contents are dropped.
func (j *job) spineItems() []libby.SpineItem {
	var items []libby.SpineItem
	for _, s := range j.req.OpenBook.Spine {
		if j.magazine && !j.tocPageSet[s.OriginalPath] {
			continue
		}
		items = append(items, s)
	}
	index := func(p string) int {
		for i, page := range j.tocPages {
			if page == p {
				return i
			}
		}
		return unlistedPosition
	}
	sort.SliceStable(items, func(a, b int) bool {
		ia, ib := index(items[a].OriginalPath), index(items[b].OriginalPath)
		if ia != ib {
			return ia < ib
		}
		return items[a].SpinePosition < items[b].SpinePosition
	})
	return items
}

func (j *job) writeArchive() error {
	container, err := containerXML()
	if err != nil {
		return NewError(StageArchive, err, "failed to build container")
	}
	if err := writeFile(filepath.Join(j.bookDir, metaDirName, "container.xml"), container); err != nil {
		return NewError(StageArchive, err, "failed to write container")
	}

	tmp := j.req.OutputPath + ".tmp"
	if err := zipBook(j.bookDir, tmp); err != nil {
		os.Remove(tmp)
		return NewError(StageArchive, err, "failed to write epub")
	}
	if err := fileutils.MoveFile(tmp, j.req.OutputPath); err != nil {
		os.Remove(tmp)
		return NewError(StageArchive, err, "failed to move epub into place")
	}
	return nil
}
