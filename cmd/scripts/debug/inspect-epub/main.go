package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/libby/pkg/epub"
)

func main() {
	log := logger.New()

	var opts struct {
		CoverOutput string `short:"o" long:"cover-output" description:"A path to output the cover image"`
		TOC         bool   `short:"t" long:"toc" description:"Print the table of contents"`
		Spine       bool   `short:"s" long:"spine" description:"Print the reading order"`
	}

	args, err := flags.Parse(&opts)
	if err != nil {
		log.Err(err).Fatal("flags parse error")
	}

	if len(args) != 1 {
		fmt.Println("go run ./cmd/scripts/debug/inspect-epub [-t] [-s] <path/to/file.epub>")
		os.Exit(1)
	}

	book, err := epub.Open(args[0])
	if err != nil {
		log.Err(err).Fatal("epub open error")
	}

	creators := make([]string, 0, len(book.Creators))
	for _, c := range book.Creators {
		creators = append(creators, fmt.Sprintf("%s (%s)", c.Name, c.Role))
	}
	fmt.Printf("Title: %s\nSubtitle: %s\nCreator(s): %s\nVersion: %s\nLanguage: %s\nIdentifier: %s\nPackage: %s\n",
		book.Title, book.Subtitle, strings.Join(creators, ", "), book.Version, book.Language, book.PublicationIdentifier(), book.OPFPath)
	fmt.Printf("Mimetype OK: %v\nNCX uid: %s\nManifest items: %d\nSpine items: %d\nHas Cover Data: %v\nCover Mime Type: %s\n",
		book.Mimetype == epub.MimeType && book.MimetypeIsFirst && book.MimetypeStored,
		book.NCXUID, len(book.Manifest), len(book.Spine), len(book.CoverData) > 0, book.CoverMimeType)

	if opts.Spine {
		fmt.Println("Spine:")
		for i, p := range book.Spine {
			fmt.Printf("  %3d %s\n", i+1, p)
		}
	}
	if opts.TOC {
		fmt.Println("Contents:")
		printTOC(book.TOC, 1)
	}

	if opts.CoverOutput != "" && book.CoverData != nil {
		if err := os.WriteFile(opts.CoverOutput, book.CoverData, 0o644); err != nil {
			log.Err(err).Fatal("file write error")
		}
	}
}

func printTOC(chapters []epub.Chapter, depth int) {
	for _, ch := range chapters {
		fmt.Printf("%s%s  %s\n", strings.Repeat("  ", depth), ch.Title, ch.Href)
		printTOC(ch.Children, depth+1)
	}
}
