package main

import (
	"fmt"
	"strings"

	"github.com/shishobooks/libby/pkg/database"
	"github.com/shishobooks/libby/pkg/library"
	"github.com/shishobooks/libby/pkg/migrations"
	"github.com/urfave/cli/v2"
	"github.com/uptrace/bun"
)

func (e *env) tagsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tags",
		Usage: "list the tags saved on the Libby account",
		Action: func(c *cli.Context) error {
			client, err := e.lending()
			if err != nil {
				return err
			}
			res, err := client.Tags(c.Context)
			if err != nil {
				return err
			}
			rows := [][]interface{}{}
			for _, tag := range res.Tags {
				rows = append(rows, []interface{}{tag.UUID, tag.Name, tag.TotalTaggings})
			}
			return table(c.App.Writer, "UUID\tNAME\tTITLES", rows)
		},
	}
}

// withLibrary opens the migrated database for the duration of fn.
func (e *env) withLibrary(c *cli.Context, fn func(svc *library.Service) error) error {
	return e.withDB(c, func(db *bun.DB) error {
		return fn(library.NewService(db))
	})
}

func (e *env) openDB(c *cli.Context) (*bun.DB, error) {
	db, err := database.New(e.cfg)
	if err != nil {
		return nil, err
	}
	if _, err := migrations.BringUpToDate(c.Context, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (e *env) libraryCommand() *cli.Command {
	return &cli.Command{
		Name:  "library",
		Usage: "inspect the titles recorded by download",
		Subcommands: []*cli.Command{
			{
				Name:  "books",
				Usage: "list recorded titles, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tag", Usage: "only titles with this tag"},
					&cli.StringFlag{Name: "sort", Value: library.OrderNewest, Usage: "newest or title"},
					&cli.IntFlag{Name: "limit", Value: 50},
					&cli.IntFlag{Name: "offset"},
				},
				Action: func(c *cli.Context) error {
					return e.withLibrary(c, func(svc *library.Service) error {
						limit, offset := c.Int("limit"), c.Int("offset")
						opts := library.ListBooksOptions{Limit: &limit, Offset: &offset, OrderBy: c.String("sort")}
						if tag := c.String("tag"); tag != "" {
							opts.Tag = &tag
						}
						books, total, err := svc.ListBooksWithTotal(c.Context, opts)
						if err != nil {
							return err
						}
						rows := [][]interface{}{}
						for _, b := range books {
							path := b.Filepath
							if path == "" {
								path = "-"
							}
							rows = append(rows, []interface{}{
								b.ID,
								b.LoanType,
								b.Title,
								strings.Join(b.AuthorNames(), ", "),
								strings.Join(b.TagNames(), ", "),
								path,
							})
						}
						if err := table(c.App.Writer, "ID\tTYPE\tTITLE\tAUTHORS\tTAGS\tFILE", rows); err != nil {
							return err
						}
						if total > len(books) {
							fmt.Fprintf(c.App.Writer, "showing %d of %d\n", len(books), total)
						}
						return nil
					})
				},
			},
			{
				Name:  "tags",
				Usage: "list tags with their title counts",
				Action: func(c *cli.Context) error {
					return e.withLibrary(c, func(svc *library.Service) error {
						tags, err := svc.ListTags(c.Context)
						if err != nil {
							return err
						}
						rows := [][]interface{}{}
						for _, t := range tags {
							rows = append(rows, []interface{}{t.Name, t.BookCount})
						}
						return table(c.App.Writer, "TAG\tTITLES", rows)
					})
				},
			},
		},
	}
}
