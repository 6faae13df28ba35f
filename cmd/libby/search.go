package main

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shishobooks/libby/pkg/overdrive"
	"github.com/urfave/cli/v2"
)

func (e *env) searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "search the catalogs of your libraries",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "library", Usage: "library key to search; defaults to the keys of your cards"},
			&cli.StringSliceFlag{Name: "format", Usage: "limit results to a format, e.g. ebook-epub-open"},
			&cli.BoolFlag{Name: "available", Usage: "only show titles that can be borrowed now"},
			&cli.IntFlag{Name: "max", Value: overdrive.MaxPerPage, Usage: "results per library"},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "<query>"); err != nil {
				return err
			}
			keys, err := e.libraryKeys(c)
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				return errors.New("no libraries to search: pass --library or add a card")
			}

			catalog, err := e.catalog()
			if err != nil {
				return err
			}
			res := catalog.SearchAll(c.Context, keys, strings.Join(c.Args().Slice(), " "), overdrive.SearchOptions{
				Formats:           c.StringSlice("format"),
				MaxItems:          c.Int("max"),
				ShowOnlyAvailable: c.Bool("available"),
			})
			for key, err := range res.Errors {
				fmt.Fprintf(c.App.ErrWriter, "%s: %v\n", key, err)
			}

			rows := [][]interface{}{}
			for _, item := range res.Items {
				best := "-"
				if sites := item.Sites(); len(sites) > 0 {
					best = sites[0].AdvantageKey
					if sites[0].IsAvailable {
						best += " (available)"
					}
				}
				rows = append(rows, []interface{}{item.ID, item.Type.ID, item.Title, item.FirstCreatorName, best})
			}
			return table(c.App.Writer, "ID\tTYPE\tTITLE\tAUTHOR\tBEST LIBRARY", rows)
		},
	}
}

// libraryKeys returns the --library flag values, or the libraries of the
// account's cards when none are given.
func (e *env) libraryKeys(c *cli.Context) ([]string, error) {
	if keys := c.StringSlice("library"); len(keys) > 0 {
		return keys, nil
	}
	client, err := e.lending()
	if err != nil {
		return nil, err
	}
	cards, err := client.Cards(c.Context)
	if err != nil {
		return nil, err
	}
	keys := []string{}
	seen := map[string]bool{}
	for _, card := range cards {
		if card.AdvantageKey != "" && !seen[card.AdvantageKey] {
			seen[card.AdvantageKey] = true
			keys = append(keys, card.AdvantageKey)
		}
	}
	return keys, nil
}
