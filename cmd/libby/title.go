package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/libby/pkg/htmlutil"
	"github.com/shishobooks/libby/pkg/libby"
	"github.com/shishobooks/libby/pkg/overdrive"
	"github.com/urfave/cli/v2"
)

func (e *env) titleCommand() *cli.Command {
	return &cli.Command{
		Name:      "title",
		Usage:     "show catalog details of titles",
		ArgsUsage: "<title-id> [<title-id>...]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "library", Usage: "library key to check availability at; defaults to the keys of your cards"},
			&cli.BoolFlag{Name: "no-availability", Usage: "skip the availability lookup"},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "<title-id> [<title-id>...]"); err != nil {
				return err
			}
			catalog, err := e.catalog()
			if err != nil {
				return err
			}

			if c.NArg() > 1 {
				ids := []libby.ID{}
				for _, arg := range c.Args().Slice() {
					ids = append(ids, libby.ID(arg))
				}
				items, err := catalog.MediaBulk(c.Context, ids)
				if err != nil {
					return err
				}
				rows := [][]interface{}{}
				for _, m := range items {
					rows = append(rows, []interface{}{m.ID, m.Type.ID, m.Title, m.FirstCreatorName, seriesLabel(m)})
				}
				return table(c.App.Writer, "ID\tTYPE\tTITLE\tAUTHOR\tSERIES", rows)
			}

			media, err := catalog.Media(c.Context, libby.ID(c.Args().First()))
			if err != nil {
				return err
			}
			printMedia(c.App.Writer, media)
			if c.Bool("no-availability") {
				return nil
			}

			keys, err := e.libraryKeys(c)
			if err != nil {
				return err
			}
			availabilities := []overdrive.Availability{}
			for _, key := range keys {
				m, err := catalog.LibraryMedia(c.Context, key, media.ID)
				if err != nil {
					logger.FromContext(c.Context).Err(err).Warn("availability lookup failed", logger.Data{"library_key": key})
					continue
				}
				a := m.Availability
				if a.AdvantageKey == "" {
					a.AdvantageKey = key
				}
				availabilities = append(availabilities, a)
			}
			overdrive.SortAvailabilities(availabilities)

			rows := [][]interface{}{}
			for _, a := range availabilities {
				wait := "-"
				if a.EstimatedWaitDays != nil {
					wait = fmt.Sprintf("%dd", *a.EstimatedWaitDays)
				}
				rows = append(rows, []interface{}{
					a.AdvantageKey,
					a.IsAvailable,
					fmt.Sprintf("%d/%d", a.AvailableCopies, a.OwnedCopies),
					a.HoldsCount,
					wait,
					overdrive.LibraryTitlePermalink(a.AdvantageKey, media.ID),
				})
			}
			fmt.Fprintln(c.App.Writer)
			if err := table(c.App.Writer, "LIBRARY\tAVAILABLE\tCOPIES\tHOLDS\tWAIT\tLINK", rows); err != nil {
				return err
			}
			if best, ok := overdrive.BestAvailability(availabilities); ok {
				fmt.Fprintf(c.App.Writer, "best: %s\n", best.AdvantageKey)
			}
			return nil
		},
	}
}

func seriesLabel(m overdrive.Media) string {
	if m.DetailedSeries == nil {
		return m.Series
	}
	if m.DetailedSeries.ReadingOrder == "" {
		return m.DetailedSeries.SeriesName
	}
	return fmt.Sprintf("%s #%s", m.DetailedSeries.SeriesName, m.DetailedSeries.ReadingOrder)
}

func printMedia(w io.Writer, m *overdrive.Media) {
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(w, "%-12s %s\n", name+":", value)
		}
	}
	field("ID", string(m.ID))
	field("Title", m.Title)
	field("Subtitle", m.Subtitle)
	field("Type", m.Type.ID)
	field("Series", seriesLabel(*m))

	creators := []string{}
	for _, cr := range m.Creators {
		creators = append(creators, fmt.Sprintf("%s (%s)", cr.Name, cr.Role))
	}
	field("Creators", strings.Join(creators, ", "))
	if m.Publisher != nil {
		field("Publisher", m.Publisher.Name)
	}
	field("Published", m.PublishDate)

	formatIDs := []string{}
	for _, f := range m.Formats {
		formatIDs = append(formatIDs, f.ID)
	}
	field("Formats", strings.Join(formatIDs, ", "))
	field("ISBN", overdrive.ExtractISBN(m.Formats, nil))
	field("ASIN", overdrive.ExtractASIN(m.Formats))

	languages := []string{}
	for _, l := range m.Languages {
		languages = append(languages, l.Name)
	}
	field("Languages", strings.Join(languages, ", "))

	subjects := []string{}
	for _, s := range m.Subjects {
		subjects = append(subjects, s.Name)
	}
	field("Subjects", strings.Join(subjects, ", "))

	if desc := htmlutil.StripTags(m.Description); desc != "" {
		fmt.Fprintf(w, "\n%s\n", desc)
	}
}

func (e *env) librariesCommand() *cli.Command {
	return &cli.Command{
		Name:  "libraries",
		Usage: "list the libraries of your cards",
		Action: func(c *cli.Context) error {
			client, err := e.lending()
			if err != nil {
				return err
			}
			cards, err := client.Cards(c.Context)
			if err != nil {
				return err
			}
			ids := []libby.ID{}
			seen := map[libby.ID]bool{}
			for _, card := range cards {
				if id := card.Library.WebsiteID; id != "" && !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
			catalog, err := e.catalog()
			if err != nil {
				return err
			}
			libraries, err := catalog.LibrariesByWebsiteID(c.Context, ids)
			if err != nil {
				return err
			}
			rows := [][]interface{}{}
			for _, l := range libraries {
				rows = append(rows, []interface{}{l.WebsiteID, l.Name, l.PreferredKey, l.Type})
			}
			return table(c.App.Writer, "WEBSITE\tNAME\tKEY\tTYPE", rows)
		},
	}
}
