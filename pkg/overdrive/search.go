package overdrive

import (
	"context"
	"sort"

	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/libby/pkg/libby"
	"golang.org/x/sync/errgroup"
)

// DefaultSearchConcurrency bounds the requests SearchAll has in flight.
const DefaultSearchConcurrency = 4

// CombinedMedia is a title found at one or more libraries.
type CombinedMedia struct {
	Media

	// SiteAvailabilities is keyed by library key.
	SiteAvailabilities map[string]Availability
	ranks              []int
}

// Sites returns the availabilities ordered from best to worst.
func (m CombinedMedia) Sites() []Availability {
	sites := make([]Availability, 0, len(m.SiteAvailabilities))
	for _, a := range m.SiteAvailabilities {
		sites = append(sites, a)
	}
	sort.SliceStable(sites, func(i, j int) bool { return sites[i].AdvantageKey < sites[j].AdvantageKey })
	SortAvailabilities(sites)
	return sites
}

func (m CombinedMedia) averageRank() float64 {
	total := 0
	for _, r := range m.ranks {
		total += r
	}
	return float64(total) / float64(len(m.ranks))
}

// CombinedSearch is the joined result of a search across libraries.
type CombinedSearch struct {
	Items []CombinedMedia
	// Errors holds the failure of each library that could not be searched.
	// Those libraries contribute no items.
	Errors map[string]error
}

// SearchAll searches each library separately and merges the results. A
// library that fails, or is still pending when ctx ends, is treated as
// having no results. Items are ordered by their average position across
// libraries, and titles found at more libraries win ties.
func (c *Client) SearchAll(ctx context.Context, libraryKeys []string, q string, opts SearchOptions) *CombinedSearch {
	log := logger.FromContext(ctx)
	results := make([][]Media, len(libraryKeys))
	errs := make([]error, len(libraryKeys))

	g := errgroup.Group{}
	g.SetLimit(DefaultSearchConcurrency)
	for i, key := range libraryKeys {
		i, key := i, key
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			res, err := c.SearchMedia(ctx, []string{key}, q, opts)
			if err != nil {
				log.Warn("library search failed", logger.Data{"library": key, "error": err.Error()})
				errs[i] = err
				return nil
			}
			results[i] = res.Items
			return nil
		})
	}
	_ = g.Wait()

	combined := &CombinedSearch{Errors: map[string]error{}}
	byID := map[libby.ID]int{}
	for i, key := range libraryKeys {
		if errs[i] != nil {
			combined.Errors[key] = errs[i]
			continue
		}
		for rank, item := range results[i] {
			site := item.Availability
			site.AdvantageKey = key

			idx, ok := byID[item.ID]
			if !ok {
				entry := CombinedMedia{Media: item, SiteAvailabilities: map[string]Availability{}}
				entry.Availability = Availability{}
				combined.Items = append(combined.Items, entry)
				idx = len(combined.Items) - 1
				byID[item.ID] = idx
			} else {
				mergeFormats(&combined.Items[idx].Media, item.Formats)
			}
			combined.Items[idx].SiteAvailabilities[key] = site
			combined.Items[idx].ranks = append(combined.Items[idx].ranks, rank+1)
		}
	}

	sort.SliceStable(combined.Items, func(i, j int) bool {
		a, b := combined.Items[i], combined.Items[j]
		if ra, rb := a.averageRank(), b.averageRank(); ra != rb {
			return ra < rb
		}
		return len(a.ranks) > len(b.ranks)
	})
	return combined
}

func mergeFormats(m *Media, formats []MediaFormat) {
	seen := map[string]bool{}
	for _, f := range m.Formats {
		seen[f.ID] = true
	}
	for _, f := range formats {
		if !seen[f.ID] {
			m.Formats = append(m.Formats, f)
			seen[f.ID] = true
		}
	}
}
