package views

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"pastelock/pkg/domain"
)

const (
	maxTopLocations = 10
	maxTopRegions   = 10
	maxTopISPs      = 10
	maxTopBrowsers  = 5
	maxRecent       = 50
)

// Store gives the aggregator the paste counter and the raw view ledger.
type Store interface {
	Get(ctx context.Context, id string) (*domain.Paste, error)
	ListViews(ctx context.Context, pasteID string) ([]domain.ViewEvent, error)
}

// Aggregator derives a per-paste analytics report on demand. Nothing is
// precomputed: the ledger is small per paste and reads are rare compared
// to views.
type Aggregator struct {
	store Store
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// Summarize builds the full report. The paste's own counter is the
// authoritative total; the ledger undercounts whenever enrichment
// dropped events, so the two are reported independently.
func (a *Aggregator) Summarize(ctx context.Context, pasteID string) (*domain.AnalyticsReport, error) {
	paste, err := a.store.Get(ctx, pasteID)
	if err != nil {
		return nil, err
	}
	events, err := a.store.ListViews(ctx, pasteID)
	if err != nil {
		return nil, errors.Wrap(err, "list views")
	}

	report := &domain.AnalyticsReport{
		PasteID:    pasteID,
		TotalViews: paste.Views,
	}

	visitors := make(map[string]struct{})
	countries := make(map[string]struct{})
	locations := newGrouper()
	regions := newGrouper()
	isps := newGrouper()
	browsers := newGrouper()

	for _, ev := range events {
		if ev.IP != "" {
			visitors[ev.IP] = struct{}{}
		}
		if ev.Geo.Country != "" {
			countries[ev.Geo.Country] = struct{}{}
		}
		// A location is only meaningful down to the city; events the
		// lookup could not resolve to a city are left out rather than
		// lumped into a fake "unknown" bucket.
		if ev.Geo.City != "" {
			locations.add(ev.Geo.City+"\x00"+ev.Geo.Country, ev.Geo.City, ev.Geo.Country)
		}
		if ev.Geo.RegionName != "" {
			regions.add(ev.Geo.RegionName, ev.Geo.RegionName, "")
		}
		if ev.Geo.ISP != "" {
			isps.add(ev.Geo.ISP, ev.Geo.ISP, "")
		}
		b := classifyBrowser(ev.UserAgent)
		browsers.add(b, b, "")
	}

	report.UniqueVisitors = int64(len(visitors))
	report.UniqueCountries = int64(len(countries))
	report.TopLocations = locations.top(maxTopLocations)
	report.TopRegions = regions.top(maxTopRegions)
	report.TopISPs = isps.top(maxTopISPs)
	report.TopBrowsers = browsers.top(maxTopBrowsers)
	report.Recent = recentViews(events, maxRecent)
	return report, nil
}

// grouper counts by key and remembers insertion order so that ties
// resolve deterministically in favor of the earlier-seen group.
type grouper struct {
	counts map[string]*domain.GroupCount
	order  []string
}

func newGrouper() *grouper {
	return &grouper{counts: make(map[string]*domain.GroupCount)}
}

func (g *grouper) add(key, name, country string) {
	if gc, ok := g.counts[key]; ok {
		gc.Count++
		return
	}
	g.counts[key] = &domain.GroupCount{Name: name, Country: country, Count: 1}
	g.order = append(g.order, key)
}

func (g *grouper) top(n int) []domain.GroupCount {
	out := make([]domain.GroupCount, 0, len(g.order))
	for _, key := range g.order {
		out = append(out, *g.counts[key])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// recentViews returns the newest events first. The ledger is stored in
// append order, so the tail is the most recent.
func recentViews(events []domain.ViewEvent, n int) []domain.ViewEvent {
	if len(events) > n {
		events = events[len(events)-n:]
	}
	out := make([]domain.ViewEvent, len(events))
	for i, ev := range events {
		out[len(events)-1-i] = ev
	}
	return out
}

// classifyBrowser maps a user agent into a fixed five-bucket taxonomy.
// First match wins in this order; note Chromium-based Edge advertises
// "Chrome" and therefore lands in the Chrome bucket; the legacy Edge
// token is what the Edge bucket catches.
func classifyBrowser(ua string) string {
	switch {
	case strings.Contains(ua, "Firefox"):
		return "Firefox"
	case strings.Contains(ua, "Chrome"):
		return "Chrome"
	case strings.Contains(ua, "Safari"):
		return "Safari"
	case strings.Contains(ua, "Edge"):
		return "Edge"
	default:
		return "Other"
	}
}
