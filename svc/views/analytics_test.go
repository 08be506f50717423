package views

import (
	"context"
	"fmt"
	"testing"
	"time"

	"pastelock/pkg/domain"
)

type fakeStore struct {
	paste  *domain.Paste
	events []domain.ViewEvent
	err    error
}

func (f *fakeStore) Get(_ context.Context, id string) (*domain.Paste, error) {
	if f.paste == nil || f.paste.ID != id {
		return nil, domain.ErrPasteNotFound
	}
	return f.paste, f.err
}

func (f *fakeStore) ListViews(_ context.Context, _ string) ([]domain.ViewEvent, error) {
	return f.events, f.err
}

func event(ip, country, city, region, isp, ua string) domain.ViewEvent {
	return domain.ViewEvent{
		PasteID:   "abc12345",
		IP:        ip,
		UserAgent: ua,
		Geo: domain.GeoInfo{
			Country:    country,
			City:       city,
			RegionName: region,
			ISP:        isp,
		},
		ViewedAt: time.Now(),
	}
}

func TestSummarizeEmptyLedger(t *testing.T) {
	agg := NewAggregator(&fakeStore{paste: &domain.Paste{ID: "abc12345", Views: 7}})
	report, err := agg.Summarize(context.Background(), "abc12345")
	if err != nil {
		t.Fatal(err)
	}
	if report.TotalViews != 7 {
		t.Errorf("counter is authoritative even with an empty ledger, got %d", report.TotalViews)
	}
	if report.UniqueVisitors != 0 || report.UniqueCountries != 0 {
		t.Error("empty ledger should yield zero uniques")
	}
	if len(report.TopLocations) != 0 || len(report.TopBrowsers) != 0 || len(report.Recent) != 0 {
		t.Error("empty ledger should yield empty groupings")
	}
}

func TestSummarizeUnknownPaste(t *testing.T) {
	agg := NewAggregator(&fakeStore{})
	if _, err := agg.Summarize(context.Background(), "missing1"); err == nil {
		t.Fatal("expected error for unknown paste")
	}
}

func TestSummarizeUniques(t *testing.T) {
	store := &fakeStore{
		paste: &domain.Paste{ID: "abc12345", Views: 4},
		events: []domain.ViewEvent{
			event("1.1.1.1", "Germany", "Berlin", "Berlin", "DTAG", "Firefox/120"),
			event("1.1.1.1", "Germany", "Berlin", "Berlin", "DTAG", "Firefox/120"),
			event("2.2.2.2", "France", "Paris", "IdF", "Orange", "Chrome/120"),
			event("3.3.3.3", "Germany", "Munich", "Bavaria", "DTAG", "Safari/17"),
		},
	}
	report, err := NewAggregator(store).Summarize(context.Background(), "abc12345")
	if err != nil {
		t.Fatal(err)
	}
	if report.UniqueVisitors != 3 {
		t.Errorf("expected 3 unique visitors, got %d", report.UniqueVisitors)
	}
	if report.UniqueCountries != 2 {
		t.Errorf("expected 2 unique countries, got %d", report.UniqueCountries)
	}
}

func TestSummarizeExcludesCitylessEvents(t *testing.T) {
	store := &fakeStore{
		paste: &domain.Paste{ID: "abc12345"},
		events: []domain.ViewEvent{
			event("1.1.1.1", "Germany", "", "", "", "Firefox/120"),
			event("2.2.2.2", "Germany", "Berlin", "Berlin", "DTAG", "Firefox/120"),
		},
	}
	report, err := NewAggregator(store).Summarize(context.Background(), "abc12345")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.TopLocations) != 1 {
		t.Fatalf("cityless events must not appear in locations, got %d entries", len(report.TopLocations))
	}
	if report.TopLocations[0].Name != "Berlin" || report.TopLocations[0].Country != "Germany" {
		t.Errorf("unexpected location %+v", report.TopLocations[0])
	}
	// The country of the cityless event still counts toward uniques.
	if report.UniqueCountries != 1 {
		t.Errorf("expected 1 country, got %d", report.UniqueCountries)
	}
}

func TestSummarizeBrowserTaxonomy(t *testing.T) {
	uas := map[string]string{
		"Mozilla/5.0 (X11; Linux) Gecko/20100101 Firefox/121.0":               "Firefox",
		"Mozilla/5.0 (Windows NT 10.0) Chrome/120.0 Safari/537.36":            "Chrome",
		"Mozilla/5.0 (Windows NT 10.0) Chrome/120.0 Safari/537.36 Edg/120.0":  "Chrome",
		"Mozilla/5.0 (Macintosh) AppleWebKit/605.1.15 Version/17.1 Safari/605": "Safari",
		"Mozilla/5.0 (Windows NT 10.0) Edge/18.19041":                          "Edge",
		"curl/8.4.0": "Other",
		"":           "Other",
	}
	for ua, want := range uas {
		if got := classifyBrowser(ua); got != want {
			t.Errorf("classifyBrowser(%q) = %q, want %q", ua, got, want)
		}
	}
}

func TestSummarizeOrderingAndTies(t *testing.T) {
	var events []domain.ViewEvent
	// Paris appears twice, Berlin and Munich once each; Berlin is seen
	// before Munich so the tie resolves in Berlin's favor.
	events = append(events,
		event("1.1.1.1", "Germany", "Berlin", "Berlin", "DTAG", ""),
		event("2.2.2.2", "France", "Paris", "IdF", "Orange", ""),
		event("3.3.3.3", "Germany", "Munich", "Bavaria", "DTAG", ""),
		event("4.4.4.4", "France", "Paris", "IdF", "Orange", ""),
	)
	store := &fakeStore{paste: &domain.Paste{ID: "abc12345"}, events: events}
	report, err := NewAggregator(store).Summarize(context.Background(), "abc12345")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.TopLocations) != 3 {
		t.Fatalf("expected 3 locations, got %d", len(report.TopLocations))
	}
	if report.TopLocations[0].Name != "Paris" || report.TopLocations[0].Count != 2 {
		t.Errorf("expected Paris first with 2, got %+v", report.TopLocations[0])
	}
	if report.TopLocations[1].Name != "Berlin" {
		t.Errorf("tie should keep first-seen order, got %+v", report.TopLocations[1])
	}
	if report.TopLocations[2].Name != "Munich" {
		t.Errorf("expected Munich last, got %+v", report.TopLocations[2])
	}
}

func TestSummarizeCaps(t *testing.T) {
	var events []domain.ViewEvent
	for i := 0; i < 15; i++ {
		city := fmt.Sprintf("City%02d", i)
		events = append(events, event(fmt.Sprintf("10.0.0.%d", i), "X", city, fmt.Sprintf("Region%02d", i), fmt.Sprintf("ISP%02d", i), ""))
	}
	store := &fakeStore{paste: &domain.Paste{ID: "abc12345"}, events: events}
	report, err := NewAggregator(store).Summarize(context.Background(), "abc12345")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.TopLocations) != maxTopLocations {
		t.Errorf("locations capped at %d, got %d", maxTopLocations, len(report.TopLocations))
	}
	if len(report.TopRegions) != maxTopRegions {
		t.Errorf("regions capped at %d, got %d", maxTopRegions, len(report.TopRegions))
	}
	if len(report.TopISPs) != maxTopISPs {
		t.Errorf("ISPs capped at %d, got %d", maxTopISPs, len(report.TopISPs))
	}
}

func TestSummarizeRecentNewestFirst(t *testing.T) {
	var events []domain.ViewEvent
	for i := 0; i < 60; i++ {
		ev := event(fmt.Sprintf("10.0.0.%d", i), "", "", "", "", "")
		ev.ID = int64(i + 1)
		events = append(events, ev)
	}
	store := &fakeStore{paste: &domain.Paste{ID: "abc12345"}, events: events}
	report, err := NewAggregator(store).Summarize(context.Background(), "abc12345")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Recent) != maxRecent {
		t.Fatalf("recent capped at %d, got %d", maxRecent, len(report.Recent))
	}
	if report.Recent[0].ID != 60 {
		t.Errorf("newest event first, got ID %d", report.Recent[0].ID)
	}
	if report.Recent[maxRecent-1].ID != 11 {
		t.Errorf("recent window should end at the 50th newest, got ID %d", report.Recent[maxRecent-1].ID)
	}
}
