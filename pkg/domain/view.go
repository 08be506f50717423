package domain

import (
	"time"
)

// GeoInfo is the enrichment attached to a view event. All fields are
// best-effort; an empty GeoInfo is a valid terminal state when the
// lookup fails or the origin is a private address.
type GeoInfo struct {
	Country     string  `json:"country,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	Region      string  `json:"region,omitempty"`
	RegionName  string  `json:"region_name,omitempty"`
	City        string  `json:"city,omitempty"`
	Zip         string  `json:"zip,omitempty"`
	Lat         float64 `json:"lat,omitempty"`
	Lon         float64 `json:"lon,omitempty"`
	ISP         string  `json:"isp,omitempty"`
	Org         string  `json:"org,omitempty"`
	ASName      string  `json:"as_name,omitempty"`
}

// ViewEvent is immutable once appended to the ledger.
type ViewEvent struct {
	ID        int64     `json:"id"`
	PasteID   string    `json:"paste_id"`
	IP        string    `json:"ip"`
	Geo       GeoInfo   `json:"geo"`
	UserAgent string    `json:"user_agent"`
	ViewedAt  time.Time `json:"viewed_at"`
}

type GroupCount struct {
	Name    string `json:"name"`
	Country string `json:"country,omitempty"`
	Count   int64  `json:"count"`
}

type AnalyticsReport struct {
	PasteID         string       `json:"paste_id"`
	TotalViews      int64        `json:"total_views"`
	UniqueVisitors  int64        `json:"unique_visitors"`
	UniqueCountries int64        `json:"unique_countries"`
	TopLocations    []GroupCount `json:"top_locations"`
	TopRegions      []GroupCount `json:"top_regions"`
	TopISPs         []GroupCount `json:"top_isps"`
	TopBrowsers     []GroupCount `json:"top_browsers"`
	Recent          []ViewEvent  `json:"recent"`
}
