package geo

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"pastelock/metrics"
	"pastelock/pkg/domain"
	"pastelock/svc/cache"
	"pastelock/svc/util"
)

// Lookup resolves an IP to location/ISP attributes. Implementations are
// best-effort: a nil GeoInfo with a nil error means "unknown".
type Lookup interface {
	Lookup(ctx context.Context, ip string) (*domain.GeoInfo, error)
}

const defaultEndpoint = "http://ip-api.com/json"

// fields mirrors the provider's response selection; asking for exactly
// what we store keeps responses small.
const queryFields = "status,message,country,countryCode,region,regionName,city,zip,lat,lon,isp,org,as,query"

type apiResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	Region      string  `json:"region"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Zip         string  `json:"zip"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	ISP         string  `json:"isp"`
	Org         string  `json:"org"`
	AS          string  `json:"as"`
}

type Client struct {
	endpoint string
	http     *http.Client
	cache    *cache.TTLMap[*domain.GeoInfo]
	group    singleflight.Group
}

type Option func(*Client)

func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

func NewClient(timeout, cacheTTL time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	c := &Client{
		endpoint: defaultEndpoint,
		http:     &http.Client{Timeout: timeout},
		cache:    cache.NewTTLMap[*domain.GeoInfo](cacheTTL, cacheTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup never returns data for private, loopback or link-local origins;
// those are recorded with empty enrichment by the caller. Concurrent
// lookups for the same IP collapse into one upstream request.
func (c *Client) Lookup(ctx context.Context, ip string) (*domain.GeoInfo, error) {
	if SkipLookup(ip) {
		return nil, nil
	}
	if info, ok := c.cache.Get(ip); ok {
		return info, nil
	}
	result, err, _ := c.group.Do(ip, func() (interface{}, error) {
		if info, ok := c.cache.Get(ip); ok {
			return info, nil
		}
		info, err := c.fetch(ctx, ip)
		if err != nil {
			return nil, err
		}
		c.cache.Set(ip, info)
		return info, nil
	})
	if err != nil {
		metrics.GeoLookupFailures.Inc()
		return nil, err
	}
	return result.(*domain.GeoInfo), nil
}

func (c *Client) fetch(ctx context.Context, ip string) (*domain.GeoInfo, error) {
	u := c.endpoint + "/" + url.PathEscape(ip) + "?fields=" + queryFields
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build geo request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "geo lookup")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("geo lookup: unexpected status %d", resp.StatusCode)
	}
	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decode geo response")
	}
	if body.Status != "success" {
		// The provider answers 200 with status=fail for reserved or
		// unroutable addresses; that is "unknown", not an error.
		util.Debug().Str("ip", util.RedactIP(ip)).Str("message", body.Message).Msg("geo lookup returned no data")
		return nil, nil
	}
	return &domain.GeoInfo{
		Country:     body.Country,
		CountryCode: body.CountryCode,
		Region:      body.Region,
		RegionName:  body.RegionName,
		City:        body.City,
		Zip:         body.Zip,
		Lat:         body.Lat,
		Lon:         body.Lon,
		ISP:         body.ISP,
		Org:         body.Org,
		ASName:      body.AS,
	}, nil
}

func (c *Client) Close() {
	c.cache.Stop()
}

// SkipLookup reports whether an origin must never be sent to the
// provider: private ranges, loopback, link-local, or unparseable input.
func SkipLookup(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}
	return parsed.IsLoopback() ||
		parsed.IsPrivate() ||
		parsed.IsLinkLocalUnicast() ||
		parsed.IsLinkLocalMulticast() ||
		parsed.IsUnspecified()
}
