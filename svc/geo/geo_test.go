package geo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSkipLookup(t *testing.T) {
	skip := []string{"127.0.0.1", "::1", "10.0.0.5", "192.168.1.1", "172.16.0.9", "169.254.1.1", "0.0.0.0", "not-an-ip", ""}
	for _, ip := range skip {
		if !SkipLookup(ip) {
			t.Errorf("SkipLookup(%q) = false, want true", ip)
		}
	}
	public := []string{"93.184.216.34", "8.8.8.8", "2606:4700:4700::1111"}
	for _, ip := range public {
		if SkipLookup(ip) {
			t.Errorf("SkipLookup(%q) = true, want false", ip)
		}
	}
}

func TestLookupParsesResponse(t *testing.T) {
	var gotPath, gotFields string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFields = r.URL.Query().Get("fields")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "success",
			"country":     "Germany",
			"countryCode": "DE",
			"region":      "BE",
			"regionName":  "Berlin",
			"city":        "Berlin",
			"zip":         "10115",
			"lat":         52.52,
			"lon":         13.40,
			"isp":         "Deutsche Telekom AG",
			"org":         "DTAG",
			"as":          "AS3320",
		})
	}))
	defer srv.Close()

	c := NewClient(time.Second, time.Minute, WithEndpoint(srv.URL))
	defer c.Close()

	info, err := c.Lookup(context.Background(), "93.184.216.34")
	if err != nil {
		t.Fatal(err)
	}
	if info == nil {
		t.Fatal("expected geo info")
	}
	if gotPath != "/93.184.216.34" {
		t.Errorf("unexpected request path %q", gotPath)
	}
	if gotFields != queryFields {
		t.Errorf("fields selection not sent, got %q", gotFields)
	}
	if info.Country != "Germany" || info.City != "Berlin" || info.ISP != "Deutsche Telekom AG" || info.ASName != "AS3320" {
		t.Errorf("unexpected parse: %+v", info)
	}
	if info.Lat != 52.52 || info.Lon != 13.40 {
		t.Errorf("coordinates lost: %+v", info)
	}
}

func TestLookupFailStatusIsUnknownNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "fail", "message": "reserved range"})
	}))
	defer srv.Close()

	c := NewClient(time.Second, time.Minute, WithEndpoint(srv.URL))
	defer c.Close()

	info, err := c.Lookup(context.Background(), "93.184.216.34")
	if err != nil {
		t.Fatalf("status=fail is not an error: %v", err)
	}
	if info != nil {
		t.Errorf("expected nil info for unknown, got %+v", info)
	}
}

func TestLookupHTTPErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(time.Second, time.Minute, WithEndpoint(srv.URL))
	defer c.Close()

	if _, err := c.Lookup(context.Background(), "93.184.216.34"); err == nil {
		t.Fatal("expected error for non-200 upstream")
	}
}

func TestLookupCachesResults(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		json.NewEncoder(w).Encode(map[string]string{"status": "success", "country": "France"})
	}))
	defer srv.Close()

	c := NewClient(time.Second, time.Minute, WithEndpoint(srv.URL))
	defer c.Close()

	for i := 0; i < 5; i++ {
		if _, err := c.Lookup(context.Background(), "93.184.216.34"); err != nil {
			t.Fatal(err)
		}
	}
	if n := atomic.LoadInt64(&hits); n != 1 {
		t.Errorf("expected a single upstream request, got %d", n)
	}
}

func TestLookupSkipsPrivateWithoutUpstreamCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called for private origins")
	}))
	defer srv.Close()

	c := NewClient(time.Second, time.Minute, WithEndpoint(srv.URL))
	defer c.Close()

	info, err := c.Lookup(context.Background(), "10.1.2.3")
	if err != nil || info != nil {
		t.Errorf("private origin should be unknown, got %+v, %v", info, err)
	}
}
