package lim

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"pastelock/svc/db"
	"pastelock/svc/util"
)

const (
	maxBuckets       = 10000
	bucketSweepEvery = 5 * time.Minute
	bucketTTL        = 30 * time.Minute
	redisWait        = 100 * time.Millisecond
	adaptiveFor      = 60 * time.Second
)

// Limiter enforces per-endpoint budgets. With Redis available the
// budget is shared across instances through a Lua counter; without it
// each instance falls back to conservative per-IP token buckets.
type Limiter struct {
	rdb            *db.Redis
	trustedProxies []string
	detector       *AnomalyDetector
	adaptiveUntil  int64
	buckets        map[string]*ipBucket
	mu             sync.Mutex
	perIPLimit     int
	burstLimit     int
	globalRPM      int
	quit           chan struct{}
	evictionSem    chan struct{}
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

func New(globalRPM, burst, perIPLimit int, rdb *db.Redis, trustedProxies []string) *Limiter {
	for _, proxy := range trustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				panic(fmt.Sprintf("invalid CIDR in trustedProxies: %s: %v", proxy, err))
			}
		} else if net.ParseIP(proxy) == nil {
			panic(fmt.Sprintf("invalid IP in trustedProxies: %s", proxy))
		}
	}
	l := &Limiter{
		rdb:            rdb,
		trustedProxies: trustedProxies,
		buckets:        make(map[string]*ipBucket),
		perIPLimit:     perIPLimit,
		burstLimit:     burst,
		globalRPM:      globalRPM,
		quit:           make(chan struct{}),
		evictionSem:    make(chan struct{}, 1),
	}
	l.detector = NewAnomalyDetector(l.TriggerAdaptiveMode)
	l.detector.Start()
	go l.sweepLoop()
	return l
}

func (l *Limiter) Stop() {
	close(l.quit)
	l.detector.Stop()
}

// TriggerAdaptiveMode halves the budgets for a minute after the anomaly
// detector fires.
func (l *Limiter) TriggerAdaptiveMode() {
	atomic.StoreInt64(&l.adaptiveUntil, time.Now().Add(adaptiveFor).Unix())
}

// effectiveLimit applies the adaptive halving, never dropping below one
// request per window.
func (l *Limiter) effectiveLimit(limit int) int {
	if time.Now().Unix() >= atomic.LoadInt64(&l.adaptiveUntil) {
		return limit
	}
	if limit /= 2; limit < 1 {
		return 1
	}
	return limit
}

func (l *Limiter) RecordRequest() { l.detector.RecordRequest() }
func (l *Limiter) RecordError()   { l.detector.RecordError() }

// CheckLimit charges one request against the endpoint's budget. The
// shared Redis window is preferred; any Redis trouble degrades to the
// local per-IP path rather than failing open.
func (l *Limiter) CheckLimit(r *http.Request, endpoint string) *RateLimitResult {
	ip := GetRealIP(r, l.trustedProxies)
	if l.rdb == nil {
		return l.checkLocal(ip, endpoint)
	}

	limit := l.effectiveLimit(l.globalRPM)
	ctx, cancel := context.WithTimeout(r.Context(), redisWait)
	defer cancel()
	usage, err := l.rdb.RateLimit(ctx, "global:"+endpoint, limit, time.Minute)
	if err != nil {
		util.Warn().Err(err).Msg("redis rate limit unavailable, using local fallback")
		return l.checkLocal(ip, endpoint)
	}
	remaining := limit - usage
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitResult{
		Allowed:   usage <= limit,
		Limit:     limit,
		Remaining: remaining,
		Reset:     time.Now().Add(time.Minute),
	}
}

func (l *Limiter) checkLocal(ip, endpoint string) *RateLimitResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Shed the oldest tenth in the background once the map nears
	// capacity; at capacity new clients are rejected outright.
	if len(l.buckets) >= (maxBuckets*9)/10 {
		if n := len(l.buckets) / 10; n > 0 {
			select {
			case l.evictionSem <- struct{}{}:
				go func() {
					defer func() { <-l.evictionSem }()
					l.evictOldest(n)
				}()
			default:
			}
		}
	}
	if len(l.buckets) >= maxBuckets {
		util.Warn().
			Int("buckets", len(l.buckets)).
			Str("ip", util.RedactIP(ip)).
			Msg("rate limiter at capacity, rejecting request")
		return &RateLimitResult{
			Allowed: false,
			Limit:   l.perIPLimit,
			Reset:   time.Now().Add(time.Minute),
		}
	}

	limit := l.effectiveLimit(l.perIPLimit)
	key := ip + ":" + endpoint
	b, ok := l.buckets[key]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(rate.Limit(limit)/60.0, limit)}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()

	res := &RateLimitResult{
		Limit: limit,
		Reset: time.Now().Add(time.Minute),
	}
	if b.limiter.Allow() {
		res.Allowed = true
		res.Remaining = limit - 1
	}
	return res
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(bucketSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweepIdle()
		case <-l.quit:
			return
		}
	}
}

func (l *Limiter) sweepIdle() {
	cutoff := time.Now().Add(-bucketTTL)
	l.mu.Lock()
	evicted := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			evicted++
		}
	}
	remaining := len(l.buckets)
	l.mu.Unlock()
	if evicted > 0 {
		util.Debug().Int("evicted", evicted).Int("remaining", remaining).Msg("rate limiter sweep")
	}
}

// evictOldest drops up to count least-recently-seen buckets. Runs off
// the request path; re-checks the size under lock since the sweep may
// have already made room.
func (l *Limiter) evictOldest(count int) {
	l.mu.Lock()
	if len(l.buckets) < (maxBuckets*8)/10 {
		l.mu.Unlock()
		return
	}
	type aged struct {
		key      string
		lastSeen time.Time
	}
	entries := make([]aged, 0, len(l.buckets))
	for k, b := range l.buckets {
		entries = append(entries, aged{k, b.lastSeen})
	}
	l.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastSeen.Before(entries[j].lastSeen)
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for i := 0; i < count && i < len(entries); i++ {
		if _, ok := l.buckets[entries[i].key]; ok {
			delete(l.buckets, entries[i].key)
			evicted++
		}
	}
	if evicted > 0 {
		util.Debug().Int("evicted", evicted).Msg("rate limiter pressure eviction")
	}
}

// GetRealIP resolves the client address, walking X-Forwarded-For right
// to left past trusted proxies only. An untrusted RemoteAddr wins
// unconditionally so the header can't be spoofed from outside.
func GetRealIP(r *http.Request, trustedProxies []string) string {
	remoteIP := stripPort(r.RemoteAddr)
	if len(trustedProxies) == 0 || !isTrustedProxy(remoteIP, trustedProxies) {
		return remoteIP
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP
	}

	const maxHops = 100
	hops := 0
	rest := xff
	for len(rest) > 0 && hops < maxHops {
		var hop string
		if i := strings.LastIndexByte(rest, ','); i == -1 {
			hop, rest = strings.TrimSpace(rest), ""
		} else {
			hop, rest = strings.TrimSpace(rest[i+1:]), rest[:i]
		}
		if hop == "" {
			continue
		}
		hops++
		if net.ParseIP(hop) == nil {
			util.Warn().Str("ip", hop).Msg("invalid IP in X-Forwarded-For, skipping")
			continue
		}
		if !isTrustedProxy(hop, trustedProxies) {
			return hop
		}
	}
	if hops >= maxHops {
		util.Warn().Int("hops", hops).Str("remote", remoteIP).Msg("XFF header excessive, truncated parsing")
	}
	return remoteIP
}

func isTrustedProxy(ip string, trustedProxies []string) bool {
	for _, proxy := range trustedProxies {
		if ip == proxy {
			return true
		}
		if strings.Contains(proxy, "/") {
			if _, subnet, err := net.ParseCIDR(proxy); err == nil {
				if parsed := net.ParseIP(ip); parsed != nil && subnet.Contains(parsed) {
					return true
				}
			}
		}
	}
	return false
}

func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
