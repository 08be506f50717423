package lim

import (
	"sync"
	"time"

	"pastelock/metrics"
	"pastelock/svc/util"
)

const (
	anomalyBuckets     = 5
	anomalyTick        = time.Minute
	anomalyMinReqs     = 10
	anomalyRatePercent = 5.0
)

// AnomalyDetector keeps request/error counts in a ring of one-minute
// buckets and fires the callback when the windowed error rate spikes.
// The limiter uses it to halve budgets while an incident is in flight.
type AnomalyDetector struct {
	mu        sync.Mutex
	buckets   [anomalyBuckets]anomalyBucket
	head      int
	onAnomaly func()
	done      chan struct{}
}

type anomalyBucket struct {
	requests int64
	errors   int64
}

func NewAnomalyDetector(onAnomaly func()) *AnomalyDetector {
	return &AnomalyDetector{
		onAnomaly: onAnomaly,
		done:      make(chan struct{}),
	}
}

func (d *AnomalyDetector) Start() {
	go func() {
		ticker := time.NewTicker(anomalyTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.AdvanceWindow()
			case <-d.done:
				return
			}
		}
	}()
}

func (d *AnomalyDetector) Stop() {
	close(d.done)
}

func (d *AnomalyDetector) RecordRequest() {
	d.mu.Lock()
	d.buckets[d.head].requests++
	d.mu.Unlock()
}

func (d *AnomalyDetector) RecordError() {
	d.mu.Lock()
	d.buckets[d.head].errors++
	d.mu.Unlock()
}

// AdvanceWindow closes the current minute: evaluates the rate over the
// whole ring, then recycles the oldest bucket.
func (d *AnomalyDetector) AdvanceWindow() {
	d.mu.Lock()
	defer d.mu.Unlock()

	var reqs, errs int64
	for _, b := range d.buckets {
		reqs += b.requests
		errs += b.errors
	}
	rate := 0.0
	if reqs > 0 {
		rate = float64(errs) / float64(reqs) * 100.0
	}
	metrics.RecentErrorRatePercent.Set(rate)

	if reqs > anomalyMinReqs && rate > anomalyRatePercent {
		util.Warn().
			Float64("error_rate", rate).
			Int64("requests", reqs).
			Int64("errors", errs).
			Msg("high error rate, triggering adaptive rate limit")
		if d.onAnomaly != nil {
			d.onAnomaly()
		}
	}

	d.head = (d.head + 1) % anomalyBuckets
	d.buckets[d.head] = anomalyBucket{}
}
