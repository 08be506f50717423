package views

import (
	"context"
	"sync"
	"time"

	"pastelock/metrics"
	"pastelock/pkg/domain"
	"pastelock/svc/geo"
	"pastelock/svc/util"
)

// Ledger is the append-only sink for enriched view events.
type Ledger interface {
	AppendView(ctx context.Context, v *domain.ViewEvent) error
}

// Recorder runs the enrichment pipeline off the read path: reads enqueue
// a job and return immediately; a worker pool geolocates and appends.
// Delivery is at-least-once, so a retried append may duplicate an event,
// which aggregation tolerates.
type Recorder struct {
	ledger     Ledger
	lookup     geo.Lookup
	geoTimeout time.Duration

	queue       chan job
	wg          sync.WaitGroup
	shutdownCtx context.Context
	shutdownFn  context.CancelFunc

	// mu orders every enqueue before the close of queue: senders hold the
	// read side while Shutdown holds the write side to flip shutdown and
	// close, so a send can never hit a closed channel.
	mu       sync.RWMutex
	shutdown bool
}

type job struct {
	pasteID   string
	origin    string
	userAgent string
	at        time.Time
}

func NewRecorder(ledger Ledger, lookup geo.Lookup, workers, queueSize int, geoTimeout time.Duration) *Recorder {
	if ledger == nil || lookup == nil {
		panic("view recorder: nil dependency")
	}
	if workers <= 0 {
		workers = 8
	}
	if queueSize <= 0 {
		queueSize = workers * 100
	}
	if geoTimeout <= 0 {
		geoTimeout = 2 * time.Second
	}
	shutdownCtx, shutdownFn := context.WithCancel(context.Background())
	r := &Recorder{
		ledger:      ledger,
		lookup:      lookup,
		geoTimeout:  geoTimeout,
		queue:       make(chan job, queueSize),
		shutdownCtx: shutdownCtx,
		shutdownFn:  shutdownFn,
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// RecordAsync never blocks the caller: if the queue is full the event is
// dropped and counted, because a failed user-facing read is worse than a
// lost analytics row.
func (r *Recorder) RecordAsync(pasteID, origin, userAgent string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.shutdown {
		return
	}
	select {
	case r.queue <- job{pasteID: pasteID, origin: origin, userAgent: userAgent, at: time.Now().UTC()}:
	default:
		metrics.ViewEventsDropped.Inc()
		util.Warn().Str("paste_id", pasteID).Msg("view queue full, dropping event")
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	defer func() {
		if rvr := recover(); rvr != nil {
			util.Error().Interface("panic", rvr).Msg("view worker panicked")
		}
	}()
	for j := range r.queue {
		r.process(j)
	}
}

func (r *Recorder) process(j job) {
	ev := &domain.ViewEvent{
		PasteID:   j.pasteID,
		IP:        j.origin,
		UserAgent: j.userAgent,
		ViewedAt:  j.at,
	}
	// Private-range origins are never geolocated; everything else is
	// best-effort with a hard deadline. Any failure leaves the event
	// with empty enrichment, which is a valid terminal state.
	if !geo.SkipLookup(j.origin) {
		lookupCtx, cancel := context.WithTimeout(r.shutdownCtx, r.geoTimeout)
		info, err := r.lookup.Lookup(lookupCtx, j.origin)
		cancel()
		if err != nil {
			util.Debug().Err(err).Str("ip", util.RedactIP(j.origin)).Msg("geo enrichment failed")
		} else if info != nil {
			ev.Geo = *info
		}
	}

	appendCtx, cancel := context.WithTimeout(r.shutdownCtx, 5*time.Second)
	defer cancel()
	if err := r.ledger.AppendView(appendCtx, ev); err != nil {
		// One retry for transient store hiccups; after that the event is
		// dropped and logged, never surfaced to the reader.
		if err2 := r.ledger.AppendView(appendCtx, ev); err2 != nil {
			metrics.ViewEventsDropped.Inc()
			util.Warn().Err(err2).Str("paste_id", j.pasteID).Msg("failed to append view event")
			return
		}
	}
	metrics.ViewEventsRecorded.Inc()
}

// Shutdown stops intake, drains in-flight jobs and waits up to ten
// seconds for the workers.
func (r *Recorder) Shutdown() {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return
	}
	r.shutdown = true
	close(r.queue)
	r.mu.Unlock()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		util.Warn().Msg("view workers didn't stop in time")
	}
	r.shutdownFn()
}
