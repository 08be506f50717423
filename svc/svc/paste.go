package svc

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"

	"pastelock/cfg"
	"pastelock/metrics"
	"pastelock/pkg/domain"
	"pastelock/svc/auth"
	"pastelock/svc/cache"
	"pastelock/svc/db"
	"pastelock/svc/gate"
	"pastelock/svc/util"
	"pastelock/svc/views"
)

// Paste orchestrates the read/write path: storage tiers, the access
// gate, the synchronous view counter and the async enrichment pipeline.
type Paste struct {
	db       *db.SQLite
	lru      *cache.LRU
	rdb      *db.Redis
	hasher   *auth.Hasher
	gate     *gate.Gate
	recorder *views.Recorder
	cfg      *cfg.Cfg
	shutdown atomic.Bool
	opWg     sync.WaitGroup
}

func NewPaste(sqlDB *db.SQLite, lru *cache.LRU, rdb *db.Redis, h *auth.Hasher, g *gate.Gate, rec *views.Recorder, c *cfg.Cfg) *Paste {
	if sqlDB == nil || lru == nil || h == nil || g == nil || rec == nil || c == nil {
		panic("paste service: nil dependency")
	}
	return &Paste{
		db:       sqlDB,
		lru:      lru,
		rdb:      rdb,
		hasher:   h,
		gate:     g,
		recorder: rec,
		cfg:      c,
	}
}

func (p *Paste) Shutdown() {
	p.shutdown.Store(true)
	p.recorder.Shutdown()
	p.opWg.Wait()
	util.Debug().Msg("paste service shutdown complete")
}

func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if p.shutdown.Load() {
		return nil, errors.New("service shutting down")
	}
	p.opWg.Add(1)
	defer p.opWg.Done()

	content := norm.NFC.String(params.Content)
	if strings.TrimSpace(content) == "" {
		return nil, domain.ErrContentRequired
	}
	if len(content) > int(p.cfg.MaxPasteSize) {
		return nil, domain.ErrPasteTooLarge
	}
	if params.ExpiresAt != nil && !params.ExpiresAt.After(time.Now()) {
		return nil, domain.ErrInvalidRequest
	}

	id, err := util.GenPasteID(func(id string) (bool, error) {
		return p.db.Exists(ctx, id)
	})
	if err != nil {
		return nil, errors.Wrap(err, "gen id")
	}

	var pwHash string
	if params.Password != "" {
		pwHash, err = p.hasher.Hash(params.Password)
		if err != nil {
			return nil, errors.Wrap(err, "hash password")
		}
	}

	paste := &domain.Paste{
		ID:            id,
		Title:         params.Title,
		Content:       content,
		Language:      params.Language,
		IsPublic:      params.IsPublic,
		PasswordHash:  pwHash,
		BurnAfterRead: params.BurnAfterRead,
		ExpiresAt:     params.ExpiresAt,
		CreatedAt:     time.Now().UTC(),
		FolderID:      params.FolderID,
	}
	if err := p.db.Create(ctx, paste); err != nil {
		return nil, errors.Wrap(err, "create paste")
	}
	p.cachePaste(ctx, paste)
	metrics.PasteCreated.Inc()
	return paste, nil
}

// Get serves a paste read. creds drives the access decision; when track
// is false the read still bumps the counter but leaves no ledger entry.
func (p *Paste) Get(ctx context.Context, id string, creds domain.Credentials, track bool) (*domain.Paste, error) {
	paste, err := p.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	if paste.Expired(time.Now()) {
		p.expireNow(ctx, id)
		return nil, domain.ErrPasteNotFound
	}

	decision, err := p.gate.Evaluate(ctx, paste, creds)
	if err != nil {
		return nil, errors.Wrap(err, "evaluate access")
	}
	if gateErr := decision.Err(); gateErr != nil {
		return nil, gateErr
	}

	// Admins opening a paste for editing read it without disturbing the
	// analytics; every other allowed read counts.
	if !(creds.IsAdmin && creds.EditIntent) {
		if err := p.db.IncrViews(ctx, id); err != nil {
			return nil, errors.Wrap(err, "incr views")
		}
		// Hand back a private copy so the bumped count never races the
		// cached instance, and re-cache the bumped copy so later cache
		// hits report the advanced counter.
		cp := *paste
		cp.Views++
		paste = &cp
		cached := cp
		p.cachePaste(ctx, &cached)
		if track {
			p.recorder.RecordAsync(id, creds.Origin, userAgentFrom(ctx))
		}
	}

	if paste.BurnAfterRead && !creds.IsAdmin {
		if err := p.purge(ctx, id); err != nil {
			util.Error().Err(err).Str("id", id).Msg("burn-after-read delete failed")
		} else {
			metrics.PasteBurned.Inc()
		}
	}

	metrics.PasteRetrieved.Inc()
	return paste, nil
}

// fetch walks the tiers: LRU, then Redis (promoting hits), then SQLite
// (repopulating both). Burn-after-read pastes are never cached, since a
// hit served from cache after the burn would resurrect the paste.
func (p *Paste) fetch(ctx context.Context, id string) (*domain.Paste, error) {
	if paste := p.lru.Get(ctx, id); paste != nil {
		metrics.CacheHits.Inc()
		return paste, nil
	}
	if p.rdb != nil {
		if paste, err := p.rdb.GetPaste(ctx, id); err == nil && paste != nil {
			metrics.CacheHits.Inc()
			p.lru.Set(ctx, paste, cacheTTL(paste))
			return paste, nil
		}
	}
	metrics.CacheMisses.Inc()
	paste, err := p.db.Get(ctx, id)
	if err != nil {
		if errors.Is(errors.Cause(err), domain.ErrPasteNotFound) {
			return nil, domain.ErrPasteNotFound
		}
		return nil, errors.Wrap(err, "get paste")
	}
	p.cachePaste(ctx, paste)
	return paste, nil
}

func (p *Paste) cachePaste(ctx context.Context, paste *domain.Paste) {
	if paste.BurnAfterRead {
		return
	}
	ttl := cacheTTL(paste)
	p.lru.Set(ctx, paste, ttl)
	if p.rdb != nil {
		if err := p.rdb.CachePaste(ctx, paste, ttl); err != nil {
			util.Warn().Err(err).Str("id", paste.ID).Msg("failed to cache in Redis")
		}
	}
}

func cacheTTL(paste *domain.Paste) time.Duration {
	if paste.ExpiresAt == nil {
		return 0
	}
	return time.Until(*paste.ExpiresAt)
}

// expireNow removes a paste whose expiry was observed on the read path,
// so a dead paste never waits for the background sweep.
func (p *Paste) expireNow(ctx context.Context, id string) {
	if err := p.purge(ctx, id); err != nil && !errors.Is(errors.Cause(err), domain.ErrPasteNotFound) {
		util.Warn().Err(err).Str("id", id).Msg("lazy expiry delete failed")
		return
	}
	metrics.PasteExpiredLazy.Inc()
}

func (p *Paste) purge(ctx context.Context, id string) error {
	if err := p.db.Delete(ctx, id); err != nil {
		return err
	}
	p.lru.Delete(id)
	if p.rdb != nil {
		if err := p.rdb.Delete(ctx, id); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to delete from redis")
		}
	}
	return nil
}

func (p *Paste) Update(ctx context.Context, id string, params domain.UpdateParams) (*domain.Paste, error) {
	if params.Content != nil {
		content := norm.NFC.String(*params.Content)
		if strings.TrimSpace(content) == "" {
			return nil, domain.ErrContentRequired
		}
		if len(content) > int(p.cfg.MaxPasteSize) {
			return nil, domain.ErrPasteTooLarge
		}
		params.Content = &content
	}
	if params.Password != nil && *params.Password != "" {
		hash, err := p.hasher.Hash(*params.Password)
		if err != nil {
			return nil, errors.Wrap(err, "hash password")
		}
		params.Password = &hash
	}
	if err := p.db.Update(ctx, id, params); err != nil {
		return nil, err
	}
	// Stale copies must not survive an edit.
	p.lru.Delete(id)
	if p.rdb != nil {
		if err := p.rdb.Delete(ctx, id); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to invalidate redis")
		}
	}
	return p.db.Get(ctx, id)
}

func (p *Paste) Delete(ctx context.Context, id string) error {
	if err := p.purge(ctx, id); err != nil {
		return err
	}
	util.Info().Str("id", id).Msg("paste deleted")
	return nil
}

func (p *Paste) List(ctx context.Context) ([]domain.PasteSummary, error) {
	return p.db.ListSummaries(ctx)
}

func (p *Paste) Stats(ctx context.Context) (*domain.StatsSummary, error) {
	return p.db.StatsSummary(ctx)
}

// ResetViews zeroes the counter and nothing else: the view ledger keeps
// its history so analytics stay reconstructable.
func (p *Paste) ResetViews(ctx context.Context, id string) error {
	if err := p.db.ResetViews(ctx, id); err != nil {
		return err
	}
	p.lru.Delete(id)
	if p.rdb != nil {
		if err := p.rdb.Delete(ctx, id); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to invalidate redis")
		}
	}
	return nil
}

// ClearViews drops the ledger rows for one paste. The counter is
// untouched; reset and clear are deliberately separate operations.
func (p *Paste) ClearViews(ctx context.Context, id string) (int64, error) {
	if _, err := p.db.Get(ctx, id); err != nil {
		return 0, err
	}
	return p.db.ClearViews(ctx, id)
}

func (p *Paste) ClearAllViews(ctx context.Context) (int64, error) {
	return p.db.ClearAllViews(ctx)
}

type uaCtxKey struct{}

// WithUserAgent stashes the requester's user agent for the enrichment
// pipeline; handlers set it once per request.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, uaCtxKey{}, ua)
}

func userAgentFrom(ctx context.Context) string {
	ua, _ := ctx.Value(uaCtxKey{}).(string)
	return ua
}

var (
	cleanerOnce    sync.Once
	cleanerRunning atomic.Bool
)

func StartCleaner(ctx context.Context, db *db.SQLite, interval time.Duration) error {
	if cleanerRunning.Load() {
		return errors.New("cleaner already running")
	}
	cleanerOnce.Do(func() {
		cleanerRunning.Store(true)
		go runCleaner(ctx, db, interval)
	})
	return nil
}

func runCleaner(ctx context.Context, db *db.SQLite, interval time.Duration) {
	defer cleanerRunning.Store(false)
	cleanupRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, cleanupRequestID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", cleanupRequestID).
		Dur("interval", interval).
		Msg("cleanup worker started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", cleanupRequestID).
				Msg("cleanup worker shutting down")
			return
		case <-ticker.C:
			deleted, err := db.CleanupExpired(ctx)
			metrics.PruneCycles.Inc()
			if err != nil {
				util.Error().
					Err(err).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("cleanup failed")
			} else if deleted > 0 {
				util.Info().
					Int("deleted", deleted).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("cleanup completed")
			}
		}
	}
}
