package db

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"pastelock/pkg/domain"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	case circuitHalfOpen:
		return nil
	default:
		return nil
	}
}

func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

func (s *SQLite) migrate() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	if _, err := s.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT 'Untitled Paste',
		content TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT 'plaintext',
		is_public INTEGER NOT NULL DEFAULT 1,
		password_hash TEXT NOT NULL DEFAULT '',
		burn_after_read INTEGER NOT NULL DEFAULT 0,
		expires_at DATETIME,
		views INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		folder_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_expires_at ON pastes(expires_at);
	CREATE INDEX IF NOT EXISTS idx_pastes_created_at ON pastes(created_at);

	CREATE TABLE IF NOT EXISTS access_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'active',
		bound_identity TEXT NOT NULL DEFAULT '',
		claimed_origin TEXT,
		created_at DATETIME NOT NULL,
		last_used_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS paste_views (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		paste_id TEXT NOT NULL,
		ip TEXT NOT NULL,
		country TEXT NOT NULL DEFAULT '',
		country_code TEXT NOT NULL DEFAULT '',
		region TEXT NOT NULL DEFAULT '',
		region_name TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		zip TEXT NOT NULL DEFAULT '',
		lat REAL NOT NULL DEFAULT 0,
		lon REAL NOT NULL DEFAULT 0,
		isp TEXT NOT NULL DEFAULT '',
		org TEXT NOT NULL DEFAULT '',
		as_name TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		viewed_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_paste_views_paste_id ON paste_views(paste_id);
	CREATE INDEX IF NOT EXISTS idx_paste_views_viewed_at ON paste_views(viewed_at);

	CREATE TABLE IF NOT EXISTS access_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identity TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL,
		granted_at DATETIME
	);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLite) Create(ctx context.Context, p *domain.Paste) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO pastes (id, title, content, language, is_public, password_hash, burn_after_read, expires_at, views, created_at, folder_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`
	_, err := s.db.ExecContext(queryCtx, q,
		p.ID, p.Title, p.Content, p.Language, p.IsPublic, p.PasswordHash, p.BurnAfterRead,
		nullableTime(p.ExpiresAt), p.CreatedAt, p.FolderID,
	)
	s.recordError(err)
	return errors.Wrap(err, "db create paste")
}

func (s *SQLite) Get(ctx context.Context, id string) (*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, title, content, language, is_public, password_hash, burn_after_read, expires_at, views, created_at, folder_id
	FROM pastes WHERE id = ?
	`
	var p domain.Paste
	var expires sql.NullTime
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(
		&p.ID, &p.Title, &p.Content, &p.Language, &p.IsPublic, &p.PasswordHash, &p.BurnAfterRead,
		&expires, &p.Views, &p.CreatedAt, &p.FolderID,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get paste")
	}
	if expires.Valid {
		t := expires.Time
		p.ExpiresAt = &t
	}
	return &p, nil
}

func (s *SQLite) Update(ctx context.Context, id string, u domain.UpdateParams) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if u.Title != nil {
		p.Title = *u.Title
	}
	if u.Content != nil {
		p.Content = *u.Content
	}
	if u.Language != nil {
		p.Language = *u.Language
	}
	if u.Password != nil {
		p.PasswordHash = *u.Password
	}
	if u.IsPublic != nil {
		p.IsPublic = *u.IsPublic
	}
	if u.BurnAfterRead != nil {
		p.BurnAfterRead = *u.BurnAfterRead
	}
	if u.ExpiresAt != nil {
		p.ExpiresAt = u.ExpiresAt
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	UPDATE pastes SET title = ?, content = ?, language = ?, is_public = ?, password_hash = ?, burn_after_read = ?, expires_at = ?
	WHERE id = ?
	`
	_, err = s.db.ExecContext(queryCtx, q,
		p.Title, p.Content, p.Language, p.IsPublic, p.PasswordHash, p.BurnAfterRead,
		nullableTime(p.ExpiresAt), id,
	)
	s.recordError(err)
	return errors.Wrap(err, "db update paste")
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx, `DELETE FROM pastes WHERE id = ?`, id)
	s.recordError(err)
	if err != nil {
		return errors.Wrap(err, "delete paste")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPasteNotFound
	}
	return nil
}

// IncrViews is a single UPDATE so concurrent readers never lose counts.
func (s *SQLite) IncrViews(ctx context.Context, id string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx, `UPDATE pastes SET views = views + 1 WHERE id = ?`, id)
	s.recordError(err)
	return errors.Wrap(err, "incr views")
}

func (s *SQLite) ResetViews(ctx context.Context, id string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx, `UPDATE pastes SET views = 0 WHERE id = ?`, id)
	s.recordError(err)
	if err != nil {
		return errors.Wrap(err, "reset views")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPasteNotFound
	}
	return nil
}

func (s *SQLite) ListSummaries(ctx context.Context) ([]domain.PasteSummary, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, title, language, views, is_public, burn_after_read, expires_at, created_at
	FROM pastes ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(queryCtx, q)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "list pastes")
	}
	defer rows.Close()
	var out []domain.PasteSummary
	for rows.Next() {
		var sm domain.PasteSummary
		var expires sql.NullTime
		if err := rows.Scan(&sm.ID, &sm.Title, &sm.Language, &sm.Views, &sm.IsPublic, &sm.BurnAfterRead, &expires, &sm.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan paste summary")
		}
		if expires.Valid {
			t := expires.Time
			sm.ExpiresAt = &t
		}
		out = append(out, sm)
	}
	return out, errors.Wrap(rows.Err(), "list pastes")
}

func (s *SQLite) StatsSummary(ctx context.Context) (*domain.StatsSummary, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	sum := &domain.StatsSummary{Languages: map[string]int64{}}
	err := s.db.QueryRowContext(queryCtx,
		`SELECT COUNT(*), COALESCE(SUM(views), 0) FROM pastes`).Scan(&sum.TotalPastes, &sum.TotalViews)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "stats totals")
	}
	rows, err := s.db.QueryContext(queryCtx,
		`SELECT language, COUNT(*) FROM pastes GROUP BY language ORDER BY COUNT(*) DESC`)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "stats languages")
	}
	defer rows.Close()
	for rows.Next() {
		var lang string
		var n int64
		if err := rows.Scan(&lang, &n); err != nil {
			return nil, errors.Wrap(err, "scan language stat")
		}
		sum.Languages[lang] = n
	}
	return sum, errors.Wrap(rows.Err(), "stats languages")
}

func (s *SQLite) CleanupExpired(ctx context.Context) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	totalDeleted := 0
	maxIterations := 10000
	for i := 0; i < maxIterations; i++ {
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		default:
		}
		queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		result, err := s.db.ExecContext(queryCtx, `
			DELETE FROM pastes
			WHERE id IN (
				SELECT id FROM pastes
				WHERE expires_at IS NOT NULL AND expires_at < ?
				LIMIT 100
			)
		`, time.Now())
		cancel()
		s.recordError(err)
		if err != nil {
			return totalDeleted, errors.Wrap(err, "cleanup batch failed")
		}
		deleted, _ := result.RowsAffected()
		totalDeleted += int(deleted)
		if deleted == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return totalDeleted, nil
}

func (s *SQLite) Exists(ctx context.Context, id string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	err := s.db.QueryRowContext(queryCtx, `SELECT 1 FROM pastes WHERE id = ? LIMIT 1`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "exists check failed")
	}
	return exists == 1, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
