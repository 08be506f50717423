package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"pastelock/pkg/domain"
)

func (s *SQLite) CreateKey(ctx context.Context, key, identity string) (*domain.AccessKey, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	now := time.Now().UTC()
	res, err := s.db.ExecContext(queryCtx,
		`INSERT INTO access_keys (key, status, bound_identity, created_at) VALUES (?, ?, ?, ?)`,
		key, string(domain.KeyActive), identity, now,
	)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db create key")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "key insert id")
	}
	return &domain.AccessKey{
		ID:            id,
		Key:           key,
		Status:        domain.KeyActive,
		BoundIdentity: identity,
		CreatedAt:     now,
	}, nil
}

func (s *SQLite) GetKey(ctx context.Context, key string) (*domain.AccessKey, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, key, status, bound_identity, claimed_origin, created_at, last_used_at
	FROM access_keys WHERE key = ?
	`
	var k domain.AccessKey
	var origin sql.NullString
	var lastUsed sql.NullTime
	var status string
	err := s.db.QueryRowContext(queryCtx, q, key).Scan(
		&k.ID, &k.Key, &status, &k.BoundIdentity, &origin, &k.CreatedAt, &lastUsed,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrKeyInvalid
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get key")
	}
	k.Status = domain.KeyStatus(status)
	if origin.Valid {
		k.ClaimedOrigin = origin.String
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		k.LastUsedAt = &t
	}
	return &k, nil
}

// ClaimOrigin binds the key to an origin with a single-row compare-and-set:
// only the first caller to observe the field unset wins. It reports whether
// this call performed the bind.
func (s *SQLite) ClaimOrigin(ctx context.Context, key, origin string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx, `
		UPDATE access_keys SET claimed_origin = ?, last_used_at = ?
		WHERE key = ? AND claimed_origin IS NULL AND status = ?
	`, origin, time.Now().UTC(), key, string(domain.KeyActive))
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "db claim origin")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "claim rows affected")
	}
	return n == 1, nil
}

func (s *SQLite) TouchKey(ctx context.Context, key string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx,
		`UPDATE access_keys SET last_used_at = ? WHERE key = ?`, time.Now().UTC(), key)
	s.recordError(err)
	return errors.Wrap(err, "db touch key")
}

func (s *SQLite) RevokeKey(ctx context.Context, id int64) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx,
		`UPDATE access_keys SET status = ? WHERE id = ?`, string(domain.KeyRevoked), id)
	s.recordError(err)
	if err != nil {
		return errors.Wrap(err, "db revoke key")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrKeyInvalid
	}
	return nil
}

func (s *SQLite) ListKeys(ctx context.Context) ([]domain.AccessKey, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, key, status, bound_identity, claimed_origin, created_at, last_used_at
	FROM access_keys ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(queryCtx, q)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db list keys")
	}
	defer rows.Close()
	var out []domain.AccessKey
	for rows.Next() {
		var k domain.AccessKey
		var origin sql.NullString
		var lastUsed sql.NullTime
		var status string
		if err := rows.Scan(&k.ID, &k.Key, &status, &k.BoundIdentity, &origin, &k.CreatedAt, &lastUsed); err != nil {
			return nil, errors.Wrap(err, "scan key")
		}
		k.Status = domain.KeyStatus(status)
		if origin.Valid {
			k.ClaimedOrigin = origin.String
		}
		if lastUsed.Valid {
			t := lastUsed.Time
			k.LastUsedAt = &t
		}
		out = append(out, k)
	}
	return out, errors.Wrap(rows.Err(), "db list keys")
}
