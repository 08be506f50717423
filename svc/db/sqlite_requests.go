package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"pastelock/pkg/domain"
)

func (s *SQLite) CreateRequest(ctx context.Context, identity, reason string) (*domain.AccessRequest, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	now := time.Now().UTC()
	res, err := s.db.ExecContext(queryCtx,
		`INSERT INTO access_requests (identity, reason, status, created_at) VALUES (?, ?, ?, ?)`,
		identity, reason, string(domain.RequestPending), now,
	)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db create request")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "request insert id")
	}
	return &domain.AccessRequest{
		ID:        id,
		Identity:  identity,
		Reason:    reason,
		Status:    domain.RequestPending,
		CreatedAt: now,
	}, nil
}

func (s *SQLite) GetRequest(ctx context.Context, id int64) (*domain.AccessRequest, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var r domain.AccessRequest
	var status string
	var granted sql.NullTime
	err := s.db.QueryRowContext(queryCtx,
		`SELECT id, identity, reason, status, created_at, granted_at FROM access_requests WHERE id = ?`, id,
	).Scan(&r.ID, &r.Identity, &r.Reason, &status, &r.CreatedAt, &granted)
	if err == sql.ErrNoRows {
		return nil, domain.ErrRequestNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get request")
	}
	r.Status = domain.RequestStatus(status)
	if granted.Valid {
		t := granted.Time
		r.GrantedAt = &t
	}
	return &r, nil
}

func (s *SQLite) ListRequests(ctx context.Context) ([]domain.AccessRequest, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(queryCtx,
		`SELECT id, identity, reason, status, created_at, granted_at FROM access_requests ORDER BY created_at DESC`)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db list requests")
	}
	defer rows.Close()
	var out []domain.AccessRequest
	for rows.Next() {
		var r domain.AccessRequest
		var status string
		var granted sql.NullTime
		if err := rows.Scan(&r.ID, &r.Identity, &r.Reason, &status, &r.CreatedAt, &granted); err != nil {
			return nil, errors.Wrap(err, "scan request")
		}
		r.Status = domain.RequestStatus(status)
		if granted.Valid {
			t := granted.Time
			r.GrantedAt = &t
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "db list requests")
}

// ApproveRequest mints the key and flips the request status in one
// transaction so an approval can never leave one side behind.
func (s *SQLite) ApproveRequest(ctx context.Context, id int64, key string) (*domain.AccessKey, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.RequestPending {
		return nil, domain.ErrInvalidRequest
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(queryCtx, nil)
	if err != nil {
		s.recordError(err)
		return nil, errors.Wrap(err, "begin approve tx")
	}
	defer tx.Rollback()
	now := time.Now().UTC()
	res, err := tx.ExecContext(queryCtx,
		`INSERT INTO access_keys (key, status, bound_identity, created_at) VALUES (?, ?, ?, ?)`,
		key, string(domain.KeyActive), req.Identity, now,
	)
	if err != nil {
		s.recordError(err)
		return nil, errors.Wrap(err, "approve insert key")
	}
	keyID, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "approve key id")
	}
	if _, err := tx.ExecContext(queryCtx,
		`UPDATE access_requests SET status = ?, granted_at = ? WHERE id = ?`,
		string(domain.RequestApproved), now, id,
	); err != nil {
		s.recordError(err)
		return nil, errors.Wrap(err, "approve update request")
	}
	if err := tx.Commit(); err != nil {
		s.recordError(err)
		return nil, errors.Wrap(err, "commit approve tx")
	}
	return &domain.AccessKey{
		ID:            keyID,
		Key:           key,
		Status:        domain.KeyActive,
		BoundIdentity: req.Identity,
		CreatedAt:     now,
	}, nil
}

func (s *SQLite) DenyRequest(ctx context.Context, id int64) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx,
		`UPDATE access_requests SET status = ? WHERE id = ?`, string(domain.RequestDenied), id)
	s.recordError(err)
	if err != nil {
		return errors.Wrap(err, "db deny request")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRequestNotFound
	}
	return nil
}
