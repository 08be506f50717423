package db

import (
	"context"

	"github.com/pkg/errors"

	"pastelock/pkg/domain"
)

func (s *SQLite) AppendView(ctx context.Context, v *domain.ViewEvent) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO paste_views (paste_id, ip, country, country_code, region, region_name, city, zip, lat, lon, isp, org, as_name, user_agent, viewed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(queryCtx, q,
		v.PasteID, v.IP,
		v.Geo.Country, v.Geo.CountryCode, v.Geo.Region, v.Geo.RegionName,
		v.Geo.City, v.Geo.Zip, v.Geo.Lat, v.Geo.Lon,
		v.Geo.ISP, v.Geo.Org, v.Geo.ASName,
		v.UserAgent, v.ViewedAt,
	)
	s.recordError(err)
	return errors.Wrap(err, "db append view")
}

// ListViews returns the ledger for one paste in insertion order
// (oldest first), so aggregation sees events in first-seen order.
func (s *SQLite) ListViews(ctx context.Context, pasteID string) ([]domain.ViewEvent, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, paste_id, ip, country, country_code, region, region_name, city, zip, lat, lon, isp, org, as_name, user_agent, viewed_at
	FROM paste_views WHERE paste_id = ? ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(queryCtx, q, pasteID)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db list views")
	}
	defer rows.Close()
	var out []domain.ViewEvent
	for rows.Next() {
		var v domain.ViewEvent
		if err := rows.Scan(
			&v.ID, &v.PasteID, &v.IP,
			&v.Geo.Country, &v.Geo.CountryCode, &v.Geo.Region, &v.Geo.RegionName,
			&v.Geo.City, &v.Geo.Zip, &v.Geo.Lat, &v.Geo.Lon,
			&v.Geo.ISP, &v.Geo.Org, &v.Geo.ASName,
			&v.UserAgent, &v.ViewedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan view event")
		}
		out = append(out, v)
	}
	return out, errors.Wrap(rows.Err(), "db list views")
}

func (s *SQLite) ClearViews(ctx context.Context, pasteID string) (int64, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx, `DELETE FROM paste_views WHERE paste_id = ?`, pasteID)
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "db clear views")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLite) ClearAllViews(ctx context.Context) (int64, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx, `DELETE FROM paste_views`)
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "db clear all views")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
