package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/parkbeat/relay/internal/domain/model"
)

// ErrNotFound is returned when a project id has no matching row.
var ErrNotFound = errors.New("postgres: project not found")

// GetProject reads back the authoritative record (spec §4.5 step 3).
func (s *Store) GetProject(ctx context.Context, id string) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, status, lat, lng, geohash, view_params,
		       creator_id, updater_id, cost_breakdown, created_at, updated_at
		FROM projects WHERE id = $1`, id)

	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get project %s: %w", id, err)
	}
	return p, nil
}

// UpsertProject inserts a new project or updates an existing one by id
// (spec §4.5 step 2).
func (s *Store) UpsertProject(ctx context.Context, p *model.Project) error {
	view, err := json.Marshal(p.View)
	if err != nil {
		return fmt.Errorf("postgres: marshal view params: %w", err)
	}
	cost, err := json.Marshal(p.CostBreakdown)
	if err != nil {
		return fmt.Errorf("postgres: marshal cost breakdown: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, status, lat, lng, geohash,
		                       view_params, creator_id, updater_id, cost_breakdown,
		                       created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			geohash = EXCLUDED.geohash,
			view_params = EXCLUDED.view_params,
			updater_id = EXCLUDED.updater_id,
			cost_breakdown = EXCLUDED.cost_breakdown,
			updated_at = now()
		`, p.ID, p.Name, p.Description, p.Status, p.Lat, p.Lng, p.Geohash,
		view, p.CreatorID, p.UpdaterID, cost)
	if err != nil {
		return fmt.Errorf("postgres: upsert project %s: %w", p.ID, err)
	}
	return nil
}

// DeleteProject removes a project row. Business-rule rejection ("active"
// status) is enforced by the caller (internal/service), which must read
// the project first per spec §4.5 ("walk previous geohash before delete").
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete project %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByGeohashPrefix implements spec §4.5's "query project store for
// geohash LIKE <prefix>%".
func (s *Store) ListByGeohashPrefix(ctx context.Context, prefix string) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, status, lat, lng, geohash, view_params,
		       creator_id, updater_id, cost_breakdown, created_at, updated_at
		FROM projects WHERE geohash LIKE $1 || '%'
		ORDER BY updated_at DESC`, prefix)
	if err != nil {
		return nil, fmt.Errorf("postgres: list by geohash prefix %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan project row: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// rowScanner abstracts over *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*model.Project, error) {
	var p model.Project
	var description sql.NullString
	var viewRaw, costRaw []byte

	if err := row.Scan(&p.ID, &p.Name, &description, &p.Status, &p.Lat, &p.Lng,
		&p.Geohash, &viewRaw, &p.CreatorID, &p.UpdaterID, &costRaw,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Description = description.String

	if len(viewRaw) > 0 {
		var view model.ViewParams
		if err := json.Unmarshal(viewRaw, &view); err == nil {
			p.View = &view
		}
	}
	if len(costRaw) > 0 {
		var cost model.CostBreakdown
		if err := json.Unmarshal(costRaw, &cost); err == nil {
			p.CostBreakdown = cost
		}
	}
	return &p, nil
}
