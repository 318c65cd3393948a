package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/parkbeat/relay/internal/domain/model"
)

// ListImages returns every image attached to a project.
func (s *Store) ListImages(ctx context.Context, projectID string) ([]model.ProjectImage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, url, mime_type, created_at
		FROM project_images WHERE project_id = $1 ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list images %s: %w", projectID, err)
	}
	defer rows.Close()

	var out []model.ProjectImage
	for rows.Next() {
		var img model.ProjectImage
		if err := rows.Scan(&img.ID, &img.ProjectID, &img.URL, &img.MimeType, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan image: %w", err)
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

// ListSuggestions returns every suggestion attached to a project.
func (s *Store) ListSuggestions(ctx context.Context, projectID string) ([]model.ProjectSuggestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, text, created_at
		FROM project_suggestions WHERE project_id = $1 ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list suggestions %s: %w", projectID, err)
	}
	defer rows.Close()

	var out []model.ProjectSuggestion
	for rows.Next() {
		var sgg model.ProjectSuggestion
		if err := rows.Scan(&sgg.ID, &sgg.ProjectID, &sgg.Text, &sgg.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan suggestion: %w", err)
		}
		out = append(out, sgg)
	}
	return out, rows.Err()
}

// ListContributions returns every contribution attached to a project,
// newest first.
func (s *Store) ListContributions(ctx context.Context, projectID string) ([]model.ProjectContribution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, user_id, kind, amount_cents, message, created_at
		FROM project_contributions WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list contributions %s: %w", projectID, err)
	}
	defer rows.Close()

	var out []model.ProjectContribution
	for rows.Next() {
		var c model.ProjectContribution
		var amount sql.NullInt64
		var message sql.NullString
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.UserID, &c.Kind, &amount, &message, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan contribution: %w", err)
		}
		if amount.Valid {
			c.AmountCents = &amount.Int64
		}
		c.Message = message.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertContributionIfAbsent dedups by id (spec §4.5, §8 property 6):
// if a row with this id already exists, it is left unchanged and inserted
// is false.
func (s *Store) InsertContributionIfAbsent(ctx context.Context, c model.ProjectContribution) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO project_contributions (id, project_id, user_id, kind, amount_cents, message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6, now())
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.ProjectID, c.UserID, c.Kind, c.AmountCents, nullableString(c.Message))
	if err != nil {
		return false, fmt.Errorf("postgres: insert contribution %s: %w", c.ID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
