package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dreamforge/dreamforge/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) Log(ctx context.Context, profileID, model, prompt string) error {
	const query = `
INSERT INTO generation_logs (profile_id, model, prompt)
VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, profileID, model, prompt); err != nil {
		return fmt.Errorf("insert generation log: %w", err)
	}
	return nil
}

func (r *GenerationRepository) CountForDay(ctx context.Context, profileID string, day time.Time) (int, error) {
	start, end := dayBounds(day)
	const query = `
SELECT COUNT(*) FROM generation_logs
WHERE profile_id = ? AND created_at >= ? AND created_at < ?`
	row := r.db.QueryRowContext(ctx, query, profileID, start, end)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count daily generations: %w", err)
	}
	return count, nil
}

// ListForDay returns the day's generation records, most recent first.
func (r *GenerationRepository) ListForDay(ctx context.Context, profileID string, day time.Time) ([]models.GenerationLog, error) {
	start, end := dayBounds(day)
	const query = `
SELECT id, profile_id, model, prompt, created_at FROM generation_logs
WHERE profile_id = ? AND created_at >= ? AND created_at < ?
ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, profileID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list daily generations: %w", err)
	}
	defer rows.Close()

	var logs []models.GenerationLog
	for rows.Next() {
		var l models.GenerationLog
		if err := rows.Scan(&l.ID, &l.ProfileID, &l.Model, &l.Prompt, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generation log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func dayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return start, start.Add(24 * time.Hour)
}
