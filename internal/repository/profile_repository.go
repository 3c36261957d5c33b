package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dreamforge/dreamforge/internal/models"
)

type ProfileRepository struct {
	db *sql.DB
}

func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

const profileColumns = `id, email, password_hash, credits, is_pro, COALESCE(role, ''), last_credit_reward_at, created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }) (*models.Profile, error) {
	var p models.Profile
	var isPro int
	var rewardAt sql.NullTime
	if err := row.Scan(&p.ID, &p.Email, &p.PasswordHash, &p.Credits, &isPro, &p.Role, &rewardAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.IsPro = isPro != 0
	if rewardAt.Valid {
		t := rewardAt.Time
		p.LastCreditRewardAt = &t
	}
	return &p, nil
}

func (r *ProfileRepository) FindByID(ctx context.Context, id string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = ?`
	p, err := scanProfile(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	return p, nil
}

func (r *ProfileRepository) FindByEmail(ctx context.Context, email string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE email = ?`
	p, err := scanProfile(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	return p, nil
}

func (r *ProfileRepository) Create(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
	const query = `
INSERT INTO profiles (id, email, password_hash, credits, is_pro, role)
VALUES (?, ?, ?, ?, ?, NULLIF(?, ''))`
	isPro := 0
	if profile.IsPro {
		isPro = 1
	}
	if _, err := r.db.ExecContext(ctx, query, profile.ID, profile.Email, profile.PasswordHash, profile.Credits, isPro, profile.Role); err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	return profile, nil
}

// Role returns the role column for the profile, or "" when the row does not
// exist yet.
func (r *ProfileRepository) Role(ctx context.Context, id string) (string, error) {
	const query = `SELECT COALESCE(role, '') FROM profiles WHERE id = ?`
	var role string
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("scan role: %w", err)
	}
	return role, nil
}

// SetCredits writes an absolute credit value.
func (r *ProfileRepository) SetCredits(ctx context.Context, id string, credits int) error {
	const query = `UPDATE profiles SET credits = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, credits, id); err != nil {
		return fmt.Errorf("set credits: %w", err)
	}
	return nil
}

func (r *ProfileRepository) SetPro(ctx context.Context, id string, isPro bool) error {
	value := 0
	if isPro {
		value = 1
	}
	const query = `UPDATE profiles SET is_pro = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, value, id); err != nil {
		return fmt.Errorf("set pro: %w", err)
	}
	return nil
}

// ApplyReward adds the reward to the balance and stamps the reward day in a
// single write.
func (r *ProfileRepository) ApplyReward(ctx context.Context, id string, reward int, at time.Time) error {
	const query = `UPDATE profiles SET credits = credits + ?, last_credit_reward_at = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, reward, at, id); err != nil {
		return fmt.Errorf("apply reward: %w", err)
	}
	return nil
}

// ListWithEmail returns every profile with a non-empty email, ordered by
// email ascending.
func (r *ProfileRepository) ListWithEmail(ctx context.Context) ([]models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE email <> '' ORDER BY email ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}
