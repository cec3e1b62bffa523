package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkarpachev/emberchat/backend/internal/domain/enums"
	"github.com/nkarpachev/emberchat/backend/internal/domain/model"
)

var ErrProfileNotFound = errors.New("profile not found")

const profileColumns = `user_id, display_name, gender, age, languages, intent, style_tags, is_premium, show_active, created_at, updated_at`

type ProfileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

// Ensure creates the default anonymous profile and its session row on first
// contact. Existing rows are left untouched.
func (r *ProfileRepo) Ensure(ctx context.Context, userID int64) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return fmt.Errorf("invalid user_id")
	}

	return WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(txCtx, `
INSERT INTO users (user_id) VALUES ($1)
ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return fmt.Errorf("ensure user row: %w", err)
		}
		if _, err := tx.Exec(txCtx, `
INSERT INTO sessions (user_id) VALUES ($1)
ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return fmt.Errorf("ensure session row: %w", err)
		}
		return nil
	})
}

func (r *ProfileRepo) Get(ctx context.Context, userID int64) (model.Profile, error) {
	if r.pool == nil {
		return model.Profile{}, fmt.Errorf("postgres pool is nil")
	}

	row := r.pool.QueryRow(ctx, `
SELECT `+profileColumns+`
FROM users
WHERE user_id = $1`, userID)

	return scanProfile(row)
}

func (r *ProfileRepo) Update(ctx context.Context, p model.Profile) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE users
SET display_name = $2, gender = $3, age = $4, languages = $5,
    intent = $6, style_tags = $7, updated_at = now()
WHERE user_id = $1`,
		p.UserID, p.DisplayName, string(p.Gender), p.Age, p.Languages,
		string(p.Intent), p.StyleTags)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}

	return nil
}

func (r *ProfileRepo) SetIntent(ctx context.Context, userID int64, intent enums.Intent) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE users SET intent = $2, updated_at = now() WHERE user_id = $1`,
		userID, string(intent))
	if err != nil {
		return fmt.Errorf("set intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}

	return nil
}

func (r *ProfileRepo) SetPremium(ctx context.Context, userID int64, premium bool) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE users SET is_premium = $2, updated_at = now() WHERE user_id = $1`,
		userID, premium)
	if err != nil {
		return fmt.Errorf("set premium: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}

	return nil
}

func (r *ProfileRepo) SetShowActive(ctx context.Context, userID int64, show bool) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE users SET show_active = $2, updated_at = now() WHERE user_id = $1`,
		userID, show)
	if err != nil {
		return fmt.Errorf("set show_active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}

	return nil
}

// Anonymize blanks a profile back to the anonymous defaults. Rows are never
// deleted, so history and connections keep resolving.
func (r *ProfileRepo) Anonymize(ctx context.Context, userID int64) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE users
SET display_name = 'Stranger', gender = 'any', age = 0, languages = '{}',
    intent = 'open', style_tags = '{}', updated_at = now()
WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("anonymize profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}

	return nil
}

func scanProfile(row pgx.Row) (model.Profile, error) {
	var (
		p      model.Profile
		gender string
		intent string
	)
	err := row.Scan(&p.UserID, &p.DisplayName, &gender, &p.Age, &p.Languages,
		&intent, &p.StyleTags, &p.IsPremium, &p.ShowActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Profile{}, ErrProfileNotFound
		}
		return model.Profile{}, fmt.Errorf("scan profile: %w", err)
	}

	p.Gender = enums.ParseGender(gender)
	p.Intent = enums.ParseIntent(intent)
	return p, nil
}
