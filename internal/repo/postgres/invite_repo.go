package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkarpachev/emberchat/backend/internal/domain/model"
)

var ErrInviteNotFound = errors.New("invite not found")

type InviteRepo struct {
	pool *pgxpool.Pool
}

func NewInviteRepo(pool *pgxpool.Pool) *InviteRepo {
	return &InviteRepo{pool: pool}
}

func (r *InviteRepo) Create(ctx context.Context, token string, hostUserID int64, createdAt time.Time) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	if _, err := r.pool.Exec(ctx, `
INSERT INTO invites (token, host_user_id, created_at)
VALUES ($1, $2, $3)`, token, hostUserID, createdAt); err != nil {
		return fmt.Errorf("create invite: %w", err)
	}

	return nil
}

func (r *InviteRepo) Get(ctx context.Context, token string) (model.Invite, error) {
	if r.pool == nil {
		return model.Invite{}, fmt.Errorf("postgres pool is nil")
	}

	var inv model.Invite
	err := r.pool.QueryRow(ctx, `
SELECT token, host_user_id, created_at
FROM invites
WHERE token = $1`, token).Scan(&inv.Token, &inv.HostUserID, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Invite{}, ErrInviteNotFound
		}
		return model.Invite{}, fmt.Errorf("get invite: %w", err)
	}

	return inv, nil
}

// Delete consumes a token. The bool reports whether this caller actually
// removed it, which makes double redemption detectable.
func (r *InviteRepo) Delete(ctx context.Context, token string) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `DELETE FROM invites WHERE token = $1`, token)
	if err != nil {
		return false, fmt.Errorf("delete invite: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *InviteRepo) DeleteByHost(ctx context.Context, token string, hostUserID int64) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
DELETE FROM invites WHERE token = $1 AND host_user_id = $2`, token, hostUserID)
	if err != nil {
		return false, fmt.Errorf("delete invite by host: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *InviteRepo) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `DELETE FROM invites WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete expired invites: %w", err)
	}

	return tag.RowsAffected(), nil
}
