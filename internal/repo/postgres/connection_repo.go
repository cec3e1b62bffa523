package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkarpachev/emberchat/backend/internal/domain/model"
)

var ErrConnectionNotFound = errors.New("connection not found")

type ConnectionRepo struct {
	pool *pgxpool.Pool
}

func NewConnectionRepo(pool *pgxpool.Pool) *ConnectionRepo {
	return &ConnectionRepo{pool: pool}
}

// Create persists a connection for the unordered pair. Duplicate attempts are
// no-ops; the bool reports whether a new row was written.
func (r *ConnectionRepo) Create(ctx context.Context, user1ID, user2ID int64, snap1, snap2 model.Snapshot) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("postgres pool is nil")
	}
	if user1ID == user2ID || user1ID <= 0 || user2ID <= 0 {
		return false, fmt.Errorf("invalid connection pair %d/%d", user1ID, user2ID)
	}

	loID, hiID, loSnap, hiSnap := normalizePair(user1ID, user2ID, snap1, snap2)

	loJSON, err := json.Marshal(loSnap)
	if err != nil {
		return false, fmt.Errorf("marshal snapshot: %w", err)
	}
	hiJSON, err := json.Marshal(hiSnap)
	if err != nil {
		return false, fmt.Errorf("marshal snapshot: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
INSERT INTO connections (user1_id, user2_id, user1_snapshot, user2_snapshot)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user1_id, user2_id) DO NOTHING`,
		loID, hiID, loJSON, hiJSON)
	if err != nil {
		return false, fmt.Errorf("create connection: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *ConnectionRepo) GetByPair(ctx context.Context, userID, peerID int64) (model.Connection, error) {
	if r.pool == nil {
		return model.Connection{}, fmt.Errorf("postgres pool is nil")
	}

	lo, hi := userID, peerID
	if lo > hi {
		lo, hi = hi, lo
	}

	row := r.pool.QueryRow(ctx, `
SELECT connection_id, user1_id, user2_id, user1_snapshot, user2_snapshot, created_at
FROM connections
WHERE user1_id = $1 AND user2_id = $2`, lo, hi)

	return scanConnection(row)
}

func (r *ConnectionRepo) ListForUser(ctx context.Context, userID int64) ([]model.Connection, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
SELECT connection_id, user1_id, user2_id, user1_snapshot, user2_snapshot, created_at
FROM connections
WHERE user1_id = $1 OR user2_id = $1
ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var conns []model.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}

	return conns, nil
}

func (r *ConnectionRepo) Delete(ctx context.Context, userID, peerID int64) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("postgres pool is nil")
	}

	lo, hi := userID, peerID
	if lo > hi {
		lo, hi = hi, lo
	}

	tag, err := r.pool.Exec(ctx, `
DELETE FROM connections WHERE user1_id = $1 AND user2_id = $2`, lo, hi)
	if err != nil {
		return false, fmt.Errorf("delete connection: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *ConnectionRepo) Count(ctx context.Context) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM connections`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count connections: %w", err)
	}

	return count, nil
}

func normalizePair(a, b int64, snapA, snapB model.Snapshot) (int64, int64, model.Snapshot, model.Snapshot) {
	if a < b {
		return a, b, snapA, snapB
	}
	return b, a, snapB, snapA
}

func scanConnection(row pgx.Row) (model.Connection, error) {
	var (
		c       model.Connection
		snap1JS []byte
		snap2JS []byte
	)
	err := row.Scan(&c.ID, &c.User1ID, &c.User2ID, &snap1JS, &snap2JS, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Connection{}, ErrConnectionNotFound
		}
		return model.Connection{}, fmt.Errorf("scan connection: %w", err)
	}

	if err := json.Unmarshal(snap1JS, &c.User1Snapshot); err != nil {
		return model.Connection{}, fmt.Errorf("unmarshal user1 snapshot: %w", err)
	}
	if err := json.Unmarshal(snap2JS, &c.User2Snapshot); err != nil {
		return model.Connection{}, fmt.Errorf("unmarshal user2 snapshot: %w", err)
	}

	return c, nil
}
