package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkarpachev/emberchat/backend/internal/domain/enums"
	"github.com/nkarpachev/emberchat/backend/internal/domain/model"
)

var ErrChatNotFound = errors.New("chat session not found")

const chatColumns = `chat_id, user1_id, user2_id, started_at, ended_at,
	user1_wants_favorite, user2_wants_favorite, user1_feedback, user2_feedback`

type ChatRepo struct {
	pool *pgxpool.Pool
}

func NewChatRepo(pool *pgxpool.Pool) *ChatRepo {
	return &ChatRepo{pool: pool}
}

// CreateTx opens the history record for a new pairing and returns its id.
func (r *ChatRepo) CreateTx(ctx context.Context, tx pgx.Tx, user1ID, user2ID int64, startedAt time.Time) (int64, error) {
	var chatID int64
	err := tx.QueryRow(ctx, `
INSERT INTO chat_history (user1_id, user2_id, started_at)
VALUES ($1, $2, $3)
RETURNING chat_id`, user1ID, user2ID, startedAt).Scan(&chatID)
	if err != nil {
		return 0, fmt.Errorf("create chat history: %w", err)
	}

	return chatID, nil
}

func (r *ChatRepo) CloseTx(ctx context.Context, tx pgx.Tx, chatID int64, endedAt time.Time) error {
	tag, err := tx.Exec(ctx, `
UPDATE chat_history SET ended_at = $2 WHERE chat_id = $1 AND ended_at IS NULL`,
		chatID, endedAt)
	if err != nil {
		return fmt.Errorf("close chat history: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChatNotFound
	}

	return nil
}

func (r *ChatRepo) Get(ctx context.Context, chatID int64) (model.ChatSession, error) {
	if r.pool == nil {
		return model.ChatSession{}, fmt.Errorf("postgres pool is nil")
	}

	row := r.pool.QueryRow(ctx, `
SELECT `+chatColumns+`
FROM chat_history
WHERE chat_id = $1`, chatID)

	return scanChat(row)
}

// SetFavoriteTx flags one participant's wants-favorite bit and returns the
// updated record so the caller can observe both flags atomically.
func (r *ChatRepo) SetFavoriteTx(ctx context.Context, tx pgx.Tx, chatID, userID int64) (model.ChatSession, error) {
	row := tx.QueryRow(ctx, `
UPDATE chat_history
SET user1_wants_favorite = user1_wants_favorite OR (user1_id = $2),
    user2_wants_favorite = user2_wants_favorite OR (user2_id = $2)
WHERE chat_id = $1 AND (user1_id = $2 OR user2_id = $2)
RETURNING `+chatColumns, chatID, userID)

	return scanChat(row)
}

func (r *ChatRepo) SetFeedback(ctx context.Context, chatID, userID int64, tag enums.FeedbackTag) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	res, err := r.pool.Exec(ctx, `
UPDATE chat_history
SET user1_feedback = CASE WHEN user1_id = $2 THEN $3 ELSE user1_feedback END,
    user2_feedback = CASE WHEN user2_id = $2 THEN $3 ELSE user2_feedback END
WHERE chat_id = $1 AND (user1_id = $2 OR user2_id = $2)`,
		chatID, userID, string(tag))
	if err != nil {
		return fmt.Errorf("set chat feedback: %w", err)
	}
	if res.RowsAffected() == 0 {
		return ErrChatNotFound
	}

	return nil
}

func (r *ChatRepo) CountOpen(ctx context.Context) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	var count int64
	err := r.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM chat_history WHERE ended_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count open chats: %w", err)
	}

	return count, nil
}

// CloseDangling stamps an end time on open history rows whose participants
// are no longer in that chat. Crash hygiene for the cleanup job.
func (r *ChatRepo) CloseDangling(ctx context.Context, olderThan time.Time) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE chat_history ch
SET ended_at = now()
WHERE ch.ended_at IS NULL
  AND ch.started_at < $1
  AND NOT EXISTS (
    SELECT 1 FROM sessions s
    WHERE s.chat_id = ch.chat_id AND s.state = 'in_chat'
  )`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("close dangling chats: %w", err)
	}

	return tag.RowsAffected(), nil
}

func scanChat(row pgx.Row) (model.ChatSession, error) {
	var (
		c         model.ChatSession
		feedback1 string
		feedback2 string
	)
	err := row.Scan(&c.ChatID, &c.User1ID, &c.User2ID, &c.StartedAt, &c.EndedAt,
		&c.User1Favorite, &c.User2Favorite, &feedback1, &feedback2)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ChatSession{}, ErrChatNotFound
		}
		return model.ChatSession{}, fmt.Errorf("scan chat session: %w", err)
	}

	c.User1Feedback = enums.FeedbackTag(feedback1)
	c.User2Feedback = enums.FeedbackTag(feedback2)
	return c, nil
}
