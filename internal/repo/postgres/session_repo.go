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

var ErrSessionNotFound = errors.New("session not found")

const sessionColumns = `user_id, state, COALESCE(partner_id, 0), COALESCE(chat_id, 0),
	search_gender, search_language, orig_search_gender, orig_search_language,
	searching_msg_id, pinned_msg_id, chat_started_at`

type SessionRepo struct {
	pool *pgxpool.Pool
}

// CandidateRecord joins a waiting session with its profile, the unit the
// matching pass operates on.
type CandidateRecord struct {
	Profile model.Profile
	Session model.Session
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func (r *SessionRepo) Get(ctx context.Context, userID int64) (model.Session, error) {
	if r.pool == nil {
		return model.Session{}, fmt.Errorf("postgres pool is nil")
	}

	row := r.pool.QueryRow(ctx, `
SELECT `+sessionColumns+`
FROM sessions
WHERE user_id = $1`, userID)

	return scanSession(row)
}

// GetTx loads a session with a row lock, used inside pair transitions so both
// sides are read and written as a unit.
func (r *SessionRepo) GetTx(ctx context.Context, tx pgx.Tx, userID int64) (model.Session, error) {
	row := tx.QueryRow(ctx, `
SELECT `+sessionColumns+`
FROM sessions
WHERE user_id = $1
FOR UPDATE`, userID)

	return scanSession(row)
}

func (r *SessionRepo) SetState(ctx context.Context, userID int64, state enums.ChatState) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE sessions SET state = $2 WHERE user_id = $1`, userID, string(state))
	if err != nil {
		return fmt.Errorf("set session state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// MarkSearching flips a client into the waiting pool and records the id of
// the "searching" prompt so it can be removed or edited later.
func (r *SessionRepo) MarkSearching(ctx context.Context, userID, searchingMsgID int64) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE sessions SET state = 'waiting', searching_msg_id = $2 WHERE user_id = $1`,
		userID, searchingMsgID)
	if err != nil {
		return fmt.Errorf("mark searching: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}

	return nil
}

func (r *SessionRepo) ClearSearching(ctx context.Context, userID int64) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	if _, err := r.pool.Exec(ctx, `
UPDATE sessions SET state = 'idle', searching_msg_id = 0 WHERE user_id = $1 AND state = 'waiting'`,
		userID); err != nil {
		return fmt.Errorf("clear searching: %w", err)
	}

	return nil
}

func (r *SessionRepo) SetPinnedMsg(ctx context.Context, userID, msgID int64) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	if _, err := r.pool.Exec(ctx, `
UPDATE sessions SET pinned_msg_id = $2 WHERE user_id = $1`, userID, msgID); err != nil {
		return fmt.Errorf("set pinned msg: %w", err)
	}

	return nil
}

// UpdatePrefs stores the active search filters; when resetOrig is true the
// originals (restored after a chat ends) are overwritten too.
func (r *SessionRepo) UpdatePrefs(ctx context.Context, userID int64, prefs model.SearchPrefs, resetOrig bool) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	var err error
	if resetOrig {
		_, err = r.pool.Exec(ctx, `
UPDATE sessions
SET search_gender = $2, search_language = $3,
    orig_search_gender = $2, orig_search_language = $3
WHERE user_id = $1`,
			userID, string(prefs.GenderFilter()), prefs.LanguageFilter())
	} else {
		_, err = r.pool.Exec(ctx, `
UPDATE sessions
SET search_gender = $2, search_language = $3
WHERE user_id = $1`,
			userID, string(prefs.GenderFilter()), prefs.LanguageFilter())
	}
	if err != nil {
		return fmt.Errorf("update search prefs: %w", err)
	}

	return nil
}

// BeginChatTx moves one side of a pair into in_chat. Both sides of the pair
// must be updated in the same transaction.
func (r *SessionRepo) BeginChatTx(ctx context.Context, tx pgx.Tx, userID, partnerID, chatID int64, startedAt time.Time) error {
	tag, err := tx.Exec(ctx, `
UPDATE sessions
SET state = 'in_chat', partner_id = $2, chat_id = $3, chat_started_at = $4,
    searching_msg_id = 0
WHERE user_id = $1`,
		userID, partnerID, chatID, startedAt)
	if err != nil {
		return fmt.Errorf("begin chat for %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// ResetTx returns one side of a pair to idle, clearing every chat field.
func (r *SessionRepo) ResetTx(ctx context.Context, tx pgx.Tx, userID int64) error {
	tag, err := tx.Exec(ctx, `
UPDATE sessions
SET state = 'idle', partner_id = NULL, chat_id = NULL,
    chat_started_at = NULL, pinned_msg_id = 0
WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("reset session for %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// WaitingPool snapshots every client currently in the waiting state together
// with its profile. The pool has no storage of its own.
func (r *SessionRepo) WaitingPool(ctx context.Context) ([]CandidateRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
SELECT u.user_id, u.display_name, u.gender, u.age, u.languages, u.intent,
       u.style_tags, u.is_premium, u.show_active, u.created_at, u.updated_at,
       s.state, s.search_gender, s.search_language,
       s.orig_search_gender, s.orig_search_language, s.searching_msg_id
FROM sessions s
JOIN users u ON u.user_id = s.user_id
WHERE s.state = 'waiting'
ORDER BY s.searching_msg_id`)
	if err != nil {
		return nil, fmt.Errorf("query waiting pool: %w", err)
	}
	defer rows.Close()

	var pool []CandidateRecord
	for rows.Next() {
		var (
			rec          CandidateRecord
			gender       string
			intent       string
			state        string
			searchGender string
			origGender   string
		)
		err := rows.Scan(&rec.Profile.UserID, &rec.Profile.DisplayName, &gender,
			&rec.Profile.Age, &rec.Profile.Languages, &intent, &rec.Profile.StyleTags,
			&rec.Profile.IsPremium, &rec.Profile.ShowActive, &rec.Profile.CreatedAt,
			&rec.Profile.UpdatedAt, &state, &searchGender, &rec.Session.Prefs.Language,
			&origGender, &rec.Session.OrigPrefs.Language, &rec.Session.SearchingMsgID)
		if err != nil {
			return nil, fmt.Errorf("scan pool candidate: %w", err)
		}

		rec.Profile.Gender = enums.ParseGender(gender)
		rec.Profile.Intent = enums.ParseIntent(intent)
		rec.Session.UserID = rec.Profile.UserID
		rec.Session.State = enums.ParseChatState(state)
		rec.Session.Prefs.Gender = enums.ParseGender(searchGender)
		rec.Session.OrigPrefs.Gender = enums.ParseGender(origGender)
		pool = append(pool, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate waiting pool: %w", err)
	}

	return pool, nil
}

func (r *SessionRepo) CountByState(ctx context.Context, state enums.ChatState) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	var count int64
	err := r.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM sessions WHERE state = $1`, string(state)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sessions by state: %w", err)
	}

	return count, nil
}

func scanSession(row pgx.Row) (model.Session, error) {
	var (
		s            model.Session
		state        string
		searchGender string
		origGender   string
	)
	err := row.Scan(&s.UserID, &state, &s.PartnerID, &s.ChatID,
		&searchGender, &s.Prefs.Language, &origGender, &s.OrigPrefs.Language,
		&s.SearchingMsgID, &s.PinnedMsgID, &s.ChatStartedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Session{}, ErrSessionNotFound
		}
		return model.Session{}, fmt.Errorf("scan session: %w", err)
	}

	s.State = enums.ParseChatState(state)
	s.Prefs.Gender = enums.ParseGender(searchGender)
	s.OrigPrefs.Gender = enums.ParseGender(origGender)
	return s, nil
}
