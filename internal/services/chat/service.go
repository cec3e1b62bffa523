package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/nkarpachev/emberchat/backend/internal/domain/enums"
	"github.com/nkarpachev/emberchat/backend/internal/domain/model"
	"github.com/nkarpachev/emberchat/backend/internal/infra/telegram"
	pgrepo "github.com/nkarpachev/emberchat/backend/internal/repo/postgres"
)

var ErrNotInChat = errors.New("client is not in a chat")

type TxRunner interface {
	WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
}

type SessionStore interface {
	Get(ctx context.Context, userID int64) (model.Session, error)
	GetTx(ctx context.Context, tx pgx.Tx, userID int64) (model.Session, error)
	BeginChatTx(ctx context.Context, tx pgx.Tx, userID, partnerID, chatID int64, startedAt time.Time) error
	ResetTx(ctx context.Context, tx pgx.Tx, userID int64) error
	SetPinnedMsg(ctx context.Context, userID, msgID int64) error
	UpdatePrefs(ctx context.Context, userID int64, prefs model.SearchPrefs, resetOrig bool) error
}

type ChatStore interface {
	Get(ctx context.Context, chatID int64) (model.ChatSession, error)
	CreateTx(ctx context.Context, tx pgx.Tx, user1ID, user2ID int64, startedAt time.Time) (int64, error)
	CloseTx(ctx context.Context, tx pgx.Tx, chatID int64, endedAt time.Time) error
	SetFeedback(ctx context.Context, chatID, userID int64, tag enums.FeedbackTag) error
}

type ConnectionStore interface {
	GetByPair(ctx context.Context, userID, peerID int64) (model.Connection, error)
}

type ProfileStore interface {
	Get(ctx context.Context, userID int64) (model.Profile, error)
}

type RelayStore interface {
	Map(ctx context.Context, chatID, senderID, senderMsgID, recipientID, recipientMsgID int64) error
	Resolve(ctx context.Context, chatID, replierID, repliedToMsgID int64) (int64, error)
	Purge(ctx context.Context, chatID int64) error
}

type Messenger interface {
	Deliver(ctx context.Context, toUserID, fromUserID, messageID, replyToMsgID int64) (int64, error)
	Notify(ctx context.Context, userID int64, text string) (int64, error)
	NotifyClosing(ctx context.Context, userID int64, text string) (int64, error)
	SendChatControls(ctx context.Context, userID int64, text string) (int64, error)
	PresentMenu(ctx context.Context, userID int64, text string, options []telegram.MenuOption) (int64, error)
	DeleteMessage(ctx context.Context, userID, messageID int64) error
	Pin(ctx context.Context, userID, messageID int64) error
	Unpin(ctx context.Context, userID, messageID int64) error
}

type Scheduler interface {
	Schedule(name string, delay time.Duration, fn func())
	Cancel(name string)
}

// Pool is the slice of the matchmaking service this one needs: putting a
// freed client back into the waiting pool.
type Pool interface {
	Enqueue(ctx context.Context, userID int64) error
	CancelFallback(userID int64)
}

type Dependencies struct {
	Logger      *zap.Logger
	Tx          TxRunner
	Sessions    SessionStore
	Chats       ChatStore
	Connections ConnectionStore
	Profiles    ProfileStore
	Relay       RelayStore
	Messenger   Messenger
	Timers      Scheduler
	Pool        Pool

	FavoritesDelay time.Duration
	FeedbackDelay  time.Duration
	ExitDelay      time.Duration

	Now func() time.Time
}

// Service drives conversations end to end: promoting a matched pair into a
// live chat, relaying messages between the two sides, and tearing the pair
// back down through the exit handshake.
type Service struct {
	log         *zap.Logger
	tx          TxRunner
	sessions    SessionStore
	chats       ChatStore
	connections ConnectionStore
	profiles    ProfileStore
	relay       RelayStore
	messenger   Messenger
	timers      Scheduler
	pool        Pool

	favoritesDelay time.Duration
	feedbackDelay  time.Duration
	exitDelay      time.Duration

	now func() time.Time
}

func New(deps Dependencies) (*Service, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("tx runner is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if deps.Chats == nil {
		return nil, fmt.Errorf("chat store is required")
	}
	if deps.Connections == nil {
		return nil, fmt.Errorf("connection store is required")
	}
	if deps.Profiles == nil {
		return nil, fmt.Errorf("profile store is required")
	}
	if deps.Relay == nil {
		return nil, fmt.Errorf("relay store is required")
	}
	if deps.Messenger == nil {
		return nil, fmt.Errorf("messenger is required")
	}
	if deps.Timers == nil {
		return nil, fmt.Errorf("timer scheduler is required")
	}
	if deps.Pool == nil {
		return nil, fmt.Errorf("waiting pool is required")
	}
	if deps.FavoritesDelay <= 0 {
		deps.FavoritesDelay = 30 * time.Second
	}
	if deps.FeedbackDelay <= 0 {
		deps.FeedbackDelay = 2 * time.Second
	}
	if deps.ExitDelay <= 0 {
		deps.ExitDelay = 10 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Service{
		log:            deps.Logger,
		tx:             deps.Tx,
		sessions:       deps.Sessions,
		chats:          deps.Chats,
		connections:    deps.Connections,
		profiles:       deps.Profiles,
		relay:          deps.Relay,
		messenger:      deps.Messenger,
		timers:         deps.Timers,
		pool:           deps.Pool,
		favoritesDelay: deps.FavoritesDelay,
		feedbackDelay:  deps.FeedbackDelay,
		exitDelay:      deps.ExitDelay,
		now:            deps.Now,
	}, nil
}

// Start promotes two clients into a live conversation. The history row and
// both session transitions commit in one transaction; presentation work runs
// after commit and is best effort.
func (s *Service) Start(ctx context.Context, userID, partnerID int64) error {
	return s.start(ctx, userID, partnerID, false)
}

// StartReconnect opens a conversation between two remembered favorites. The
// partner cards show the stored snapshots, not the live profiles.
func (s *Service) StartReconnect(ctx context.Context, userID, partnerID int64) error {
	return s.start(ctx, userID, partnerID, true)
}

func (s *Service) start(ctx context.Context, userID, partnerID int64, reconnect bool) error {
	if userID == partnerID || userID <= 0 || partnerID <= 0 {
		return fmt.Errorf("invalid pair %d/%d", userID, partnerID)
	}

	startedAt := s.now()

	var (
		chatID int64
		sessA  model.Session
		sessB  model.Session
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		sessA, err = s.sessions.GetTx(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("load session %d: %w", userID, err)
		}
		sessB, err = s.sessions.GetTx(ctx, tx, partnerID)
		if err != nil {
			return fmt.Errorf("load session %d: %w", partnerID, err)
		}

		if sessA.State == enums.StateInChat || sessB.State == enums.StateInChat {
			return fmt.Errorf("pair %d/%d: one side is already in a chat", userID, partnerID)
		}

		chatID, err = s.chats.CreateTx(ctx, tx, userID, partnerID, startedAt)
		if err != nil {
			return err
		}

		if err := s.sessions.BeginChatTx(ctx, tx, userID, partnerID, chatID, startedAt); err != nil {
			return err
		}
		return s.sessions.BeginChatTx(ctx, tx, partnerID, userID, chatID, startedAt)
	})
	if err != nil {
		return err
	}

	s.log.Info("chat started",
		zap.Int64("chat_id", chatID),
		zap.Int64("user_id", userID),
		zap.Int64("partner_id", partnerID),
		zap.Bool("reconnect", reconnect))

	s.pool.CancelFallback(userID)
	s.pool.CancelFallback(partnerID)

	for _, sess := range []model.Session{sessA, sessB} {
		if sess.SearchingMsgID != 0 {
			if err := s.messenger.DeleteMessage(ctx, sess.UserID, sess.SearchingMsgID); err != nil {
				s.log.Debug("delete searching prompt", zap.Int64("user_id", sess.UserID), zap.Error(err))
			}
		}
	}

	conn, connErr := s.connections.GetByPair(ctx, userID, partnerID)
	known := connErr == nil

	profA, errA := s.profiles.Get(ctx, userID)
	profB, errB := s.profiles.Get(ctx, partnerID)
	if errA != nil || errB != nil {
		s.log.Warn("load profiles for partner cards",
			zap.Int64("chat_id", chatID), zap.Error(errors.Join(errA, errB)))
	}

	s.introduce(ctx, userID, peerCard(profB, conn, userID, known, reconnect))
	s.introduce(ctx, partnerID, peerCard(profA, conn, partnerID, known, reconnect))

	if !known && (profA.IsPremium || profB.IsPremium) {
		s.armFavoritesPrompt(chatID)
	}

	return nil
}

func (s *Service) introduce(ctx context.Context, userID int64, card string) {
	if _, err := s.messenger.SendChatControls(ctx, userID, "💬 You're connected! Say hi."); err != nil {
		s.log.Warn("send chat controls", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	cardMsgID, err := s.messenger.Notify(ctx, userID, card)
	if err != nil {
		s.log.Warn("send partner card", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	if err := s.messenger.Pin(ctx, userID, cardMsgID); err != nil {
		s.log.Debug("pin partner card", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if err := s.sessions.SetPinnedMsg(ctx, userID, cardMsgID); err != nil {
		s.log.Warn("store pinned msg id", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// End closes the caller's conversation. Calling it while not in a chat is a
// no-op that reports a zero partner. Returns the freed partner id, the chat
// id, and how long the conversation lasted.
func (s *Service) End(ctx context.Context, userID int64) (int64, int64, time.Duration, error) {
	sess, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("load session: %w", err)
	}
	if sess.State != enums.StateInChat {
		return 0, 0, 0, nil
	}

	partnerID := sess.PartnerID
	chatID := sess.ChatID
	endedAt := s.now()

	var duration time.Duration
	if sess.ChatStartedAt != nil {
		duration = endedAt.Sub(*sess.ChatStartedAt)
	}

	partnerSess, partnerErr := s.sessions.Get(ctx, partnerID)
	if partnerErr != nil {
		s.log.Warn("load partner session at teardown",
			zap.Int64("partner_id", partnerID), zap.Error(partnerErr))
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.chats.CloseTx(ctx, tx, chatID, endedAt); err != nil &&
			!errors.Is(err, pgrepo.ErrChatNotFound) {
			return err
		}
		if err := s.sessions.ResetTx(ctx, tx, userID); err != nil {
			return err
		}
		return s.sessions.ResetTx(ctx, tx, partnerID)
	})
	if err != nil {
		return 0, 0, 0, fmt.Errorf("tear down chat %d: %w", chatID, err)
	}

	s.log.Info("chat ended",
		zap.Int64("chat_id", chatID),
		zap.Int64("user_id", userID),
		zap.Int64("partner_id", partnerID),
		zap.Duration("duration", duration))

	s.timers.Cancel(favoritesPromptTimer(chatID))

	if err := s.relay.Purge(ctx, chatID); err != nil {
		s.log.Warn("purge relay map", zap.Int64("chat_id", chatID), zap.Error(err))
	}

	if sess.PinnedMsgID != 0 {
		if err := s.messenger.Unpin(ctx, userID, sess.PinnedMsgID); err != nil {
			s.log.Debug("unpin partner card", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	if partnerErr == nil && partnerSess.PinnedMsgID != 0 {
		if err := s.messenger.Unpin(ctx, partnerID, partnerSess.PinnedMsgID); err != nil {
			s.log.Debug("unpin partner card", zap.Int64("user_id", partnerID), zap.Error(err))
		}
	}

	noticeID, err := s.messenger.NotifyClosing(ctx, partnerID, "👋 Your partner has ended the chat.")
	if err != nil {
		s.log.Debug("notify partner of chat end", zap.Int64("partner_id", partnerID), zap.Error(err))
	} else {
		s.scheduleDeletion(partnerID, noticeID, 10*time.Second)
	}

	s.armFeedbackPrompt(userID, chatID)
	s.armFeedbackPrompt(partnerID, chatID)

	return partnerID, chatID, duration, nil
}

// ExitMode is what the initiator pressed: Next searches again, Stop returns
// to the menu.
type ExitMode string

const (
	ExitNext ExitMode = "next"
	ExitStop ExitMode = "stop"
)

// ExitChat runs the Next/Stop handshake. The freed partner is restored and
// re-enqueued before anything happens for the initiator; the initiator's own
// path runs deferred, with a wait for non-premium clients.
func (s *Service) ExitChat(ctx context.Context, userID int64, mode ExitMode) error {
	prof, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	partnerID, _, _, err := s.End(ctx, userID)
	if err != nil {
		return err
	}
	if partnerID == 0 {
		return ErrNotInChat
	}

	if _, err := s.messenger.NotifyClosing(ctx, userID, "💬 Chat ended."); err != nil {
		s.log.Debug("confirm chat end", zap.Int64("user_id", userID), zap.Error(err))
	}

	// The partner never pays for the initiator's decision: restore their
	// original filters and put them straight back into the pool.
	s.requeuePartner(ctx, partnerID)

	go s.finishInitiator(context.WithoutCancel(ctx), userID, mode, prof.IsPremium)

	return nil
}

func (s *Service) requeuePartner(ctx context.Context, partnerID int64) {
	sess, err := s.sessions.Get(ctx, partnerID)
	if err != nil {
		s.log.Error("load freed partner session", zap.Int64("partner_id", partnerID), zap.Error(err))
		return
	}

	if err := s.sessions.UpdatePrefs(ctx, partnerID, sess.OrigPrefs, false); err != nil {
		s.log.Warn("restore partner prefs", zap.Int64("partner_id", partnerID), zap.Error(err))
	}

	if err := s.pool.Enqueue(ctx, partnerID); err != nil {
		s.log.Error("re-enqueue freed partner", zap.Int64("partner_id", partnerID), zap.Error(err))
	}
}

func (s *Service) finishInitiator(ctx context.Context, userID int64, mode ExitMode, premium bool) {
	ctx, cancel := context.WithTimeout(ctx, s.exitDelay+30*time.Second)
	defer cancel()

	if !premium {
		noticeID, err := s.messenger.Notify(ctx, userID, "⏳ Please wait a moment...")
		if err == nil {
			defer func() {
				_ = s.messenger.DeleteMessage(ctx, userID, noticeID)
			}()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.exitDelay):
		}
	}

	sess, err := s.sessions.Get(ctx, userID)
	if err != nil {
		s.log.Error("load initiator session", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if err := s.sessions.UpdatePrefs(ctx, userID, sess.OrigPrefs, false); err != nil {
		s.log.Warn("restore initiator prefs", zap.Int64("user_id", userID), zap.Error(err))
	}

	switch mode {
	case ExitNext:
		if err := s.pool.Enqueue(ctx, userID); err != nil {
			s.log.Error("re-enqueue initiator", zap.Int64("user_id", userID), zap.Error(err))
		}
	default:
		if _, err := s.messenger.Notify(ctx, userID, "You are back in the main menu. Press /start to search again."); err != nil {
			s.log.Debug("send menu notice", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
}

func (s *Service) scheduleDeletion(userID, messageID int64, delay time.Duration) {
	s.timers.Schedule(fmt.Sprintf("msgdel:%d:%d", userID, messageID), delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.messenger.DeleteMessage(ctx, userID, messageID)
	})
}

// peerCard renders the pinned introduction for one participant. known and
// reconnect select the remembered snapshot over the live profile.
func peerCard(live model.Profile, conn model.Connection, viewerID int64, known, reconnect bool) string {
	snap := live.Snapshot()
	title := "🎭 You've been matched with a stranger!"
	if reconnect {
		title = "🔁 Reconnected with a favorite!"
		if known {
			snap = conn.PeerSnapshot(viewerID)
		}
	}
	return title + "\n\n" + renderSnapshot(snap)
}

func renderSnapshot(snap model.Snapshot) string {
	name := snap.DisplayName
	if name == "" {
		name = "Stranger"
	}

	card := fmt.Sprintf("👤 %s", name)
	if snap.Age > 0 {
		card += fmt.Sprintf(", %d", snap.Age)
	}
	if snap.Gender != "" && snap.Gender != enums.GenderAny {
		card += fmt.Sprintf(" (%s)", snap.Gender)
	}
	if len(snap.Languages) > 0 {
		card += "\n🗣️ " + strings.Join(snap.Languages, ", ")
	}
	if snap.Intent.Specific() {
		card += fmt.Sprintf("\n🎯 Vibe: %s", snap.Intent)
	}
	if len(snap.StyleTags) > 0 {
		card += "\n✨ " + strings.Join(snap.StyleTags, ", ")
	}
	return card
}
