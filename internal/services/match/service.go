package match

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nkarpachev/emberchat/backend/internal/domain/enums"
	"github.com/nkarpachev/emberchat/backend/internal/domain/model"
	"github.com/nkarpachev/emberchat/backend/internal/infra/telegram"
	pgrepo "github.com/nkarpachev/emberchat/backend/internal/repo/postgres"
)

var (
	ErrBusy       = errors.New("client is already in a chat")
	ErrNotWaiting = errors.New("client is not waiting")
)

const (
	searchingText = "⏳ Searching for a partner... Please wait!"
	fallbackText  = "It's taking a while to find a perfect match. Here are some other options available:"

	cancelSearchLabel = "❌ Cancel search"
)

type SessionStore interface {
	Get(ctx context.Context, userID int64) (model.Session, error)
	MarkSearching(ctx context.Context, userID, searchingMsgID int64) error
	ClearSearching(ctx context.Context, userID int64) error
	UpdatePrefs(ctx context.Context, userID int64, prefs model.SearchPrefs, resetOrig bool) error
	WaitingPool(ctx context.Context) ([]pgrepo.CandidateRecord, error)
}

type ProfileStore interface {
	Get(ctx context.Context, userID int64) (model.Profile, error)
	SetIntent(ctx context.Context, userID int64, intent enums.Intent) error
}

type Messenger interface {
	PresentMenu(ctx context.Context, userID int64, text string, options []telegram.MenuOption) (int64, error)
	EditMenu(ctx context.Context, userID, messageID int64, text string, options []telegram.MenuOption) error
	DeleteMessage(ctx context.Context, userID, messageID int64) error
}

type Scheduler interface {
	Schedule(name string, delay time.Duration, fn func())
	Cancel(name string)
}

// Starter promotes a matched pair into a live conversation. It is attached
// after construction because the chat service depends on this one for
// re-enqueueing.
type Starter interface {
	Start(ctx context.Context, userID, partnerID int64) error
}

type Dependencies struct {
	Logger        *zap.Logger
	Sessions      SessionStore
	Profiles      ProfileStore
	Messenger     Messenger
	Timers        Scheduler
	FallbackDelay time.Duration
}

// Service owns the waiting pool: entering it, leaving it, the periodic-free
// matching pass over it, and the fallback escalation for stale searches.
type Service struct {
	log       *zap.Logger
	sessions  SessionStore
	profiles  ProfileStore
	messenger Messenger
	timers    Scheduler

	fallbackDelay time.Duration

	// passMu serializes matching passes so two concurrent triggers cannot
	// pair the same client twice.
	passMu  sync.Mutex
	starter Starter

	randIntN func(n int) int
}

func New(deps Dependencies) (*Service, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if deps.Profiles == nil {
		return nil, fmt.Errorf("profile store is required")
	}
	if deps.Messenger == nil {
		return nil, fmt.Errorf("messenger is required")
	}
	if deps.Timers == nil {
		return nil, fmt.Errorf("timer scheduler is required")
	}
	if deps.FallbackDelay <= 0 {
		deps.FallbackDelay = 30 * time.Second
	}

	return &Service{
		log:           deps.Logger,
		sessions:      deps.Sessions,
		profiles:      deps.Profiles,
		messenger:     deps.Messenger,
		timers:        deps.Timers,
		fallbackDelay: deps.FallbackDelay,
		randIntN:      rand.IntN,
	}, nil
}

// AttachStarter wires in the pair starter after both services exist.
func (s *Service) AttachStarter(starter Starter) {
	s.starter = starter
}

// Enqueue places a client into the waiting pool, arms the fallback timer when
// their criteria are restrictive, and runs a matching pass.
func (s *Service) Enqueue(ctx context.Context, userID int64) error {
	sess, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	// Re-entering from the waiting state is fine (fallback loosening does
	// it); only a live chat or a parked invite blocks a new search.
	if sess.State == enums.StateInChat || sess.State == enums.StateHosting {
		return ErrBusy
	}

	if sess.SearchingMsgID != 0 {
		if err := s.messenger.DeleteMessage(ctx, userID, sess.SearchingMsgID); err != nil {
			s.log.Debug("delete stale searching prompt", zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	msgID, err := s.messenger.PresentMenu(ctx, userID, searchingText, []telegram.MenuOption{
		{Label: cancelSearchLabel, Data: CancelSearchData},
	})
	if err != nil {
		return fmt.Errorf("send searching prompt: %w", err)
	}

	if err := s.sessions.MarkSearching(ctx, userID, msgID); err != nil {
		return fmt.Errorf("enter waiting pool: %w", err)
	}

	s.log.Info("client entered waiting pool", zap.Int64("user_id", userID))

	prof, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	s.timers.Cancel(fallbackTimer(userID))
	if (prof.IsPremium && !sess.Prefs.Default()) || prof.Intent.Specific() {
		s.armFallback(userID)
	}

	s.RunMatchingPass(ctx)
	return nil
}

// CancelWait removes a waiting client from the pool and tears down their
// searching prompt. Safe to call for clients who already left.
func (s *Service) CancelWait(ctx context.Context, userID int64) error {
	sess, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess.State != enums.StateWaiting {
		return ErrNotWaiting
	}

	s.timers.Cancel(fallbackTimer(userID))

	if err := s.sessions.ClearSearching(ctx, userID); err != nil {
		return fmt.Errorf("leave waiting pool: %w", err)
	}

	if sess.SearchingMsgID != 0 {
		if err := s.messenger.DeleteMessage(ctx, userID, sess.SearchingMsgID); err != nil {
			s.log.Debug("delete searching prompt", zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	s.log.Info("client cancelled search", zap.Int64("user_id", userID))
	return nil
}

// RunMatchingPass pairs as many waiting clients as possible. The pool is
// snapshotted once; the earliest waiting client is considered first and their
// partner is drawn uniformly from everyone they mutually match.
func (s *Service) RunMatchingPass(ctx context.Context) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	pool, err := s.sessions.WaitingPool(ctx)
	if err != nil {
		s.log.Error("load waiting pool", zap.Error(err))
		return
	}

	s.log.Debug("running matching pass", zap.Int("pool_size", len(pool)))
	if len(pool) < 2 {
		return
	}

	remaining := make([]pgrepo.CandidateRecord, len(pool))
	copy(remaining, pool)

	for len(remaining) >= 2 {
		searcher := remaining[0]
		remaining = remaining[1:]

		var eligible []int
		for i, candidate := range remaining {
			if MutualMatch(searcher, candidate) {
				eligible = append(eligible, i)
			}
		}
		if len(eligible) == 0 {
			continue
		}

		pick := eligible[s.randIntN(len(eligible))]
		partner := remaining[pick]
		remaining = append(remaining[:pick], remaining[pick+1:]...)

		s.log.Info("mutual match found",
			zap.Int64("user_id", searcher.Profile.UserID),
			zap.Int64("partner_id", partner.Profile.UserID))

		s.startPair(ctx, searcher.Profile.UserID, partner.Profile.UserID)
	}
}

func (s *Service) startPair(ctx context.Context, userID, partnerID int64) {
	if s.starter == nil {
		s.log.Error("no pair starter attached",
			zap.Int64("user_id", userID), zap.Int64("partner_id", partnerID))
		return
	}

	go func() {
		startCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()

		if err := s.starter.Start(startCtx, userID, partnerID); err != nil {
			s.log.Error("start matched pair",
				zap.Int64("user_id", userID),
				zap.Int64("partner_id", partnerID),
				zap.Error(err))
		}
	}()
}

// Broaden replaces the active filters with a relaxed pair chosen from the
// fallback menu and searches again. The originals survive for the next chat.
func (s *Service) Broaden(ctx context.Context, userID int64, prefs model.SearchPrefs) error {
	if err := s.sessions.UpdatePrefs(ctx, userID, prefs, false); err != nil {
		return fmt.Errorf("broaden prefs: %w", err)
	}
	return s.reenter(ctx, userID)
}

// SwitchIntentOpen drops the client's specific vibe and searches again.
func (s *Service) SwitchIntentOpen(ctx context.Context, userID int64) error {
	if err := s.profiles.SetIntent(ctx, userID, enums.IntentOpen); err != nil {
		return fmt.Errorf("switch intent: %w", err)
	}
	return s.reenter(ctx, userID)
}

// MatchAnyone clears every filter and the specific vibe in one stroke.
func (s *Service) MatchAnyone(ctx context.Context, userID int64) error {
	if err := s.sessions.UpdatePrefs(ctx, userID, model.SearchPrefs{}, false); err != nil {
		return fmt.Errorf("clear prefs: %w", err)
	}
	if err := s.profiles.SetIntent(ctx, userID, enums.IntentOpen); err != nil {
		return fmt.Errorf("switch intent: %w", err)
	}
	return s.reenter(ctx, userID)
}

// KeepWaiting restores the plain searching prompt and re-arms the fallback
// timer for another round.
func (s *Service) KeepWaiting(ctx context.Context, userID int64) error {
	sess, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess.State != enums.StateWaiting {
		return ErrNotWaiting
	}

	if sess.SearchingMsgID != 0 {
		err := s.messenger.EditMenu(ctx, userID, sess.SearchingMsgID, searchingText, []telegram.MenuOption{
			{Label: cancelSearchLabel, Data: CancelSearchData},
		})
		if err != nil {
			s.log.Debug("restore searching prompt", zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	s.armFallback(userID)
	return nil
}

// CancelFallback disarms a client's pending escalation, used when they leave
// the pool through a match.
func (s *Service) CancelFallback(userID int64) {
	s.timers.Cancel(fallbackTimer(userID))
}

func (s *Service) reenter(ctx context.Context, userID int64) error {
	// The search restarts from scratch so the prompt and fallback timer are
	// rebuilt against the new criteria.
	return s.Enqueue(ctx, userID)
}

func (s *Service) armFallback(userID int64) {
	s.timers.Schedule(fallbackTimer(userID), s.fallbackDelay, func() {
		s.fireFallback(userID)
	})
}

// fireFallback runs when a search has been open too long. Everything is
// re-read at fire time: a client who matched or cancelled in the meantime is
// left alone.
func (s *Service) fireFallback(userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sess, err := s.sessions.Get(ctx, userID)
	if err != nil {
		s.log.Warn("fallback: load session", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if sess.State != enums.StateWaiting || sess.SearchingMsgID == 0 {
		return
	}

	prof, err := s.profiles.Get(ctx, userID)
	if err != nil {
		s.log.Warn("fallback: load profile", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	pool, err := s.sessions.WaitingPool(ctx)
	if err != nil {
		s.log.Warn("fallback: load waiting pool", zap.Error(err))
		return
	}

	s.log.Info("presenting fallback menu", zap.Int64("user_id", userID))

	options := FallbackOptions(prof, sess.Prefs, pool)
	if err := s.messenger.EditMenu(ctx, userID, sess.SearchingMsgID, fallbackText, options); err != nil {
		s.log.Debug("edit searching prompt into fallback menu",
			zap.Int64("user_id", userID), zap.Error(err))
	}
}

func fallbackTimer(userID int64) string {
	return fmt.Sprintf("fallback:%d", userID)
}
