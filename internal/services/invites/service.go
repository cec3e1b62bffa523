package invites

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/nkarpachev/emberchat/backend/internal/domain/enums"
	"github.com/nkarpachev/emberchat/backend/internal/domain/model"
	"github.com/nkarpachev/emberchat/backend/internal/domain/rules"
	pgrepo "github.com/nkarpachev/emberchat/backend/internal/repo/postgres"
)

var (
	ErrHostBusy      = errors.New("host is not free to invite")
	ErrInviteInvalid = errors.New("invite is invalid or already used")
	ErrInviteExpired = errors.New("invite has expired")
	ErrSelfInvite    = errors.New("cannot redeem own invite")
	ErrHostGone      = errors.New("invite host is no longer waiting")
)

type InviteStore interface {
	Create(ctx context.Context, token string, hostUserID int64, createdAt time.Time) error
	Get(ctx context.Context, token string) (model.Invite, error)
	Delete(ctx context.Context, token string) (bool, error)
	DeleteByHost(ctx context.Context, token string, hostUserID int64) (bool, error)
}

type SessionStore interface {
	Get(ctx context.Context, userID int64) (model.Session, error)
	SetState(ctx context.Context, userID int64, state enums.ChatState) error
}

type Messenger interface {
	Notify(ctx context.Context, userID int64, text string) (int64, error)
}

// Starter opens the conversation once a guest redeems the host's token.
type Starter interface {
	Start(ctx context.Context, userID, partnerID int64) error
}

type Dependencies struct {
	Logger    *zap.Logger
	Invites   InviteStore
	Sessions  SessionStore
	Messenger Messenger
	Starter   Starter

	// BotUsername builds the share link; read lazily because the bot
	// identity is only known after the transport connects.
	BotUsername func() string

	TTL time.Duration
	Now func() time.Time
}

// Service issues and redeems single-use direct-invite tokens. A host parks in
// the hosting state until their guest arrives, the token expires, or they
// cancel.
type Service struct {
	log         *zap.Logger
	invites     InviteStore
	sessions    SessionStore
	messenger   Messenger
	starter     Starter
	botUsername func() string

	ttl time.Duration
	now func() time.Time
}

func New(deps Dependencies) (*Service, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Invites == nil {
		return nil, fmt.Errorf("invite store is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if deps.Messenger == nil {
		return nil, fmt.Errorf("messenger is required")
	}
	if deps.Starter == nil {
		return nil, fmt.Errorf("starter is required")
	}
	if deps.BotUsername == nil {
		return nil, fmt.Errorf("bot username resolver is required")
	}
	if deps.TTL <= 0 {
		deps.TTL = rules.InviteTTL
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Service{
		log:         deps.Logger,
		invites:     deps.Invites,
		sessions:    deps.Sessions,
		messenger:   deps.Messenger,
		starter:     deps.Starter,
		botUsername: deps.BotUsername,
		ttl:         deps.TTL,
		now:         deps.Now,
	}, nil
}

// Created is everything the host needs to share their invite.
type Created struct {
	Token string
	Link  string
	QR    []byte
}

// Create issues a fresh token and parks the host in the hosting state. The QR
// image encodes the same deep link as the text version.
func (s *Service) Create(ctx context.Context, hostID int64) (Created, error) {
	sess, err := s.sessions.Get(ctx, hostID)
	if err != nil {
		return Created{}, fmt.Errorf("load host session: %w", err)
	}
	if sess.State == enums.StateInChat || sess.State == enums.StateWaiting {
		return Created{}, ErrHostBusy
	}

	token := uuid.NewString()
	if err := s.invites.Create(ctx, token, hostID, s.now()); err != nil {
		return Created{}, fmt.Errorf("store invite: %w", err)
	}

	if err := s.sessions.SetState(ctx, hostID, enums.StateHosting); err != nil {
		return Created{}, fmt.Errorf("park host: %w", err)
	}

	link := fmt.Sprintf("https://t.me/%s?start=%s", s.botUsername(), token)

	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		// Link sharing still works without the image.
		s.log.Warn("encode invite qr", zap.Error(err))
		png = nil
	}

	s.log.Info("invite created", zap.Int64("host_id", hostID), zap.String("token", token))
	return Created{Token: token, Link: link, QR: png}, nil
}

// Cancel withdraws the host's own token and frees them.
func (s *Service) Cancel(ctx context.Context, hostID int64, token string) error {
	if _, err := s.invites.DeleteByHost(ctx, token, hostID); err != nil {
		return fmt.Errorf("cancel invite: %w", err)
	}

	sess, err := s.sessions.Get(ctx, hostID)
	if err != nil {
		return fmt.Errorf("load host session: %w", err)
	}
	if sess.State == enums.StateHosting {
		if err := s.sessions.SetState(ctx, hostID, enums.StateIdle); err != nil {
			return fmt.Errorf("free host: %w", err)
		}
	}

	s.log.Info("invite cancelled", zap.Int64("host_id", hostID))
	return nil
}

// Redeem consumes a token on behalf of a guest and, when every guard passes,
// connects them with the host. Expired and orphaned tokens are deleted on
// sight so they fail fast next time.
func (s *Service) Redeem(ctx context.Context, token string, guestID int64) error {
	inv, err := s.invites.Get(ctx, token)
	if err != nil {
		if errors.Is(err, pgrepo.ErrInviteNotFound) {
			return ErrInviteInvalid
		}
		return fmt.Errorf("load invite: %w", err)
	}

	if inv.Expired(s.now(), s.ttl) {
		if _, err := s.invites.Delete(ctx, token); err != nil {
			s.log.Warn("delete expired invite", zap.String("token", token), zap.Error(err))
		}
		return ErrInviteExpired
	}

	if inv.HostUserID == guestID {
		return ErrSelfInvite
	}

	hostSess, err := s.sessions.Get(ctx, inv.HostUserID)
	if err != nil {
		return fmt.Errorf("load host session: %w", err)
	}
	if hostSess.State != enums.StateHosting {
		if _, err := s.invites.Delete(ctx, token); err != nil {
			s.log.Warn("delete orphaned invite", zap.String("token", token), zap.Error(err))
		}
		return ErrHostGone
	}

	// Single use: only the caller that actually removes the row proceeds,
	// so two guests racing on the same token cannot both join.
	consumed, err := s.invites.Delete(ctx, token)
	if err != nil {
		return fmt.Errorf("consume invite: %w", err)
	}
	if !consumed {
		return ErrInviteInvalid
	}

	if _, err := s.messenger.Notify(ctx, inv.HostUserID, "✅ Your friend has joined! Connecting you now..."); err != nil {
		s.log.Debug("notify invite host", zap.Int64("host_id", inv.HostUserID), zap.Error(err))
	}
	if _, err := s.messenger.Notify(ctx, guestID, "✅ Invite accepted! Connecting you now..."); err != nil {
		s.log.Debug("notify invite guest", zap.Int64("guest_id", guestID), zap.Error(err))
	}

	s.log.Info("invite redeemed",
		zap.Int64("host_id", inv.HostUserID),
		zap.Int64("guest_id", guestID))

	return s.starter.Start(ctx, inv.HostUserID, guestID)
}
