package favorites

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/nkarpachev/emberchat/backend/internal/domain/enums"
	"github.com/nkarpachev/emberchat/backend/internal/domain/model"
	"github.com/nkarpachev/emberchat/backend/internal/infra/telegram"
	pgrepo "github.com/nkarpachev/emberchat/backend/internal/repo/postgres"
)

var (
	ErrChatExpired  = errors.New("chat session expired")
	ErrNotConnected = errors.New("no connection with this client")
)

// Callback payloads for the consent and reconnect prompts.
func ConsentData(initiatorID int64, accepted bool) string {
	if accepted {
		return fmt.Sprintf("consent:yes:%d", initiatorID)
	}
	return fmt.Sprintf("consent:no:%d", initiatorID)
}

func ReconnectData(initiatorID int64, accept, interrupt bool) string {
	verb := "no"
	if accept {
		verb = "yes"
	}
	kind := 0
	if interrupt {
		kind = 1
	}
	return fmt.Sprintf("rc:%s:%d:%d", verb, initiatorID, kind)
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
}

type ChatStore interface {
	SetFavoriteTx(ctx context.Context, tx pgx.Tx, chatID, userID int64) (model.ChatSession, error)
}

type ConnectionStore interface {
	Create(ctx context.Context, user1ID, user2ID int64, snap1, snap2 model.Snapshot) (bool, error)
	GetByPair(ctx context.Context, userID, peerID int64) (model.Connection, error)
	ListForUser(ctx context.Context, userID int64) ([]model.Connection, error)
	Delete(ctx context.Context, userID, peerID int64) (bool, error)
}

type SessionStore interface {
	Get(ctx context.Context, userID int64) (model.Session, error)
}

type ProfileStore interface {
	Get(ctx context.Context, userID int64) (model.Profile, error)
}

type Messenger interface {
	Notify(ctx context.Context, userID int64, text string) (int64, error)
	PresentMenu(ctx context.Context, userID int64, text string, options []telegram.MenuOption) (int64, error)
}

// ChatControl is the slice of the chat service reconnects need: ending the
// accepter's current conversation and opening the remembered one.
type ChatControl interface {
	End(ctx context.Context, userID int64) (int64, int64, time.Duration, error)
	StartReconnect(ctx context.Context, userID, partnerID int64) error
}

type Pool interface {
	Enqueue(ctx context.Context, userID int64) error
}

type Dependencies struct {
	Logger      *zap.Logger
	Tx          TxRunner
	Chats       ChatStore
	Connections ConnectionStore
	Sessions    SessionStore
	Profiles    ProfileStore
	Messenger   Messenger
	ChatCtl     ChatControl
	Pool        Pool
}

// Service implements the mutual-consent favorites protocol and the reconnect
// flow built on top of it, including the priority interrupt for busy peers.
type Service struct {
	log         *zap.Logger
	tx          TxRunner
	chats       ChatStore
	connections ConnectionStore
	sessions    SessionStore
	profiles    ProfileStore
	messenger   Messenger
	chatCtl     ChatControl
	pool        Pool
}

func New(deps Dependencies) (*Service, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("tx runner is required")
	}
	if deps.Chats == nil {
		return nil, fmt.Errorf("chat store is required")
	}
	if deps.Connections == nil {
		return nil, fmt.Errorf("connection store is required")
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
	if deps.ChatCtl == nil {
		return nil, fmt.Errorf("chat control is required")
	}
	if deps.Pool == nil {
		return nil, fmt.Errorf("waiting pool is required")
	}

	return &Service{
		log:         deps.Logger,
		tx:          deps.Tx,
		chats:       deps.Chats,
		connections: deps.Connections,
		sessions:    deps.Sessions,
		profiles:    deps.Profiles,
		messenger:   deps.Messenger,
		chatCtl:     deps.ChatCtl,
		pool:        deps.Pool,
	}, nil
}

// Flag records that one participant wants to keep the connection. Both flags
// set → the connection is created immediately. A premium initiator flagging a
// non-premium partner triggers a consent prompt instead of silent waiting.
func (s *Service) Flag(ctx context.Context, initiatorID, chatID int64) error {
	var updated model.ChatSession
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		updated, err = s.chats.SetFavoriteTx(ctx, tx, chatID, initiatorID)
		return err
	})
	if err != nil {
		if errors.Is(err, pgrepo.ErrChatNotFound) {
			return ErrChatExpired
		}
		return fmt.Errorf("flag favorite: %w", err)
	}

	partnerID := updated.PeerOf(initiatorID)

	if updated.User1Favorite && updated.User2Favorite {
		s.notify(ctx, initiatorID, "🎉 It's a mutual match! You are now favorites.")
		return s.createConnection(ctx, initiatorID, partnerID)
	}

	initiator, err := s.profiles.Get(ctx, initiatorID)
	if err != nil {
		return fmt.Errorf("load initiator profile: %w", err)
	}
	partner, err := s.profiles.Get(ctx, partnerID)
	if err != nil {
		return fmt.Errorf("load partner profile: %w", err)
	}

	if initiator.IsPremium && !partner.IsPremium {
		options := []telegram.MenuOption{
			{Label: "✅ Yes, connect", Data: ConsentData(initiatorID, true)},
			{Label: "❌ No, thanks", Data: ConsentData(initiatorID, false)},
		}
		text := fmt.Sprintf("Hey! Your chat partner, %s, would like to add you to their favorites. Do you agree?", displayName(initiator))
		if _, err := s.messenger.PresentMenu(ctx, partnerID, text, options); err != nil {
			return fmt.Errorf("send consent prompt: %w", err)
		}
		s.notify(ctx, initiatorID, "✅ Request sent! If they accept, you'll be connected.")
		return nil
	}

	s.notify(ctx, initiatorID, "✅ Great! If your partner also adds you, you will be connected instantly.")
	return nil
}

// Consent settles a pending consent prompt on the non-premium side.
func (s *Service) Consent(ctx context.Context, accepterID, initiatorID int64, accepted bool) error {
	if accepted {
		return s.createConnection(ctx, initiatorID, accepterID)
	}

	accepter, err := s.profiles.Get(ctx, accepterID)
	if err != nil {
		return fmt.Errorf("load accepter profile: %w", err)
	}
	s.notify(ctx, initiatorID, fmt.Sprintf("😔 Unfortunately, %s declined your request to connect.", displayName(accepter)))
	return nil
}

func (s *Service) createConnection(ctx context.Context, user1ID, user2ID int64) error {
	prof1, err := s.profiles.Get(ctx, user1ID)
	if err != nil {
		return fmt.Errorf("load profile %d: %w", user1ID, err)
	}
	prof2, err := s.profiles.Get(ctx, user2ID)
	if err != nil {
		return fmt.Errorf("load profile %d: %w", user2ID, err)
	}

	created, err := s.connections.Create(ctx, user1ID, user2ID, prof1.Snapshot(), prof2.Snapshot())
	if err != nil {
		return fmt.Errorf("create connection: %w", err)
	}
	if !created {
		return nil
	}

	s.log.Info("connection created", zap.Int64("user1_id", user1ID), zap.Int64("user2_id", user2ID))

	s.notify(ctx, user1ID, fmt.Sprintf("🎉 You and %s are now favorites!", displayName(prof2)))
	s.notify(ctx, user2ID, fmt.Sprintf("🎉 You and %s are now favorites!", displayName(prof1)))
	return nil
}

// Favorite is one row of a client's favorites list: the remembered name plus
// whether the peer is visibly free to chat right now.
type Favorite struct {
	PeerID    int64
	Name      string
	Available bool
}

// List returns the caller's saved connections. Availability is live, not
// snapshotted, and respects the peer's visibility toggle.
func (s *Service) List(ctx context.Context, userID int64) ([]Favorite, error) {
	conns, err := s.connections.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	favorites := make([]Favorite, 0, len(conns))
	for _, conn := range conns {
		peerID := conn.PeerOf(userID)
		snap := conn.PeerSnapshot(userID)

		fav := Favorite{PeerID: peerID, Name: snap.DisplayName}
		if fav.Name == "" {
			fav.Name = "Stranger"
		}

		peerProf, profErr := s.profiles.Get(ctx, peerID)
		peerSess, sessErr := s.sessions.Get(ctx, peerID)
		if profErr == nil && sessErr == nil {
			fav.Available = peerProf.ShowActive && peerSess.State == enums.StateIdle
		}

		favorites = append(favorites, fav)
	}

	return favorites, nil
}

// Remove deletes the connection for both sides.
func (s *Service) Remove(ctx context.Context, userID, peerID int64) error {
	removed, err := s.connections.Delete(ctx, userID, peerID)
	if err != nil {
		return fmt.Errorf("remove connection: %w", err)
	}
	if !removed {
		return ErrNotConnected
	}

	s.log.Info("connection removed", zap.Int64("user_id", userID), zap.Int64("peer_id", peerID))
	return nil
}

// RequestReconnect asks a remembered peer for a new conversation. An idle
// peer gets a plain accept/decline prompt; a busy one gets the priority
// interrupt offer, and the initiator is told they are busy.
func (s *Service) RequestReconnect(ctx context.Context, initiatorID, peerID int64) error {
	if _, err := s.connections.GetByPair(ctx, initiatorID, peerID); err != nil {
		if errors.Is(err, pgrepo.ErrConnectionNotFound) {
			return ErrNotConnected
		}
		return fmt.Errorf("load connection: %w", err)
	}

	initiator, err := s.profiles.Get(ctx, initiatorID)
	if err != nil {
		return fmt.Errorf("load initiator profile: %w", err)
	}
	peerSess, err := s.sessions.Get(ctx, peerID)
	if err != nil {
		return fmt.Errorf("load peer session: %w", err)
	}

	if peerSess.State != enums.StateIdle {
		options := []telegram.MenuOption{
			{Label: "✅ Yes, switch chats", Data: ReconnectData(initiatorID, true, true)},
			{Label: "❌ No, stay here", Data: ReconnectData(initiatorID, false, true)},
		}
		text := fmt.Sprintf("❗️ Hey! %s wants to chat with you now, but you're busy. Would you like to switch?", displayName(initiator))
		if _, err := s.messenger.PresentMenu(ctx, peerID, text, options); err != nil {
			return fmt.Errorf("send interrupt prompt: %w", err)
		}
		s.notify(ctx, initiatorID, "💌 Your connection is currently busy. They have been notified you want to chat.")
		return nil
	}

	options := []telegram.MenuOption{
		{Label: "✅ Accept", Data: ReconnectData(initiatorID, true, false)},
		{Label: "❌ Decline", Data: ReconnectData(initiatorID, false, false)},
	}
	text := fmt.Sprintf("Hey! %s would like to chat with you again.", displayName(initiator))
	if _, err := s.messenger.PresentMenu(ctx, peerID, text, options); err != nil {
		return fmt.Errorf("send reconnect prompt: %w", err)
	}
	s.notify(ctx, initiatorID, "💌 Your reconnect request has been sent!")
	return nil
}

// AcceptReconnect connects the two sides. With interrupt set, the accepter's
// current conversation ends first and the freed partner goes straight back
// into the waiting pool. If the initiator stopped being idle in the meantime
// the accepter is told and nothing changes.
func (s *Service) AcceptReconnect(ctx context.Context, accepterID, initiatorID int64, interrupt bool) error {
	if interrupt {
		freedPartnerID, _, _, err := s.chatCtl.End(ctx, accepterID)
		if err != nil {
			return fmt.Errorf("end current chat: %w", err)
		}
		if freedPartnerID != 0 {
			s.notify(ctx, freedPartnerID, "👋 Your partner switched to a priority chat. We're finding a new partner for you now!")
			if err := s.pool.Enqueue(ctx, freedPartnerID); err != nil {
				s.log.Error("re-enqueue interrupted partner",
					zap.Int64("partner_id", freedPartnerID), zap.Error(err))
			}
		}
	}

	initiatorSess, err := s.sessions.Get(ctx, initiatorID)
	if err != nil {
		return fmt.Errorf("load initiator session: %w", err)
	}
	if initiatorSess.State != enums.StateIdle {
		s.notify(ctx, accepterID, "Sorry, the user who sent the request is no longer available.")
		return nil
	}

	accepter, err := s.profiles.Get(ctx, accepterID)
	if err != nil {
		return fmt.Errorf("load accepter profile: %w", err)
	}
	s.notify(ctx, initiatorID, fmt.Sprintf("🎉 %s accepted your request! Connecting you now...", displayName(accepter)))

	return s.chatCtl.StartReconnect(ctx, initiatorID, accepterID)
}

// DeclineReconnect tells the initiator no. The accepter's state is untouched.
func (s *Service) DeclineReconnect(ctx context.Context, accepterID, initiatorID int64) error {
	accepter, err := s.profiles.Get(ctx, accepterID)
	if err != nil {
		return fmt.Errorf("load accepter profile: %w", err)
	}

	s.notify(ctx, initiatorID, fmt.Sprintf("😔 Sorry, %s declined your request to chat.", displayName(accepter)))
	return nil
}

func (s *Service) notify(ctx context.Context, userID int64, text string) {
	if _, err := s.messenger.Notify(ctx, userID, text); err != nil {
		s.log.Debug("notify", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func displayName(p model.Profile) string {
	if p.DisplayName == "" {
		return "Stranger"
	}
	return p.DisplayName
}
