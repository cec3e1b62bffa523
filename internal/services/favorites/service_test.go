package favorites

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/nkarpachev/emberchat/backend/internal/domain/enums"
	"github.com/nkarpachev/emberchat/backend/internal/domain/model"
	"github.com/nkarpachev/emberchat/backend/internal/infra/telegram"
	pgrepo "github.com/nkarpachev/emberchat/backend/internal/repo/postgres"
)

type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	return fn(ctx, nil)
}

type stubChats struct {
	mu    sync.Mutex
	chats map[int64]model.ChatSession
}

func newStubChats() *stubChats {
	return &stubChats{chats: make(map[int64]model.ChatSession)}
}

func (s *stubChats) SetFavoriteTx(_ context.Context, _ pgx.Tx, chatID, userID int64) (model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok || chat.EndedAt != nil {
		return model.ChatSession{}, pgrepo.ErrChatNotFound
	}
	switch userID {
	case chat.User1ID:
		chat.User1Favorite = true
	case chat.User2ID:
		chat.User2Favorite = true
	default:
		return model.ChatSession{}, pgrepo.ErrChatNotFound
	}
	s.chats[chatID] = chat
	return chat, nil
}

type pairKey struct{ a, b int64 }

func normPair(user1ID, user2ID int64) pairKey {
	if user1ID > user2ID {
		user1ID, user2ID = user2ID, user1ID
	}
	return pairKey{user1ID, user2ID}
}

type stubConnections struct {
	mu    sync.Mutex
	conns map[pairKey]model.Connection
}

func newStubConnections() *stubConnections {
	return &stubConnections{conns: make(map[pairKey]model.Connection)}
}

func (s *stubConnections) Create(_ context.Context, user1ID, user2ID int64, snap1, snap2 model.Snapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normPair(user1ID, user2ID)
	if _, exists := s.conns[key]; exists {
		return false, nil
	}
	s.conns[key] = model.Connection{
		ID:            int64(len(s.conns) + 1),
		User1ID:       user1ID,
		User2ID:       user2ID,
		User1Snapshot: snap1,
		User2Snapshot: snap2,
	}
	return true, nil
}

func (s *stubConnections) GetByPair(_ context.Context, userID, peerID int64) (model.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, ok := s.conns[normPair(userID, peerID)]; ok {
		return conn, nil
	}
	return model.Connection{}, pgrepo.ErrConnectionNotFound
}

func (s *stubConnections) ListForUser(_ context.Context, userID int64) ([]model.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Connection
	for _, conn := range s.conns {
		if conn.User1ID == userID || conn.User2ID == userID {
			out = append(out, conn)
		}
	}
	return out, nil
}

func (s *stubConnections) Delete(_ context.Context, userID, peerID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normPair(userID, peerID)
	if _, ok := s.conns[key]; !ok {
		return false, nil
	}
	delete(s.conns, key)
	return true, nil
}

type stubSessions struct {
	mu       sync.Mutex
	sessions map[int64]model.Session
}

func newStubSessions() *stubSessions {
	return &stubSessions{sessions: make(map[int64]model.Session)}
}

func (s *stubSessions) Get(_ context.Context, userID int64) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[userID]; ok {
		return sess, nil
	}
	return model.Session{}, pgrepo.ErrSessionNotFound
}

type stubProfiles struct {
	mu       sync.Mutex
	profiles map[int64]model.Profile
}

func newStubProfiles() *stubProfiles {
	return &stubProfiles{profiles: make(map[int64]model.Profile)}
}

func (s *stubProfiles) Get(_ context.Context, userID int64) (model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[userID]; ok {
		return p, nil
	}
	return model.Profile{}, pgrepo.ErrProfileNotFound
}

type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int64
	notices map[int64][]string
	menus   map[int64][]string
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		notices: make(map[int64][]string),
		menus:   make(map[int64][]string),
	}
}

func (m *fakeMessenger) Notify(_ context.Context, userID int64, text string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.notices[userID] = append(m.notices[userID], text)
	return m.nextID, nil
}

func (m *fakeMessenger) PresentMenu(_ context.Context, userID int64, text string, _ []telegram.MenuOption) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.menus[userID] = append(m.menus[userID], text)
	return m.nextID, nil
}

func (m *fakeMessenger) noticed(userID int64, fragment string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, text := range m.notices[userID] {
		if strings.Contains(text, fragment) {
			return true
		}
	}
	return false
}

type fakeChatCtl struct {
	mu           sync.Mutex
	endPartner   int64
	ended        []int64
	reconnects   [][2]int64
	reconnectErr error
}

func (c *fakeChatCtl) End(_ context.Context, userID int64) (int64, int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = append(c.ended, userID)
	return c.endPartner, 0, 0, nil
}

func (c *fakeChatCtl) StartReconnect(_ context.Context, userID, partnerID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconnectErr != nil {
		return c.reconnectErr
	}
	c.reconnects = append(c.reconnects, [2]int64{userID, partnerID})
	return nil
}

type fakePool struct {
	mu       sync.Mutex
	enqueued []int64
}

func (p *fakePool) Enqueue(_ context.Context, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enqueued = append(p.enqueued, userID)
	return nil
}

type testEnv struct {
	svc         *Service
	chats       *stubChats
	connections *stubConnections
	sessions    *stubSessions
	profiles    *stubProfiles
	messenger   *fakeMessenger
	chatCtl     *fakeChatCtl
	pool        *fakePool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		chats:       newStubChats(),
		connections: newStubConnections(),
		sessions:    newStubSessions(),
		profiles:    newStubProfiles(),
		messenger:   newFakeMessenger(),
		chatCtl:     &fakeChatCtl{},
		pool:        &fakePool{},
	}

	svc, err := New(Dependencies{
		Logger:      zap.NewNop(),
		Tx:          fakeTx{},
		Chats:       env.chats,
		Connections: env.connections,
		Sessions:    env.sessions,
		Profiles:    env.profiles,
		Messenger:   env.messenger,
		ChatCtl:     env.chatCtl,
		Pool:        env.pool,
	})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	env.svc = svc
	return env
}

func (e *testEnv) seedChat(chatID, user1ID, user2ID int64) {
	e.chats.chats[chatID] = model.ChatSession{ChatID: chatID, User1ID: user1ID, User2ID: user2ID}
	e.profiles.profiles[user1ID] = model.Profile{UserID: user1ID, DisplayName: "Ash"}
	e.profiles.profiles[user2ID] = model.Profile{UserID: user2ID, DisplayName: "Blake"}
}

func TestFlagSingleSideWaitsSilently(t *testing.T) {
	env := newTestEnv(t)
	env.seedChat(10, 1, 2)

	if err := env.svc.Flag(context.Background(), 1, 10); err != nil {
		t.Fatalf("flag: %v", err)
	}

	if len(env.connections.conns) != 0 {
		t.Fatalf("one-sided flag created a connection: %v", env.connections.conns)
	}
	if !env.messenger.noticed(1, "If your partner also adds you") {
		t.Fatalf("initiator not told to wait, notices %v", env.messenger.notices)
	}
	if len(env.messenger.menus[2]) != 0 {
		t.Fatalf("non-premium initiator must not trigger a consent prompt: %v", env.messenger.menus)
	}
}

func TestFlagMutualCreatesConnection(t *testing.T) {
	env := newTestEnv(t)
	env.seedChat(10, 1, 2)
	ctx := context.Background()

	if err := env.svc.Flag(ctx, 1, 10); err != nil {
		t.Fatalf("first flag: %v", err)
	}
	if err := env.svc.Flag(ctx, 2, 10); err != nil {
		t.Fatalf("second flag: %v", err)
	}

	if _, err := env.connections.GetByPair(ctx, 1, 2); err != nil {
		t.Fatalf("mutual flags did not create a connection: %v", err)
	}
	if !env.messenger.noticed(1, "now favorites") || !env.messenger.noticed(2, "now favorites") {
		t.Fatalf("both sides should be congratulated, notices %v", env.messenger.notices)
	}
}

func TestFlagExpiredChat(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.Flag(context.Background(), 1, 99)
	if !errors.Is(err, ErrChatExpired) {
		t.Fatalf("expected ErrChatExpired, got %v", err)
	}
}

func TestFlagPremiumInitiatorPromptsPartner(t *testing.T) {
	env := newTestEnv(t)
	env.seedChat(10, 1, 2)
	env.profiles.profiles[1] = model.Profile{UserID: 1, DisplayName: "Ash", IsPremium: true}

	if err := env.svc.Flag(context.Background(), 1, 10); err != nil {
		t.Fatalf("flag: %v", err)
	}

	if len(env.messenger.menus[2]) != 1 {
		t.Fatalf("partner did not receive the consent prompt: %v", env.messenger.menus)
	}
	if !env.messenger.noticed(1, "Request sent") {
		t.Fatalf("initiator not told about the sent request, notices %v", env.messenger.notices)
	}
	if len(env.connections.conns) != 0 {
		t.Fatal("consent path must not create the connection up front")
	}
}

func TestConsentAcceptedCreatesConnection(t *testing.T) {
	env := newTestEnv(t)
	env.seedChat(10, 1, 2)
	ctx := context.Background()

	if err := env.svc.Consent(ctx, 2, 1, true); err != nil {
		t.Fatalf("consent: %v", err)
	}
	if _, err := env.connections.GetByPair(ctx, 1, 2); err != nil {
		t.Fatalf("accepted consent did not create a connection: %v", err)
	}
}

func TestConsentDeclinedNotifiesInitiator(t *testing.T) {
	env := newTestEnv(t)
	env.seedChat(10, 1, 2)

	if err := env.svc.Consent(context.Background(), 2, 1, false); err != nil {
		t.Fatalf("consent: %v", err)
	}
	if len(env.connections.conns) != 0 {
		t.Fatal("declined consent created a connection")
	}
	if !env.messenger.noticed(1, "declined") {
		t.Fatalf("initiator not told about the decline, notices %v", env.messenger.notices)
	}
}

func TestCreateConnectionIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedChat(10, 1, 2)
	ctx := context.Background()

	if err := env.svc.Consent(ctx, 2, 1, true); err != nil {
		t.Fatalf("first consent: %v", err)
	}
	first := len(env.messenger.notices[1])

	if err := env.svc.Consent(ctx, 2, 1, true); err != nil {
		t.Fatalf("second consent: %v", err)
	}
	if len(env.connections.conns) != 1 {
		t.Fatalf("expected a single connection, got %d", len(env.connections.conns))
	}
	if len(env.messenger.notices[1]) != first {
		t.Fatal("duplicate connection re-announced")
	}
}

func TestListReportsAvailability(t *testing.T) {
	env := newTestEnv(t)
	env.seedChat(10, 1, 2)
	ctx := context.Background()
	if err := env.svc.Consent(ctx, 2, 1, true); err != nil {
		t.Fatalf("create connection: %v", err)
	}

	env.profiles.profiles[2] = model.Profile{UserID: 2, DisplayName: "Blake", ShowActive: true}
	env.sessions.sessions[2] = model.Session{UserID: 2, State: enums.StateIdle}

	favorites, err := env.svc.List(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(favorites) != 1 {
		t.Fatalf("expected one favorite, got %d", len(favorites))
	}
	if favorites[0].PeerID != 2 || favorites[0].Name != "Blake" || !favorites[0].Available {
		t.Fatalf("unexpected favorite row: %+v", favorites[0])
	}

	// A hidden or busy peer shows as unavailable.
	env.sessions.sessions[2] = model.Session{UserID: 2, State: enums.StateInChat}
	favorites, err = env.svc.List(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if favorites[0].Available {
		t.Fatal("busy peer reported as available")
	}
}

func TestRemove(t *testing.T) {
	env := newTestEnv(t)
	env.seedChat(10, 1, 2)
	ctx := context.Background()
	if err := env.svc.Consent(ctx, 2, 1, true); err != nil {
		t.Fatalf("create connection: %v", err)
	}

	if err := env.svc.Remove(ctx, 1, 2); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := env.svc.Remove(ctx, 1, 2); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected on second remove, got %v", err)
	}
}

func TestRequestReconnectIdlePeer(t *testing.T) {
	env := newTestEnv(t)
	env.seedChat(10, 1, 2)
	ctx := context.Background()
	if err := env.svc.Consent(ctx, 2, 1, true); err != nil {
		t.Fatalf("create connection: %v", err)
	}
	env.sessions.sessions[2] = model.Session{UserID: 2, State: enums.StateIdle}

	if err := env.svc.RequestReconnect(ctx, 1, 2); err != nil {
		t.Fatalf("request reconnect: %v", err)
	}

	if len(env.messenger.menus[2]) != 1 {
		t.Fatalf("idle peer did not receive the reconnect prompt: %v", env.messenger.menus)
	}
	if !env.messenger.noticed(1, "request has been sent") {
		t.Fatalf("initiator not acknowledged, notices %v", env.messenger.notices)
	}
}

func TestRequestReconnectBusyPeerGetsInterruptOffer(t *testing.T) {
	env := newTestEnv(t)
	env.seedChat(10, 1, 2)
	ctx := context.Background()
	if err := env.svc.Consent(ctx, 2, 1, true); err != nil {
		t.Fatalf("create connection: %v", err)
	}
	env.sessions.sessions[2] = model.Session{UserID: 2, State: enums.StateInChat, PartnerID: 5}

	if err := env.svc.RequestReconnect(ctx, 1, 2); err != nil {
		t.Fatalf("request reconnect: %v", err)
	}

	if len(env.messenger.menus[2]) != 1 {
		t.Fatalf("busy peer did not receive the interrupt offer: %v", env.messenger.menus)
	}
	if !env.messenger.noticed(1, "currently busy") {
		t.Fatalf("initiator not told the peer is busy, notices %v", env.messenger.notices)
	}
}

func TestRequestReconnectWithoutConnection(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.RequestReconnect(context.Background(), 1, 2)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestAcceptReconnectOpensChat(t *testing.T) {
	env := newTestEnv(t)
	env.seedChat(10, 1, 2)
	env.sessions.sessions[1] = model.Session{UserID: 1, State: enums.StateIdle}

	if err := env.svc.AcceptReconnect(context.Background(), 2, 1, false); err != nil {
		t.Fatalf("accept reconnect: %v", err)
	}

	if len(env.chatCtl.reconnects) != 1 || env.chatCtl.reconnects[0] != [2]int64{1, 2} {
		t.Fatalf("reconnect chat not opened: %v", env.chatCtl.reconnects)
	}
	if !env.messenger.noticed(1, "accepted your request") {
		t.Fatalf("initiator not told about the acceptance, notices %v", env.messenger.notices)
	}
}

func TestAcceptReconnectInterruptFreesPartner(t *testing.T) {
	env := newTestEnv(t)
	env.seedChat(10, 1, 2)
	env.sessions.sessions[1] = model.Session{UserID: 1, State: enums.StateIdle}
	env.chatCtl.endPartner = 7
	env.profiles.profiles[7] = model.Profile{UserID: 7}

	if err := env.svc.AcceptReconnect(context.Background(), 2, 1, true); err != nil {
		t.Fatalf("accept reconnect: %v", err)
	}

	if len(env.chatCtl.ended) != 1 || env.chatCtl.ended[0] != 2 {
		t.Fatalf("accepter's chat not ended: %v", env.chatCtl.ended)
	}
	if len(env.pool.enqueued) != 1 || env.pool.enqueued[0] != 7 {
		t.Fatalf("freed partner not re-pooled: %v", env.pool.enqueued)
	}
	if !env.messenger.noticed(7, "priority chat") {
		t.Fatalf("freed partner not told what happened, notices %v", env.messenger.notices)
	}
	if len(env.chatCtl.reconnects) != 1 {
		t.Fatalf("reconnect chat not opened: %v", env.chatCtl.reconnects)
	}
}

func TestAcceptReconnectStaleInitiator(t *testing.T) {
	env := newTestEnv(t)
	env.seedChat(10, 1, 2)
	env.sessions.sessions[1] = model.Session{UserID: 1, State: enums.StateInChat, PartnerID: 9}

	if err := env.svc.AcceptReconnect(context.Background(), 2, 1, false); err != nil {
		t.Fatalf("accept reconnect: %v", err)
	}

	if len(env.chatCtl.reconnects) != 0 {
		t.Fatalf("stale initiator still got a chat: %v", env.chatCtl.reconnects)
	}
	if !env.messenger.noticed(2, "no longer available") {
		t.Fatalf("accepter not told the initiator left, notices %v", env.messenger.notices)
	}
}

func TestDeclineReconnect(t *testing.T) {
	env := newTestEnv(t)
	env.seedChat(10, 1, 2)

	if err := env.svc.DeclineReconnect(context.Background(), 2, 1); err != nil {
		t.Fatalf("decline reconnect: %v", err)
	}
	if !env.messenger.noticed(1, "declined your request") {
		t.Fatalf("initiator not told about the decline, notices %v", env.messenger.notices)
	}
}
