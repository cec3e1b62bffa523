package match

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nkarpachev/emberchat/backend/internal/domain/enums"
	"github.com/nkarpachev/emberchat/backend/internal/domain/model"
	"github.com/nkarpachev/emberchat/backend/internal/infra/telegram"
	pgrepo "github.com/nkarpachev/emberchat/backend/internal/repo/postgres"
)

type stubSessions struct {
	mu       sync.Mutex
	sessions map[int64]model.Session
	pool     []pgrepo.CandidateRecord
	marked   []int64
	cleared  []int64
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

func (s *stubSessions) MarkSearching(_ context.Context, userID, msgID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[userID]
	sess.UserID = userID
	sess.State = enums.StateWaiting
	sess.SearchingMsgID = msgID
	s.sessions[userID] = sess
	s.marked = append(s.marked, userID)
	return nil
}

func (s *stubSessions) ClearSearching(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[userID]
	sess.State = enums.StateIdle
	sess.SearchingMsgID = 0
	s.sessions[userID] = sess
	s.cleared = append(s.cleared, userID)
	return nil
}

func (s *stubSessions) UpdatePrefs(_ context.Context, userID int64, prefs model.SearchPrefs, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[userID]
	sess.Prefs = prefs
	s.sessions[userID] = sess
	return nil
}

func (s *stubSessions) WaitingPool(context.Context) ([]pgrepo.CandidateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool := make([]pgrepo.CandidateRecord, len(s.pool))
	copy(pool, s.pool)
	return pool, nil
}

type stubProfiles struct {
	mu       sync.Mutex
	profiles map[int64]model.Profile
	intents  map[int64]enums.Intent
}

func newStubProfiles() *stubProfiles {
	return &stubProfiles{
		profiles: make(map[int64]model.Profile),
		intents:  make(map[int64]enums.Intent),
	}
}

func (s *stubProfiles) Get(_ context.Context, userID int64) (model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[userID]; ok {
		return p, nil
	}
	return model.Profile{}, pgrepo.ErrProfileNotFound
}

func (s *stubProfiles) SetIntent(_ context.Context, userID int64, intent enums.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[userID]
	p.Intent = intent
	s.profiles[userID] = p
	s.intents[userID] = intent
	return nil
}

type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int64
	deleted []int64
	menus   []string
	edits   []string
}

func (m *fakeMessenger) PresentMenu(_ context.Context, _ int64, text string, _ []telegram.MenuOption) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.menus = append(m.menus, text)
	return m.nextID, nil
}

func (m *fakeMessenger) EditMenu(_ context.Context, _, _ int64, text string, _ []telegram.MenuOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, text)
	return nil
}

func (m *fakeMessenger) DeleteMessage(_ context.Context, _, msgID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, msgID)
	return nil
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []string
	cancelled []string
}

func (s *fakeScheduler) Schedule(name string, _ time.Duration, _ func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, name)
}

func (s *fakeScheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, name)
}

func (s *fakeScheduler) armed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.scheduled))
	copy(out, s.scheduled)
	return out
}

type fakeStarter struct {
	mu    sync.Mutex
	pairs [][2]int64
}

func (f *fakeStarter) Start(_ context.Context, userID, partnerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairs = append(f.pairs, [2]int64{userID, partnerID})
	return nil
}

func (f *fakeStarter) started() [][2]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][2]int64, len(f.pairs))
	copy(out, f.pairs)
	return out
}

func newTestService(t *testing.T, sessions *stubSessions, profiles *stubProfiles) (*Service, *fakeMessenger, *fakeScheduler, *fakeStarter) {
	t.Helper()

	messenger := &fakeMessenger{}
	scheduler := &fakeScheduler{}
	starter := &fakeStarter{}

	svc, err := New(Dependencies{
		Logger:        zap.NewNop(),
		Sessions:      sessions,
		Profiles:      profiles,
		Messenger:     messenger,
		Timers:        scheduler,
		FallbackDelay: time.Minute,
	})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	svc.AttachStarter(starter)
	return svc, messenger, scheduler, starter
}

func waitForPairs(t *testing.T, starter *fakeStarter, want int) [][2]int64 {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pairs := starter.started(); len(pairs) >= want {
			return pairs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d started pairs, got %d", want, len(starter.started()))
	return nil
}

func TestRunMatchingPassPairsExclusively(t *testing.T) {
	sessions := newStubSessions()
	sessions.pool = []pgrepo.CandidateRecord{
		candidate(1, enums.GenderMale, enums.IntentOpen, nil, "", ""),
		candidate(2, enums.GenderFemale, enums.IntentOpen, nil, "", ""),
		candidate(3, enums.GenderMale, enums.IntentOpen, nil, "", ""),
		candidate(4, enums.GenderFemale, enums.IntentOpen, nil, "", ""),
	}

	svc, _, _, starter := newTestService(t, sessions, newStubProfiles())
	svc.RunMatchingPass(context.Background())

	pairs := waitForPairs(t, starter, 2)
	seen := make(map[int64]bool)
	for _, pair := range pairs {
		if pair[0] == pair[1] {
			t.Fatalf("client %d paired with itself", pair[0])
		}
		for _, id := range pair {
			if seen[id] {
				t.Fatalf("client %d appears in more than one pair", id)
			}
			seen[id] = true
		}
	}
	if len(seen) != 4 {
		t.Fatalf("expected 4 distinct clients paired, got %d", len(seen))
	}
}

func TestRunMatchingPassSkipsIncompatible(t *testing.T) {
	sessions := newStubSessions()
	sessions.pool = []pgrepo.CandidateRecord{
		candidate(1, enums.GenderMale, enums.IntentGames, nil, "", ""),
		candidate(2, enums.GenderFemale, enums.IntentRoleplay, nil, "", ""),
	}

	svc, _, _, starter := newTestService(t, sessions, newStubProfiles())
	svc.RunMatchingPass(context.Background())

	time.Sleep(50 * time.Millisecond)
	if pairs := starter.started(); len(pairs) != 0 {
		t.Fatalf("incompatible clients were paired: %v", pairs)
	}
}

func TestRunMatchingPassPartnerDrawnFromEligible(t *testing.T) {
	sessions := newStubSessions()
	sessions.pool = []pgrepo.CandidateRecord{
		candidate(1, enums.GenderMale, enums.IntentOpen, nil, enums.GenderFemale, ""),
		candidate(2, enums.GenderMale, enums.IntentOpen, nil, "", ""),
		candidate(3, enums.GenderFemale, enums.IntentOpen, nil, "", ""),
		candidate(4, enums.GenderFemale, enums.IntentOpen, nil, "", ""),
	}

	svc, _, _, starter := newTestService(t, sessions, newStubProfiles())
	// Deterministic pick: always the last eligible candidate.
	svc.randIntN = func(n int) int { return n - 1 }
	svc.RunMatchingPass(context.Background())

	pairs := waitForPairs(t, starter, 1)
	if pairs[0][0] != 1 || pairs[0][1] != 4 {
		t.Fatalf("expected searcher 1 paired with eligible candidate 4, got %v", pairs[0])
	}
}

func TestEnqueueArmsFallbackOnlyWhenRestrictive(t *testing.T) {
	sessions := newStubSessions()
	profiles := newStubProfiles()

	sessions.sessions[7] = model.Session{UserID: 7, State: enums.StateIdle}
	profiles.profiles[7] = model.Profile{UserID: 7, Intent: enums.IntentOpen}

	svc, _, scheduler, _ := newTestService(t, sessions, profiles)

	if err := svc.Enqueue(context.Background(), 7); err != nil {
		t.Fatalf("enqueue default client: %v", err)
	}
	if got := scheduler.armed(); len(got) != 0 {
		t.Fatalf("default criteria should not arm a fallback, armed %v", got)
	}

	sessions.sessions[8] = model.Session{UserID: 8, State: enums.StateIdle}
	profiles.profiles[8] = model.Profile{UserID: 8, Intent: enums.IntentGames}

	if err := svc.Enqueue(context.Background(), 8); err != nil {
		t.Fatalf("enqueue specific-intent client: %v", err)
	}
	if got := scheduler.armed(); len(got) != 1 || got[0] != "fallback:8" {
		t.Fatalf("expected fallback:8 armed, got %v", got)
	}
}

func TestEnqueueRejectsChattingClient(t *testing.T) {
	sessions := newStubSessions()
	sessions.sessions[5] = model.Session{UserID: 5, State: enums.StateInChat, PartnerID: 6}

	svc, _, _, _ := newTestService(t, sessions, newStubProfiles())

	if err := svc.Enqueue(context.Background(), 5); err != ErrBusy {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestCancelWaitClearsSearchingState(t *testing.T) {
	sessions := newStubSessions()
	sessions.sessions[9] = model.Session{UserID: 9, State: enums.StateWaiting, SearchingMsgID: 42}

	svc, messenger, _, _ := newTestService(t, sessions, newStubProfiles())

	if err := svc.CancelWait(context.Background(), 9); err != nil {
		t.Fatalf("cancel wait: %v", err)
	}
	if len(sessions.cleared) != 1 || sessions.cleared[0] != 9 {
		t.Fatalf("expected session 9 cleared, got %v", sessions.cleared)
	}
	if len(messenger.deleted) != 1 || messenger.deleted[0] != 42 {
		t.Fatalf("expected searching prompt 42 deleted, got %v", messenger.deleted)
	}

	if err := svc.CancelWait(context.Background(), 9); err != ErrNotWaiting {
		t.Fatalf("expected ErrNotWaiting on second cancel, got %v", err)
	}
}

func TestFireFallbackGuardsStaleState(t *testing.T) {
	sessions := newStubSessions()
	sessions.sessions[3] = model.Session{UserID: 3, State: enums.StateIdle}

	svc, messenger, _, _ := newTestService(t, sessions, newStubProfiles())
	svc.fireFallback(3)

	if len(messenger.edits) != 0 {
		t.Fatalf("fallback fired for a client who already left: %v", messenger.edits)
	}
}

func TestFireFallbackEditsSearchingPrompt(t *testing.T) {
	sessions := newStubSessions()
	profiles := newStubProfiles()

	sessions.sessions[3] = model.Session{
		UserID:         3,
		State:          enums.StateWaiting,
		SearchingMsgID: 11,
		Prefs:          model.SearchPrefs{Gender: enums.GenderFemale},
	}
	profiles.profiles[3] = model.Profile{UserID: 3, IsPremium: true, Intent: enums.IntentGames}

	svc, messenger, _, _ := newTestService(t, sessions, profiles)
	svc.fireFallback(3)

	if len(messenger.edits) != 1 {
		t.Fatalf("expected one menu edit, got %d", len(messenger.edits))
	}
}
