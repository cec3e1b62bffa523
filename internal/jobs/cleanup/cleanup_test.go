package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeInviteSweeper struct {
	cutoff  time.Time
	removed int64
	err     error
}

func (f *fakeInviteSweeper) DeleteExpired(_ context.Context, olderThan time.Time) (int64, error) {
	f.cutoff = olderThan
	return f.removed, f.err
}

type fakeChatSweeper struct {
	cutoff time.Time
	closed int64
	err    error
}

func (f *fakeChatSweeper) CloseDangling(_ context.Context, olderThan time.Time) (int64, error) {
	f.cutoff = olderThan
	return f.closed, f.err
}

func TestRunSweepsWithExpectedCutoffs(t *testing.T) {
	invites := &fakeInviteSweeper{removed: 3}
	chats := &fakeChatSweeper{closed: 1}

	job := New(invites, chats, 5*time.Minute, zap.NewNop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if want := now.Add(-5 * time.Minute); !invites.cutoff.Equal(want) {
		t.Fatalf("invite cutoff %s, want %s", invites.cutoff, want)
	}
	if want := now.Add(-time.Hour); !chats.cutoff.Equal(want) {
		t.Fatalf("dangling cutoff %s, want %s", chats.cutoff, want)
	}
}

func TestRunSurfacesSweepErrors(t *testing.T) {
	sweepErr := errors.New("db gone")

	job := New(&fakeInviteSweeper{err: sweepErr}, &fakeChatSweeper{}, time.Minute, zap.NewNop())
	if err := job.Run(context.Background()); !errors.Is(err, sweepErr) {
		t.Fatalf("expected sweep error, got %v", err)
	}
}

func TestRunToleratesMissingSweepers(t *testing.T) {
	job := New(nil, nil, time.Minute, nil)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run with no sweepers: %v", err)
	}
}

func TestRunPeriodicallyStopsOnCancel(t *testing.T) {
	job := New(&fakeInviteSweeper{}, &fakeChatSweeper{}, time.Minute, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.RunPeriodically(ctx, time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("periodic sweep did not stop on cancel")
	}
}
