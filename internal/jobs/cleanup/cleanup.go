package cleanup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nkarpachev/emberchat/backend/internal/domain/rules"
)

type inviteSweeper interface {
	DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error)
}

type chatSweeper interface {
	CloseDangling(ctx context.Context, olderThan time.Time) (int64, error)
}

// Job is the periodic hygiene sweep: expired invite tokens go away, and
// history rows left open by a crash get an end stamp once neither
// participant is in that chat anymore.
type Job struct {
	invites        inviteSweeper
	chats          chatSweeper
	inviteTTL      time.Duration
	danglingCutoff time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

func New(invites inviteSweeper, chats chatSweeper, inviteTTL time.Duration, logger *zap.Logger) *Job {
	if inviteTTL <= 0 {
		inviteTTL = rules.InviteTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		invites:        invites,
		chats:          chats,
		inviteTTL:      inviteTTL,
		danglingCutoff: time.Hour,
		now:            time.Now,
		logger:         logger,
	}
}

func (j *Job) Run(ctx context.Context) error {
	if j.invites != nil {
		cutoff := j.now().Add(-j.inviteTTL)
		removed, err := j.invites.DeleteExpired(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("sweep expired invites: %w", err)
		}
		if removed > 0 {
			j.logger.Info("expired invites removed", zap.Int64("removed", removed))
		}
	}

	if j.chats != nil {
		cutoff := j.now().Add(-j.danglingCutoff)
		closed, err := j.chats.CloseDangling(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("close dangling chats: %w", err)
		}
		if closed > 0 {
			j.logger.Info("dangling chat records closed", zap.Int64("closed", closed))
		}
	}

	return nil
}

// RunPeriodically blocks, running the sweep on every tick until the context
// is cancelled.
func (j *Job) RunPeriodically(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup sweep failed", zap.Error(err))
			}
		}
	}
}
