package chat

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nkarpachev/emberchat/backend/internal/domain/enums"
	redisrepo "github.com/nkarpachev/emberchat/backend/internal/repo/redis"
)

// RelayInbound forwards one message to the sender's partner. A reply is
// threaded by translating the quoted message id through the relay map; an
// unknown id degrades to an unthreaded copy. Delivery failure ends the
// conversation on the spot.
func (s *Service) RelayInbound(ctx context.Context, userID, messageID, replyToMsgID int64) error {
	sess, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess.State != enums.StateInChat || sess.PartnerID == 0 {
		return ErrNotInChat
	}

	var mappedReply int64
	if replyToMsgID != 0 {
		mappedReply, err = s.relay.Resolve(ctx, sess.ChatID, userID, replyToMsgID)
		if err != nil {
			if !errors.Is(err, redisrepo.ErrMappingNotFound) {
				s.log.Warn("resolve reply target", zap.Int64("chat_id", sess.ChatID), zap.Error(err))
			}
			mappedReply = 0
		}
	}

	deliveredID, err := s.messenger.Deliver(ctx, sess.PartnerID, userID, messageID, mappedReply)
	if err != nil {
		s.log.Error("deliver relayed message",
			zap.Int64("user_id", userID),
			zap.Int64("partner_id", sess.PartnerID),
			zap.Error(err))

		if _, nerr := s.messenger.Notify(ctx, userID, "🔴 Could not deliver the message. Your partner may have disconnected."); nerr != nil {
			s.log.Debug("notify sender of delivery failure", zap.Int64("user_id", userID), zap.Error(nerr))
		}
		if _, _, _, eerr := s.End(ctx, userID); eerr != nil {
			s.log.Error("end chat after delivery failure", zap.Int64("user_id", userID), zap.Error(eerr))
		}
		return fmt.Errorf("deliver message: %w", err)
	}

	if err := s.relay.Map(ctx, sess.ChatID, userID, messageID, sess.PartnerID, deliveredID); err != nil {
		// The copy already reached the partner; only reply threading for
		// this message is lost.
		s.log.Warn("record relay mapping", zap.Int64("chat_id", sess.ChatID), zap.Error(err))
	}

	return nil
}
