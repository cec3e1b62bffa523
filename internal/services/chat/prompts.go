package chat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nkarpachev/emberchat/backend/internal/domain/enums"
	"github.com/nkarpachev/emberchat/backend/internal/infra/telegram"
)

// Callback payload builders for the menus this service sends. The bot app
// parses them back on the way in.
const (
	FavoriteLaterData = "fav:later"
)

func FavoriteAddData(chatID int64) string {
	return fmt.Sprintf("fav:add:%d", chatID)
}

func FeedbackData(chatID int64, tag enums.FeedbackTag) string {
	return fmt.Sprintf("vibe:%d:%s", chatID, tag)
}

func favoritesPromptTimer(chatID int64) string {
	return fmt.Sprintf("favprompt:%d", chatID)
}

func feedbackTimer(userID, chatID int64) string {
	return fmt.Sprintf("feedback:%d:%d", userID, chatID)
}

func (s *Service) armFavoritesPrompt(chatID int64) {
	s.timers.Schedule(favoritesPromptTimer(chatID), s.favoritesDelay, func() {
		s.fireFavoritesPrompt(chatID)
	})
}

// fireFavoritesPrompt offers both sides the favorites button once the
// conversation has had time to warm up. Fires against live state: if the pair
// already split, nothing is sent.
func (s *Service) fireFavoritesPrompt(chatID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		s.log.Warn("favorites prompt: load chat", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	if chat.EndedAt != nil {
		return
	}

	for _, userID := range []int64{chat.User1ID, chat.User2ID} {
		sess, err := s.sessions.Get(ctx, userID)
		if err != nil || sess.State != enums.StateInChat || sess.ChatID != chatID {
			return
		}
	}

	options := []telegram.MenuOption{
		{Label: "⭐ Add to favorites", Data: FavoriteAddData(chatID)},
		{Label: "⏰ Ask me later", Data: FavoriteLaterData},
	}
	for _, userID := range []int64{chat.User1ID, chat.User2ID} {
		if _, err := s.messenger.PresentMenu(ctx, userID, "Enjoying the conversation? You can keep this connection.", options); err != nil {
			s.log.Debug("send favorites prompt", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
}

func (s *Service) armFeedbackPrompt(userID, chatID int64) {
	s.timers.Schedule(feedbackTimer(userID, chatID), s.feedbackDelay, func() {
		s.fireFeedbackPrompt(userID, chatID)
	})
}

func (s *Service) fireFeedbackPrompt(userID, chatID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	options := []telegram.MenuOption{
		{Label: "🔥 Intense", Data: FeedbackData(chatID, enums.FeedbackIntense)},
		{Label: "🎭 Creative", Data: FeedbackData(chatID, enums.FeedbackCreative)},
		{Label: "😴 Slow", Data: FeedbackData(chatID, enums.FeedbackSlow)},
		{Label: "🚫 Report", Data: FeedbackData(chatID, enums.FeedbackReport)},
	}
	if _, err := s.messenger.PresentMenu(ctx, userID, "How was that last chat? Your anonymous feedback helps improve future matches.", options); err != nil {
		s.log.Debug("send feedback prompt", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// RecordFeedback stores the anonymous after-chat vibe tag for one
// participant.
func (s *Service) RecordFeedback(ctx context.Context, userID, chatID int64, tag enums.FeedbackTag) error {
	if err := s.chats.SetFeedback(ctx, chatID, userID, tag); err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}

	s.log.Info("feedback recorded",
		zap.Int64("chat_id", chatID),
		zap.Int64("user_id", userID),
		zap.String("tag", string(tag)))
	return nil
}
