package model

import (
	"time"

	"github.com/nkarpachev/emberchat/backend/internal/domain/enums"
)

// ChatSession is the history record of one conversation. Exactly one open
// record (EndedAt nil) exists per active pairing.
type ChatSession struct {
	ChatID        int64             `json:"chat_id"`
	User1ID       int64             `json:"user1_id"`
	User2ID       int64             `json:"user2_id"`
	StartedAt     time.Time         `json:"started_at"`
	EndedAt       *time.Time        `json:"ended_at"`
	User1Favorite bool              `json:"user1_favorite"`
	User2Favorite bool              `json:"user2_favorite"`
	User1Feedback enums.FeedbackTag `json:"user1_feedback"`
	User2Feedback enums.FeedbackTag `json:"user2_feedback"`
}

func (c ChatSession) PeerOf(userID int64) int64 {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}
