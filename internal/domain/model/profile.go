package model

import (
	"time"

	"github.com/nkarpachev/emberchat/backend/internal/domain/enums"
)

type Profile struct {
	UserID      int64        `json:"user_id"`
	DisplayName string       `json:"display_name"`
	Gender      enums.Gender `json:"gender"`
	Age         int          `json:"age"`
	Languages   []string     `json:"languages"`
	Intent      enums.Intent `json:"intent"`
	StyleTags   []string     `json:"style_tags"`
	IsPremium   bool         `json:"is_premium"`
	ShowActive  bool         `json:"show_active"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Snapshot is the frozen profile view stored with a Connection. Reconnects
// present this remembered persona, not the live profile.
type Snapshot struct {
	DisplayName string       `json:"display_name"`
	Gender      enums.Gender `json:"gender"`
	Age         int          `json:"age"`
	Languages   []string     `json:"languages"`
	Intent      enums.Intent `json:"intent"`
	StyleTags   []string     `json:"style_tags"`
}

func (p Profile) Snapshot() Snapshot {
	return Snapshot{
		DisplayName: p.DisplayName,
		Gender:      p.Gender,
		Age:         p.Age,
		Languages:   p.Languages,
		Intent:      p.Intent,
		StyleTags:   p.StyleTags,
	}
}
