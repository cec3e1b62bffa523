package model

import (
	"time"

	"github.com/nkarpachev/emberchat/backend/internal/domain/enums"
)

// SearchPrefs are the active gender/language filters for a searching client.
// Zero values mean "any".
type SearchPrefs struct {
	Gender   enums.Gender `json:"gender"`
	Language string       `json:"language"`
}

func (p SearchPrefs) GenderFilter() enums.Gender {
	if p.Gender == "" {
		return enums.GenderAny
	}
	return p.Gender
}

func (p SearchPrefs) LanguageFilter() string {
	if p.Language == "" {
		return "any"
	}
	return p.Language
}

func (p SearchPrefs) Default() bool {
	return p.GenderFilter() == enums.GenderAny && p.LanguageFilter() == "any"
}

// Session is one client's lifecycle record. PartnerID and ChatID are non-zero
// if and only if State is in_chat, and paired sessions reference each other.
type Session struct {
	UserID         int64           `json:"user_id"`
	State          enums.ChatState `json:"state"`
	PartnerID      int64           `json:"partner_id"`
	ChatID         int64           `json:"chat_id"`
	Prefs          SearchPrefs     `json:"prefs"`
	OrigPrefs      SearchPrefs     `json:"orig_prefs"`
	SearchingMsgID int64           `json:"searching_msg_id"`
	PinnedMsgID    int64           `json:"pinned_msg_id"`
	ChatStartedAt  *time.Time      `json:"chat_started_at"`
}
