package model

import "time"

// Invite is a single-use direct-connect token. It is consumed on redemption,
// explicit cancellation, or the first expiry check after its TTL.
type Invite struct {
	Token      string    `json:"token"`
	HostUserID int64     `json:"host_user_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func (i Invite) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(i.CreatedAt) > ttl
}
