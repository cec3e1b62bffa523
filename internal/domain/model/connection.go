package model

import "time"

// Connection is a durable, mutually consented pairing. The pair is stored
// normalized (User1ID < User2ID) and unique per unordered pair.
type Connection struct {
	ID            int64     `json:"connection_id"`
	User1ID       int64     `json:"user1_id"`
	User2ID       int64     `json:"user2_id"`
	User1Snapshot Snapshot  `json:"user1_snapshot"`
	User2Snapshot Snapshot  `json:"user2_snapshot"`
	CreatedAt     time.Time `json:"created_at"`
}

func (c Connection) PeerOf(userID int64) int64 {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

func (c Connection) PeerSnapshot(userID int64) Snapshot {
	if c.User1ID == userID {
		return c.User2Snapshot
	}
	return c.User1Snapshot
}
