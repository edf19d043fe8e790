package model

import "time"

// FriendEdge is one direction of a friendship. A friendship between A and B
// exists iff both (A,B) and (B,A) rows exist; the reconciler repairs pairs
// where only one row made it.
type FriendEdge struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID   string    `gorm:"uniqueIndex:idx_friend_edge;size:36;not null" json:"owner_id"`
	PeerID    string    `gorm:"uniqueIndex:idx_friend_edge;size:36;not null" json:"peer_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// FriendRequest is a pending, directed friend request stored against the
// recipient. At most one row per (recipient, requester) pair.
type FriendRequest struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RecipientID string    `gorm:"uniqueIndex:idx_friend_request;size:36;not null" json:"recipient_id"`
	RequesterID string    `gorm:"uniqueIndex:idx_friend_request;size:36;not null" json:"requester_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
