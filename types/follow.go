package types

import "time"

// Follow is a directed edge from FollowerID to FollowedID.
type Follow struct {
	FollowerID string    `json:"follower_id" db:"follower_id"`
	FollowedID string    `json:"followed_id" db:"followed_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
