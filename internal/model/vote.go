package model

import "time"

// Vote is the fact that a user chose one option of a poll. A (PollID, UserID)
// pair exists at most once.
type Vote struct {
	PollID    string    `json:"poll_id"`
	UserID    string    `json:"user_id"`
	OptionID  string    `json:"option_id"`
	Timestamp time.Time `json:"timestamp"`
}

// VoteReceipt is returned to the caller of an applied vote.
type VoteReceipt struct {
	PollID    string    `json:"poll_id"`
	UserID    string    `json:"user_id"`
	OptionID  string    `json:"poll_option_id"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at"`
}
