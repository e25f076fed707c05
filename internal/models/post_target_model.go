package models

import "time"

// PostTarget is the delivery of one post to one social account.
type PostTarget struct {
	ID              int64      `db:"id" json:"id"`
	PostID          int64      `db:"post_id" json:"post_id"`
	SocialAccountID int64      `db:"social_account_id" json:"social_account_id"`
	Platform        string     `db:"platform" json:"platform"`
	Status          string     `db:"status" json:"status"`
	PlatformPostID  string     `db:"platform_post_id" json:"platform_post_id,omitempty"`
	PostURL         string     `db:"post_url" json:"post_url,omitempty"`
	PublishedAt     *time.Time `db:"published_at" json:"published_at,omitempty"`
	ErrorMessage    string     `db:"error_message" json:"error_message,omitempty"`
	Attempts        int        `db:"attempts" json:"attempts"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

const (
	TargetStatusPending    = "pending"
	TargetStatusPublishing = "publishing"
	TargetStatusPublished  = "published"
	TargetStatusFailed     = "failed"
)

// TargetOutcome carries the optional fields written with a status change.
type TargetOutcome struct {
	PlatformPostID string
	PostURL        string
	PublishedAt    *time.Time
	ErrorMessage   string
}

func IsTerminalTarget(status string) bool {
	return status == TargetStatusPublished || status == TargetStatusFailed
}
