package models

import (
	"fmt"
	"time"
)

// PublishJob is the queue payload for one post target.
type PublishJob struct {
	PostID    int64      `json:"postId"`
	TargetID  int64      `json:"targetId"`
	AccountID int64      `json:"accountId"`
	Content   string     `json:"content"`
	Title     string     `json:"title,omitempty"`
	Media     []MediaRef `json:"media"`
	NotBefore *time.Time `json:"notBefore,omitempty"`
}

type MediaRef struct {
	AssetID  int64  `json:"assetId"`
	Key      string `json:"key"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// Identity is the queue deduplication key of the job.
func (j PublishJob) Identity() string {
	return fmt.Sprintf("post-%d-%d", j.PostID, j.TargetID)
}
