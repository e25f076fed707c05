package service

import (
	"time"

	"github.com/maheshrc27/postflow/internal/platform"
)

// GetExpiresAt converts a token lifetime into an absolute expiry. A zero
// lifetime yields the zero time.
func GetExpiresAt(now time.Time, ts *platform.TokenSet) time.Time {
	if ts == nil || ts.ExpiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(ts.ExpiresIn)
}
