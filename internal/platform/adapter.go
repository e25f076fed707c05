// Package platform holds one adapter per social network. Every adapter
// exposes the same capability set so the dispatcher never branches on the
// platform name.
package platform

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/maheshrc27/postflow/internal/failure"
)

const (
	Twitter   = "twitter"
	LinkedIn  = "linkedin"
	Facebook  = "facebook"
	Instagram = "instagram"
	Threads   = "threads"
	TikTok    = "tiktok"
	YouTube   = "youtube"
)

// Credentials are the decrypted secrets of one connected account.
type Credentials struct {
	AccountID        string // platform user / page id
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	OAuthToken       string
	OAuthTokenSecret string
}

// NeedsRefresh reports whether the stored expiry is within skew of now.
func (c *Credentials) NeedsRefresh(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt.IsZero() || c.RefreshToken == "" {
		return false
	}
	return !c.ExpiresAt.After(now.Add(skew))
}

// TokenSet is the result of a refresh-token exchange.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

type MediaInfo struct {
	MimeType string
	Size     int64
}

func (m MediaInfo) IsVideo() bool { return strings.HasPrefix(m.MimeType, "video/") }
func (m MediaInfo) IsImage() bool { return strings.HasPrefix(m.MimeType, "image/") }

// Media is one attachment ready for upload. URL is the public location of
// the same bytes, used by platforms that pull media themselves.
type Media struct {
	MediaInfo
	URL    string
	Reader io.Reader
}

// MediaHandle is the opaque reference returned by UploadMedia.
type MediaHandle struct {
	ID    string
	Video bool
}

type PublishResult struct {
	PlatformPostID string
	URL            string
}

type Capabilities struct {
	MaxChars       int
	MaxImages      int
	MaxVideos      int
	MaxImageBytes  int64
	MaxVideoBytes  int64
	VideoExclusive bool // a video cannot share the post with other attachments
	RequiresMedia  bool
	VideoOnly      bool
}

// Validate enforces the capability limits without any network call.
func (c Capabilities) Validate(name, content string, media []MediaInfo) error {
	if n := utf8.RuneCountInString(content); c.MaxChars > 0 && n > c.MaxChars {
		return failure.Validation(name, fmt.Sprintf("content is %d characters, limit is %d", n, c.MaxChars))
	}
	if c.RequiresMedia && len(media) == 0 {
		return failure.Validation(name, "at least one media attachment is required")
	}
	if !c.RequiresMedia && !c.VideoOnly && len(media) == 0 && strings.TrimSpace(content) == "" {
		return failure.Validation(name, "post has neither text nor media")
	}

	var images, videos int
	for _, m := range media {
		switch {
		case m.IsVideo():
			videos++
			if c.MaxVideoBytes > 0 && m.Size > c.MaxVideoBytes {
				return failure.Validation(name, fmt.Sprintf("video is %d bytes, limit is %d", m.Size, c.MaxVideoBytes))
			}
		case m.IsImage():
			images++
			if c.MaxImageBytes > 0 && m.Size > c.MaxImageBytes {
				return failure.Validation(name, fmt.Sprintf("image is %d bytes, limit is %d", m.Size, c.MaxImageBytes))
			}
		default:
			return failure.Validation(name, fmt.Sprintf("unsupported media type %q", m.MimeType))
		}
		if m.Size <= 0 {
			return failure.Validation(name, "media attachment is empty")
		}
	}

	if c.VideoOnly && (videos != 1 || images > 0) {
		return failure.Validation(name, "exactly one video is required")
	}
	if images > c.MaxImages {
		return failure.Validation(name, fmt.Sprintf("%d images attached, limit is %d", images, c.MaxImages))
	}
	if videos > c.MaxVideos {
		return failure.Validation(name, fmt.Sprintf("%d videos attached, limit is %d", videos, c.MaxVideos))
	}
	if c.VideoExclusive && videos > 0 && len(media) > 1 {
		return failure.Validation(name, "a video cannot be combined with other attachments")
	}
	return nil
}

// Adapter is implemented once per platform.
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	Validate(content string, media []MediaInfo) error
	UploadMedia(ctx context.Context, creds *Credentials, m Media) (MediaHandle, error)
	Publish(ctx context.Context, creds *Credentials, post Post) (*PublishResult, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error)
}

// Post is the platform-neutral publish request.
type Post struct {
	Content string
	Title   string
	Media   []MediaHandle
}

type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, failure.Permanent(name, "lookup", "no adapter registered for platform")
	}
	return a, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
