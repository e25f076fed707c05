package platform

import (
	"strings"
	"testing"
	"time"

	"github.com/maheshrc27/postflow/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func image(size int64) MediaInfo { return MediaInfo{MimeType: "image/jpeg", Size: size} }
func video(size int64) MediaInfo { return MediaInfo{MimeType: "video/mp4", Size: size} }

func images(n int) []MediaInfo {
	out := make([]MediaInfo, n)
	for i := range out {
		out[i] = image(1024)
	}
	return out
}

func TestCapabilitiesValidate(t *testing.T) {
	tw := NewTwitterAdapter(TwitterConfig{})
	ig := NewInstagramAdapter(InstagramConfig{})
	th := NewThreadsAdapter(ThreadsConfig{})
	tt := NewTikTokAdapter(TikTokConfig{})
	yt := NewYouTubeAdapter(YouTubeConfig{})
	li := NewLinkedInAdapter(LinkedInConfig{})
	fb := NewFacebookAdapter(FacebookConfig{})

	tests := []struct {
		name    string
		adapter Adapter
		content string
		media   []MediaInfo
		wantErr bool
	}{
		{"twitter text", tw, "hello", nil, false},
		{"twitter 280 chars", tw, strings.Repeat("a", 280), nil, false},
		{"twitter 281 chars", tw, strings.Repeat("a", 281), nil, true},
		{"twitter multibyte counted as runes", tw, strings.Repeat("é", 280), nil, false},
		{"twitter four images", tw, "x", images(4), false},
		{"twitter five images", tw, "x", images(5), true},
		{"twitter video with image", tw, "x", []MediaInfo{video(1024), image(1024)}, true},
		{"twitter oversized image", tw, "x", []MediaInfo{image(6 << 20)}, true},
		{"twitter empty post", tw, "  ", nil, true},
		{"twitter unsupported type", tw, "x", []MediaInfo{{MimeType: "application/pdf", Size: 10}}, true},
		{"instagram requires media", ig, "caption", nil, true},
		{"instagram carousel", ig, "caption", images(10), false},
		{"instagram eleven images", ig, "caption", images(11), true},
		{"threads text only", th, "hi", nil, false},
		{"threads 501 chars", th, strings.Repeat("a", 501), nil, true},
		{"tiktok video", tt, "caption", []MediaInfo{video(1 << 20)}, false},
		{"tiktok image", tt, "caption", images(1), true},
		{"tiktok no media", tt, "caption", nil, true},
		{"youtube video", yt, "desc", []MediaInfo{video(1 << 20)}, false},
		{"youtube two videos", yt, "desc", []MediaInfo{video(1 << 20), video(1 << 20)}, true},
		{"linkedin twenty images", li, "x", images(20), false},
		{"linkedin 3001 chars", li, strings.Repeat("a", 3001), nil, true},
		{"facebook long text", fb, strings.Repeat("a", 63206), nil, false},
		{"facebook zero-byte image", fb, "x", []MediaInfo{image(0)}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.adapter.Validate(tc.content, tc.media)
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, failure.KindValidation, failure.KindOf(err))
			assert.False(t, failure.IsRetryable(err))
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewTwitterAdapter(TwitterConfig{}), NewTikTokAdapter(TikTokConfig{}))

	a, err := r.Get(Twitter)
	require.NoError(t, err)
	assert.Equal(t, Twitter, a.Name())

	_, err = r.Get("myspace")
	require.Error(t, err)
	assert.Equal(t, failure.KindPermanent, failure.KindOf(err))

	assert.Equal(t, []string{TikTok, Twitter}, r.Names())
}

func TestCredentialsNeedsRefresh(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	c := &Credentials{RefreshToken: "r", ExpiresAt: now.Add(4 * time.Minute)}
	assert.True(t, c.NeedsRefresh(now, 5*time.Minute))

	c.ExpiresAt = now.Add(time.Hour)
	assert.False(t, c.NeedsRefresh(now, 5*time.Minute))

	c.ExpiresAt = time.Time{}
	assert.False(t, c.NeedsRefresh(now, 5*time.Minute))
}

func TestVideoTitle(t *testing.T) {
	assert.Equal(t, "Explicit", videoTitle(Post{Title: "Explicit", Content: "body"}))
	assert.Equal(t, "First line", videoTitle(Post{Content: "First line\nsecond"}))
	assert.Equal(t, youtubeUploadTitle, videoTitle(Post{}))
	assert.Len(t, []rune(videoTitle(Post{Title: strings.Repeat("ü", 150)})), youtubeMaxTitle)
}
