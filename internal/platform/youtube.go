package platform

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/maheshrc27/postflow/internal/failure"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	youtubeChunkSize   = 8 << 20
	youtubeMaxTitle    = 100
	youtubeUploadTitle = "Scheduled upload"
	youtubeCategory    = "22"
)

type YouTubeConfig struct {
	ClientID     string
	ClientSecret string
	// Endpoint overrides the API base url.
	Endpoint   string
	TokenURL   string
	HTTPClient *http.Client
	ChunkSize  int
}

// YouTubeAdapter uploads the video as private during UploadMedia and makes
// it public with the post's title and description on Publish.
type YouTubeAdapter struct {
	oauth     *oauth2.Config
	hc        *http.Client
	endpoint  string
	chunkSize int
}

func NewYouTubeAdapter(cfg YouTubeConfig) *YouTubeAdapter {
	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint = oauth2.Endpoint{TokenURL: cfg.TokenURL}
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultUploadTimeout}
	}
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = youtubeChunkSize
	}
	return &YouTubeAdapter{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       []string{youtube.YoutubeUploadScope},
			Endpoint:     endpoint,
		},
		hc:        hc,
		endpoint:  cfg.Endpoint,
		chunkSize: chunk,
	}
}

func (a *YouTubeAdapter) Name() string { return YouTube }

func (a *YouTubeAdapter) Capabilities() Capabilities {
	return Capabilities{
		MaxChars:      5000,
		MaxVideos:     1,
		MaxVideoBytes: 256 << 30,
		VideoOnly:     true,
	}
}

func (a *YouTubeAdapter) Validate(content string, media []MediaInfo) error {
	return a.Capabilities().Validate(YouTube, content, media)
}

func (a *YouTubeAdapter) service(ctx context.Context, creds *Credentials) (*youtube.Service, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.hc)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: creds.AccessToken,
		TokenType:   "Bearer",
	}))
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, failure.Permanent(YouTube, "client", err.Error())
	}
	return svc, nil
}

func (a *YouTubeAdapter) UploadMedia(ctx context.Context, creds *Credentials, m Media) (MediaHandle, error) {
	if !m.IsVideo() {
		return MediaHandle{}, failure.Validation(YouTube, "only video uploads are supported")
	}
	if m.Size <= 0 {
		return MediaHandle{}, failure.Validation(YouTube, "media is empty")
	}
	if m.Size > a.Capabilities().MaxVideoBytes {
		return MediaHandle{}, failure.Validation(YouTube, "video exceeds the upload limit")
	}

	svc, err := a.service(ctx, creds)
	if err != nil {
		return MediaHandle{}, err
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{Title: youtubeUploadTitle, CategoryId: youtubeCategory},
		Status:  &youtube.VideoStatus{PrivacyStatus: "private"},
	}
	resp, err := svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(io.LimitReader(m.Reader, m.Size), googleapi.ChunkSize(a.chunkSize), googleapi.ContentType(m.MimeType)).
		Context(ctx).
		Do()
	if err != nil {
		return MediaHandle{}, classifyGoogle("upload", err)
	}
	return MediaHandle{ID: resp.Id, Video: true}, nil
}

func (a *YouTubeAdapter) Publish(ctx context.Context, creds *Credentials, post Post) (*PublishResult, error) {
	if len(post.Media) != 1 || !post.Media[0].Video {
		return nil, failure.Validation(YouTube, "exactly one video is required")
	}
	svc, err := a.service(ctx, creds)
	if err != nil {
		return nil, err
	}

	id := post.Media[0].ID
	video := &youtube.Video{
		Id: id,
		Snippet: &youtube.VideoSnippet{
			Title:       videoTitle(post),
			Description: post.Content,
			CategoryId:  youtubeCategory,
		},
		Status: &youtube.VideoStatus{PrivacyStatus: "public"},
	}
	if _, err := svc.Videos.Update([]string{"snippet", "status"}, video).Context(ctx).Do(); err != nil {
		return nil, classifyGoogle("publish", err)
	}
	return &PublishResult{PlatformPostID: id, URL: "https://youtu.be/" + id}, nil
}

func (a *YouTubeAdapter) RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	return refreshOAuth2(ctx, YouTube, a.oauth, a.hc, refreshToken)
}

// videoTitle falls back to the first line of the caption when the post has
// no explicit title.
func videoTitle(post Post) string {
	title := strings.TrimSpace(post.Title)
	if title == "" {
		title, _, _ = strings.Cut(strings.TrimSpace(post.Content), "\n")
	}
	if title == "" {
		return youtubeUploadTitle
	}
	if utf8.RuneCountInString(title) > youtubeMaxTitle {
		title = string([]rune(title)[:youtubeMaxTitle])
	}
	return title
}

func classifyGoogle(op string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return failure.Transient(YouTube, op, err)
	}

	e := &failure.Error{Platform: YouTube, Op: op, StatusCode: gerr.Code, Message: gerr.Message, Err: err}
	switch {
	case gerr.Code == http.StatusUnauthorized:
		e.Kind = failure.KindAuth
	case gerr.Code == http.StatusTooManyRequests:
		e.Kind = failure.KindRateLimit
	case gerr.Code == http.StatusForbidden && googleQuotaError(gerr):
		e.Kind = failure.KindRateLimit
	case gerr.Code == http.StatusRequestTimeout || gerr.Code >= 500:
		e.Kind = failure.KindTransient
	default:
		e.Kind = failure.KindPermanent
	}
	return e
}

func googleQuotaError(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "quotaExceeded", "rateLimitExceeded", "userRateLimitExceeded", "uploadLimitExceeded":
			return true
		}
	}
	return false
}
