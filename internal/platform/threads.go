package platform

import (
	"context"
	"net/http"
	"net/url"

	"github.com/maheshrc27/postflow/internal/upload"
)

const threadsGraphBase = "https://graph.threads.net/v1.0"

type ThreadsConfig struct {
	GraphBase  string
	HTTPClient *http.Client
	Uploader   *upload.Uploader
}

type ThreadsAdapter struct {
	api        *apiClient
	containers *containerAPI
	refreshURL string
}

func NewThreadsAdapter(cfg ThreadsConfig) *ThreadsAdapter {
	base := orDefault(cfg.GraphBase, threadsGraphBase)
	api := newGraphClient(Threads, cfg.HTTPClient, defaultRequestTimeout)
	return &ThreadsAdapter{
		api: api,
		containers: &containerAPI{
			platform:     Threads,
			api:          api,
			base:         base,
			createPath:   "threads",
			publishPath:  "threads_publish",
			statusFields: "status,error_message",
			poll:         pollConfig(cfg.Uploader),
		},
		refreshURL: refreshEndpoint(base),
	}
}

func (a *ThreadsAdapter) Name() string { return Threads }

func (a *ThreadsAdapter) Capabilities() Capabilities {
	return Capabilities{
		MaxChars:       500,
		MaxImages:      10,
		MaxVideos:      1,
		MaxImageBytes:  8 << 20,
		MaxVideoBytes:  1 << 30,
		VideoExclusive: true,
	}
}

func (a *ThreadsAdapter) Validate(content string, media []MediaInfo) error {
	return a.Capabilities().Validate(Threads, content, media)
}

func (a *ThreadsAdapter) UploadMedia(_ context.Context, _ *Credentials, m Media) (MediaHandle, error) {
	return urlHandle(Threads, m, a.Capabilities())
}

func threadsItem(h MediaHandle) map[string]any {
	if h.Video {
		return map[string]any{"media_type": "VIDEO", "video_url": h.ID}
	}
	return map[string]any{"media_type": "IMAGE", "image_url": h.ID}
}

func (a *ThreadsAdapter) Publish(ctx context.Context, creds *Credentials, post Post) (*PublishResult, error) {
	var (
		containerID string
		err         error
	)
	switch len(post.Media) {
	case 0:
		containerID, err = a.containers.createReady(ctx, creds, map[string]any{"media_type": "TEXT", "text": post.Content})
	case 1:
		params := threadsItem(post.Media[0])
		params["text"] = post.Content
		containerID, err = a.containers.createReady(ctx, creds, params)
	default:
		containerID, err = a.containers.carousel(ctx, creds, post.Media, threadsItem, map[string]any{"text": post.Content})
	}
	if err != nil {
		return nil, err
	}

	id, err := a.containers.publish(ctx, creds, containerID)
	if err != nil {
		return nil, err
	}
	return &PublishResult{PlatformPostID: id}, nil
}

func (a *ThreadsAdapter) RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	params := url.Values{}
	params.Set("grant_type", "th_refresh_token")
	if refreshToken != "" {
		params.Set("access_token", refreshToken)
	}
	ts, err := a.api.refreshViaGET(ctx, a.refreshURL, params)
	if err != nil {
		return nil, err
	}
	ts.RefreshToken = ts.AccessToken
	return ts, nil
}
