package platform

import (
	"context"
	"net/http"
	"net/url"

	"github.com/maheshrc27/postflow/internal/upload"
)

const instagramGraphBase = "https://graph.instagram.com/v21.0"

type InstagramConfig struct {
	GraphBase  string
	HTTPClient *http.Client
	Uploader   *upload.Uploader
}

type InstagramAdapter struct {
	api        *apiClient
	containers *containerAPI
	refreshURL string
}

func NewInstagramAdapter(cfg InstagramConfig) *InstagramAdapter {
	base := orDefault(cfg.GraphBase, instagramGraphBase)
	api := newGraphClient(Instagram, cfg.HTTPClient, defaultRequestTimeout)
	return &InstagramAdapter{
		api: api,
		containers: &containerAPI{
			platform:     Instagram,
			api:          api,
			base:         base,
			createPath:   "media",
			publishPath:  "media_publish",
			statusFields: "status_code",
			poll:         pollConfig(cfg.Uploader),
		},
		refreshURL: refreshEndpoint(base),
	}
}

// refreshEndpoint strips the API version from a graph base url; the token
// refresh endpoints are unversioned.
func refreshEndpoint(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "/refresh_access_token"
	}
	u.Path = "/refresh_access_token"
	return u.String()
}

func (a *InstagramAdapter) Name() string { return Instagram }

func (a *InstagramAdapter) Capabilities() Capabilities {
	return Capabilities{
		MaxChars:       2200,
		MaxImages:      10,
		MaxVideos:      1,
		MaxImageBytes:  8 << 20,
		MaxVideoBytes:  1 << 30,
		VideoExclusive: true,
		RequiresMedia:  true,
	}
}

func (a *InstagramAdapter) Validate(content string, media []MediaInfo) error {
	return a.Capabilities().Validate(Instagram, content, media)
}

func (a *InstagramAdapter) UploadMedia(_ context.Context, _ *Credentials, m Media) (MediaHandle, error) {
	return urlHandle(Instagram, m, a.Capabilities())
}

func instagramItem(h MediaHandle) map[string]any {
	if h.Video {
		return map[string]any{"media_type": "VIDEO", "video_url": h.ID}
	}
	return map[string]any{"image_url": h.ID}
}

func (a *InstagramAdapter) Publish(ctx context.Context, creds *Credentials, post Post) (*PublishResult, error) {
	var (
		containerID string
		err         error
	)
	if len(post.Media) == 1 {
		params := instagramItem(post.Media[0])
		if post.Media[0].Video {
			params["media_type"] = "REELS"
		}
		params["caption"] = post.Content
		containerID, err = a.containers.createReady(ctx, creds, params)
	} else {
		containerID, err = a.containers.carousel(ctx, creds, post.Media, instagramItem, map[string]any{"caption": post.Content})
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

func (a *InstagramAdapter) RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	params := url.Values{}
	params.Set("grant_type", "ig_refresh_token")
	if refreshToken != "" {
		params.Set("access_token", refreshToken)
	}
	ts, err := a.api.refreshViaGET(ctx, a.refreshURL, params)
	if err != nil {
		return nil, err
	}
	// long-lived Instagram tokens refresh themselves
	ts.RefreshToken = ts.AccessToken
	return ts, nil
}
