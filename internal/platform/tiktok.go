package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/maheshrc27/postflow/internal/failure"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/internal/upload"
)

const tiktokAPIBase = "https://open.tiktokapis.com"

type TikTokConfig struct {
	ClientKey    string
	ClientSecret string
	APIBase      string
	HTTPClient   *http.Client
	Uploader     *upload.Uploader
}

// TikTokAdapter publishes videos through Content Posting with
// PULL_FROM_URL: TikTok downloads the video itself, so UploadMedia only
// records the public URL and Publish waits for the asynchronous publish.
type TikTokAdapter struct {
	api          *apiClient
	base         string
	clientKey    string
	clientSecret string
	poll         upload.PollConfig
}

func NewTikTokAdapter(cfg TikTokConfig) *TikTokAdapter {
	return &TikTokAdapter{
		api:          newAPIClient(TikTok, cfg.HTTPClient, defaultRequestTimeout),
		base:         orDefault(cfg.APIBase, tiktokAPIBase),
		clientKey:    cfg.ClientKey,
		clientSecret: cfg.ClientSecret,
		poll:         pollConfig(cfg.Uploader),
	}
}

func (a *TikTokAdapter) Name() string { return TikTok }

func (a *TikTokAdapter) Capabilities() Capabilities {
	return Capabilities{
		MaxChars:      2200,
		MaxVideos:     1,
		MaxVideoBytes: 4 << 30,
		VideoOnly:     true,
	}
}

func (a *TikTokAdapter) Validate(content string, media []MediaInfo) error {
	return a.Capabilities().Validate(TikTok, content, media)
}

func (a *TikTokAdapter) UploadMedia(_ context.Context, _ *Credentials, m Media) (MediaHandle, error) {
	return urlHandle(TikTok, m, a.Capabilities())
}

func tiktokErr(op string, e transfer.TiktokError) error {
	msg := e.Code
	if e.Message != "" {
		msg += ": " + e.Message
	}
	switch e.Code {
	case "access_token_invalid", "scope_not_authorized":
		return &failure.Error{Platform: TikTok, Op: op, Kind: failure.KindAuth, Message: msg}
	case "rate_limit_exceeded", "spam_risk_too_many_pending_share":
		return &failure.Error{Platform: TikTok, Op: op, Kind: failure.KindRateLimit, Message: msg}
	case "internal_error":
		return &failure.Error{Platform: TikTok, Op: op, Kind: failure.KindTransient, Message: msg}
	}
	return failure.Permanent(TikTok, op, msg)
}

func (a *TikTokAdapter) privacyLevel(ctx context.Context, creds *Credentials) (string, error) {
	var info transfer.TiktokCreatorInfoResponse
	if _, err := a.api.postJSON(ctx, a.base+"/v2/post/publish/creator_info/query/", creds, map[string]any{}, "creator info", &info); err != nil {
		return "", err
	}
	if !info.Error.OK() {
		return "", tiktokErr("creator info", info.Error)
	}
	for _, lvl := range info.Data.PrivacyLevelOptions {
		if lvl == "PUBLIC_TO_EVERYONE" {
			return lvl, nil
		}
	}
	if len(info.Data.PrivacyLevelOptions) > 0 {
		return info.Data.PrivacyLevelOptions[0], nil
	}
	return "SELF_ONLY", nil
}

func (a *TikTokAdapter) Publish(ctx context.Context, creds *Credentials, post Post) (*PublishResult, error) {
	if len(post.Media) != 1 || !post.Media[0].Video {
		return nil, failure.Validation(TikTok, "exactly one video is required")
	}

	privacy, err := a.privacyLevel(ctx, creds)
	if err != nil {
		return nil, err
	}

	req := transfer.VideoUploadRequest{
		PostInfo: transfer.VideoPostInfo{
			Title:                 post.Content,
			PrivacyLevel:          privacy,
			VideoCoverTimestampMs: 1000,
		},
		SourceInfo: transfer.VideoSourceInfo{
			Source:   "PULL_FROM_URL",
			VideoURL: post.Media[0].ID,
		},
	}
	var initResp transfer.TikTokUploadResponse
	if _, err := a.api.postJSON(ctx, a.base+"/v2/post/publish/video/init/", creds, req, "publish init", &initResp); err != nil {
		return nil, err
	}
	if !initResp.Error.OK() {
		return nil, tiktokErr("publish init", initResp.Error)
	}
	publishID := initResp.Data.PublishID
	if publishID == "" {
		return nil, failure.Permanent(TikTok, "publish init", "no publish id returned")
	}

	var final transfer.TiktokPublishStatus
	cfg := a.poll
	cfg.Platform = TikTok
	cfg.Op = "publish status"
	err = upload.Poll(ctx, cfg, func(ctx context.Context) (*upload.Processing, error) {
		var out transfer.TiktokPublishStatusResponse
		payload := map[string]string{"publish_id": publishID}
		if _, err := a.api.postJSON(ctx, a.base+"/v2/post/publish/status/fetch/", creds, payload, "publish status", &out); err != nil {
			return nil, err
		}
		if !out.Error.OK() {
			return nil, tiktokErr("publish status", out.Error)
		}
		final = out.Data
		switch out.Data.Status {
		case "PUBLISH_COMPLETE", "SEND_TO_USER_INBOX":
			return &upload.Processing{State: upload.StateSucceeded}, nil
		case "FAILED":
			return &upload.Processing{State: upload.StateFailed, Error: out.Data.FailReason}, nil
		default:
			return &upload.Processing{State: upload.StateInProgress}, nil
		}
	})
	if err != nil {
		return nil, err
	}

	res := &PublishResult{PlatformPostID: publishID}
	if len(final.PubliclyAvailablePostIDs) > 0 {
		res.PlatformPostID = strconv.FormatInt(final.PubliclyAvailablePostIDs[0], 10)
	}
	return res, nil
}

func (a *TikTokAdapter) RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, failure.Auth(TikTok, "refresh", fmt.Errorf("no refresh token stored"))
	}
	form := url.Values{}
	form.Set("client_key", a.clientKey)
	form.Set("client_secret", a.clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	var out transfer.TiktokTokenResponse
	err := a.api.postForm(ctx, a.base+"/v2/oauth/token/", nil, form, nil, "refresh", &out)
	if err != nil {
		if pe, ok := err.(*failure.Error); ok && pe.Kind == failure.KindPermanent {
			pe.Kind = failure.KindAuth
		}
		return nil, err
	}
	if out.ErrorCode != "" || out.AccessToken == "" {
		return nil, failure.Auth(TikTok, "refresh", fmt.Errorf("%s: %s", out.ErrorCode, out.ErrorDescription))
	}
	return &TokenSet{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresIn:    time.Duration(out.ExpiresIn) * time.Second,
	}, nil
}
