package platform

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/maheshrc27/postflow/internal/failure"
	"github.com/maheshrc27/postflow/internal/upload"
	"golang.org/x/oauth2"
)

const (
	twitterAPIBase    = "https://api.twitter.com"
	twitterUploadBase = "https://upload.twitter.com"
	twitterTokenURL   = "https://api.twitter.com/2/oauth2/token"
)

type TwitterConfig struct {
	ClientID       string
	ClientSecret   string
	ConsumerKey    string
	ConsumerSecret string
	APIBase        string
	UploadBase     string
	TokenURL       string
	HTTPClient     *http.Client
	Uploader       *upload.Uploader
}

type TwitterAdapter struct {
	api      *apiClient
	uploads  *apiClient
	signer   *OAuth1Signer
	oauth    *oauth2.Config
	hc       *http.Client
	apiBase  string
	upBase   string
	uploader *upload.Uploader
}

func NewTwitterAdapter(cfg TwitterConfig) *TwitterAdapter {
	a := &TwitterAdapter{
		api:      newAPIClient(Twitter, cfg.HTTPClient, defaultRequestTimeout),
		uploads:  newAPIClient(Twitter, cfg.HTTPClient, defaultUploadTimeout),
		hc:       cfg.HTTPClient,
		apiBase:  orDefault(cfg.APIBase, twitterAPIBase),
		upBase:   orDefault(cfg.UploadBase, twitterUploadBase),
		uploader: cfg.Uploader,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  orDefault(cfg.TokenURL, twitterTokenURL),
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
	}
	if cfg.ConsumerKey != "" && cfg.ConsumerSecret != "" {
		a.signer = NewOAuth1Signer(cfg.ConsumerKey, cfg.ConsumerSecret)
	}
	if a.uploader == nil {
		a.uploader = upload.New(Twitter)
	}
	return a
}

func (a *TwitterAdapter) Name() string { return Twitter }

func (a *TwitterAdapter) Capabilities() Capabilities {
	return Capabilities{
		MaxChars:       280,
		MaxImages:      4,
		MaxVideos:      1,
		MaxImageBytes:  5 << 20,
		MaxVideoBytes:  512 << 20,
		VideoExclusive: true,
	}
}

func (a *TwitterAdapter) Validate(content string, media []MediaInfo) error {
	return a.Capabilities().Validate(Twitter, content, media)
}

// uploadAuth signs media requests with OAuth 1.0a when the account carries
// user-context secrets, falling back to the OAuth2 bearer token.
func (a *TwitterAdapter) uploadAuth(creds *Credentials) RequestAuthorizer {
	if a.signer != nil && creds.OAuthToken != "" && creds.OAuthTokenSecret != "" {
		return a.signer
	}
	return BearerAuth{}
}

func (a *TwitterAdapter) UploadMedia(ctx context.Context, creds *Credentials, m Media) (MediaHandle, error) {
	category := "tweet_image"
	limit := a.Capabilities().MaxImageBytes
	if m.IsVideo() {
		category = "tweet_video"
		limit = a.Capabilities().MaxVideoBytes
	}

	sess := &twitterSession{
		adapter:  a,
		creds:    creds,
		auth:     a.uploadAuth(creds),
		category: category,
	}
	id, err := a.uploader.Run(ctx, sess, m.Reader, m.Size, m.MimeType, limit)
	if err != nil {
		return MediaHandle{}, err
	}
	return MediaHandle{ID: id, Video: m.IsVideo()}, nil
}

func (a *TwitterAdapter) Publish(ctx context.Context, creds *Credentials, post Post) (*PublishResult, error) {
	payload := map[string]any{"text": post.Content}
	if len(post.Media) > 0 {
		ids := make([]string, 0, len(post.Media))
		for _, h := range post.Media {
			ids = append(ids, h.ID)
		}
		payload["media"] = map[string]any{"media_ids": ids}
	}

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if _, err := a.api.postJSON(ctx, a.apiBase+"/2/tweets", creds, payload, "publish", &result); err != nil {
		return nil, err
	}
	if result.Data.ID == "" {
		return nil, failure.Permanent(Twitter, "publish", "no tweet id returned")
	}
	return &PublishResult{
		PlatformPostID: result.Data.ID,
		URL:            "https://x.com/i/web/status/" + result.Data.ID,
	}, nil
}

func (a *TwitterAdapter) RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	return refreshOAuth2(ctx, Twitter, a.oauth, a.hc, refreshToken)
}

type twitterProcessingInfo struct {
	State          string `json:"state"`
	CheckAfterSecs int    `json:"check_after_secs"`
	Error          struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *twitterProcessingInfo) toProcessing() *upload.Processing {
	if p == nil {
		return nil
	}
	return &upload.Processing{
		State:      upload.State(p.State),
		CheckAfter: time.Duration(p.CheckAfterSecs) * time.Second,
		Error:      p.Error.Message,
	}
}

type twitterMediaResponse struct {
	MediaIDString  string                 `json:"media_id_string"`
	ProcessingInfo *twitterProcessingInfo `json:"processing_info"`
}

// twitterSession implements the INIT / APPEND / FINALIZE / STATUS chunked
// media upload.
type twitterSession struct {
	adapter  *TwitterAdapter
	creds    *Credentials
	auth     RequestAuthorizer
	category string
	mediaID  string
}

func (s *twitterSession) endpoint() string {
	return s.adapter.upBase + "/1.1/media/upload.json"
}

func (s *twitterSession) Init(ctx context.Context, totalBytes int64, mimeType string) error {
	form := url.Values{}
	form.Set("command", "INIT")
	form.Set("total_bytes", strconv.FormatInt(totalBytes, 10))
	form.Set("media_type", mimeType)
	form.Set("media_category", s.category)

	var out twitterMediaResponse
	if err := s.adapter.uploads.postForm(ctx, s.endpoint(), s.creds, form, s.auth, "upload init", &out); err != nil {
		return err
	}
	if out.MediaIDString == "" {
		return failure.Permanent(Twitter, "upload init", "no media id returned")
	}
	s.mediaID = out.MediaIDString
	return nil
}

func (s *twitterSession) Append(ctx context.Context, index int, chunk []byte) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("command", "APPEND")
	_ = w.WriteField("media_id", s.mediaID)
	_ = w.WriteField("segment_index", strconv.Itoa(index))
	part, err := w.CreateFormFile("media", "chunk")
	if err != nil {
		return failure.Permanent(Twitter, "upload append", err.Error())
	}
	if _, err := part.Write(chunk); err != nil {
		return failure.Permanent(Twitter, "upload append", err.Error())
	}
	if err := w.Close(); err != nil {
		return failure.Permanent(Twitter, "upload append", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(), &body)
	if err != nil {
		return failure.Permanent(Twitter, "upload append", err.Error())
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	// multipart parameters are not part of the OAuth 1.0a signature base
	_, err = s.adapter.uploads.do(req, s.creds, nil, s.auth, "upload append", nil)
	return err
}

func (s *twitterSession) Finalize(ctx context.Context) (*upload.Processing, error) {
	form := url.Values{}
	form.Set("command", "FINALIZE")
	form.Set("media_id", s.mediaID)

	var out twitterMediaResponse
	if err := s.adapter.uploads.postForm(ctx, s.endpoint(), s.creds, form, s.auth, "upload finalize", &out); err != nil {
		return nil, err
	}
	return out.ProcessingInfo.toProcessing(), nil
}

func (s *twitterSession) Status(ctx context.Context) (*upload.Processing, error) {
	q := url.Values{}
	q.Set("command", "STATUS")
	q.Set("media_id", s.mediaID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint()+"?"+q.Encode(), nil)
	if err != nil {
		return nil, failure.Permanent(Twitter, "upload status", err.Error())
	}
	var out twitterMediaResponse
	if _, err := s.adapter.uploads.do(req, s.creds, nil, s.auth, "upload status", &out); err != nil {
		return nil, err
	}
	if out.ProcessingInfo == nil {
		return &upload.Processing{State: upload.StateSucceeded}, nil
	}
	return out.ProcessingInfo.toProcessing(), nil
}

func (s *twitterSession) Handle() string { return s.mediaID }
