package platform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/maheshrc27/postflow/internal/failure"
	"github.com/maheshrc27/postflow/internal/upload"
)

const facebookGraphBase = "https://graph.facebook.com/v21.0"

type FacebookConfig struct {
	AppID      string
	AppSecret  string
	GraphBase  string
	HTTPClient *http.Client
	Uploader   *upload.Uploader
}

// FacebookAdapter publishes to a Page. Credentials.AccountID is the page id
// and the access token is a page token.
type FacebookAdapter struct {
	api       *apiClient
	uploads   *apiClient
	base      string
	appID     string
	appSecret string
	uploader  *upload.Uploader
}

func NewFacebookAdapter(cfg FacebookConfig) *FacebookAdapter {
	a := &FacebookAdapter{
		api:       newGraphClient(Facebook, cfg.HTTPClient, defaultRequestTimeout),
		uploads:   newGraphClient(Facebook, cfg.HTTPClient, defaultUploadTimeout),
		base:      orDefault(cfg.GraphBase, facebookGraphBase),
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
		uploader:  cfg.Uploader,
	}
	if a.uploader == nil {
		a.uploader = upload.New(Facebook)
	}
	return a
}

func (a *FacebookAdapter) Name() string { return Facebook }

func (a *FacebookAdapter) Capabilities() Capabilities {
	return Capabilities{
		MaxChars:       63206,
		MaxImages:      10,
		MaxVideos:      1,
		MaxImageBytes:  10 << 20,
		MaxVideoBytes:  4 << 30,
		VideoExclusive: true,
	}
}

func (a *FacebookAdapter) Validate(content string, media []MediaInfo) error {
	return a.Capabilities().Validate(Facebook, content, media)
}

func (a *FacebookAdapter) UploadMedia(ctx context.Context, creds *Credentials, m Media) (MediaHandle, error) {
	if m.IsVideo() {
		sess := &facebookVideoSession{adapter: a, creds: creds}
		id, err := a.uploader.Run(ctx, sess, m.Reader, m.Size, m.MimeType, a.Capabilities().MaxVideoBytes)
		if err != nil {
			return MediaHandle{}, err
		}
		return MediaHandle{ID: id, Video: true}, nil
	}

	if err := upload.CheckSize(Facebook, m.Size, a.Capabilities().MaxImageBytes); err != nil {
		return MediaHandle{}, err
	}

	fields := map[string]string{"published": "false"}
	var out struct {
		ID string `json:"id"`
	}
	err := a.postMultipart(ctx, creds, a.base+"/"+creds.AccountID+"/photos", fields, "source", io.LimitReader(m.Reader, m.Size), "photo upload", &out)
	if err != nil {
		return MediaHandle{}, err
	}
	if out.ID == "" {
		return MediaHandle{}, failure.Permanent(Facebook, "photo upload", "no photo id returned")
	}
	return MediaHandle{ID: out.ID}, nil
}

func (a *FacebookAdapter) postMultipart(ctx context.Context, creds *Credentials, endpoint string, fields map[string]string, fileField string, file io.Reader, op string, out any) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return failure.Permanent(Facebook, op, err.Error())
		}
	}
	if file != nil {
		part, err := w.CreateFormFile(fileField, "media")
		if err != nil {
			return failure.Permanent(Facebook, op, err.Error())
		}
		if _, err := io.Copy(part, file); err != nil {
			return failure.Transient(Facebook, op, fmt.Errorf("read media: %w", err))
		}
	}
	if err := w.Close(); err != nil {
		return failure.Permanent(Facebook, op, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return failure.Permanent(Facebook, op, err.Error())
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	_, err = a.uploads.do(req, creds, nil, nil, op, out)
	return err
}

func (a *FacebookAdapter) Publish(ctx context.Context, creds *Credentials, post Post) (*PublishResult, error) {
	if len(post.Media) == 1 && post.Media[0].Video {
		form := url.Values{}
		form.Set("published", "true")
		form.Set("description", post.Content)
		if post.Title != "" {
			form.Set("title", post.Title)
		}
		if err := a.api.postForm(ctx, a.base+"/"+post.Media[0].ID, creds, form, nil, "publish video", nil); err != nil {
			return nil, err
		}
		return &PublishResult{
			PlatformPostID: post.Media[0].ID,
			URL:            "https://www.facebook.com/" + creds.AccountID + "/videos/" + post.Media[0].ID,
		}, nil
	}

	payload := map[string]any{"message": post.Content}
	if len(post.Media) > 0 {
		attached := make([]map[string]string, 0, len(post.Media))
		for _, h := range post.Media {
			attached = append(attached, map[string]string{"media_fbid": h.ID})
		}
		payload["attached_media"] = attached
	}

	var out struct {
		ID string `json:"id"`
	}
	if _, err := a.api.postJSON(ctx, a.base+"/"+creds.AccountID+"/feed", creds, payload, "publish", &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, failure.Permanent(Facebook, "publish", "no post id returned")
	}
	return &PublishResult{PlatformPostID: out.ID, URL: "https://www.facebook.com/" + out.ID}, nil
}

// RefreshToken exchanges the stored long-lived token for a fresh one.
func (a *FacebookAdapter) RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	params := url.Values{}
	params.Set("grant_type", "fb_exchange_token")
	params.Set("client_id", a.appID)
	params.Set("client_secret", a.appSecret)
	params.Set("fb_exchange_token", refreshToken)
	if refreshToken == "" {
		params.Del("fb_exchange_token")
	}
	ts, err := a.api.refreshViaGET(ctx, a.base+"/oauth/access_token", params)
	if err != nil {
		return nil, err
	}
	if ts.RefreshToken == "" {
		ts.RefreshToken = ts.AccessToken
	}
	return ts, nil
}

// facebookVideoSession drives the resumable start / transfer / finish video
// upload of the Graph API.
type facebookVideoSession struct {
	adapter   *FacebookAdapter
	creds     *Credentials
	videoID   string
	sessionID string
	offset    int64
}

type facebookTransferResponse struct {
	VideoID         string `json:"video_id"`
	UploadSessionID string `json:"upload_session_id"`
	StartOffset     string `json:"start_offset"`
	EndOffset       string `json:"end_offset"`
}

func (s *facebookVideoSession) endpoint() string {
	return s.adapter.base + "/" + s.creds.AccountID + "/videos"
}

func (s *facebookVideoSession) Init(ctx context.Context, totalBytes int64, _ string) error {
	form := url.Values{}
	form.Set("upload_phase", "start")
	form.Set("file_size", strconv.FormatInt(totalBytes, 10))

	var out facebookTransferResponse
	if err := s.adapter.uploads.postForm(ctx, s.endpoint(), s.creds, form, nil, "video start", &out); err != nil {
		return err
	}
	if out.UploadSessionID == "" || out.VideoID == "" {
		return failure.Permanent(Facebook, "video start", "no upload session returned")
	}
	s.videoID = out.VideoID
	s.sessionID = out.UploadSessionID
	return nil
}

func (s *facebookVideoSession) Append(ctx context.Context, index int, chunk []byte) error {
	fields := map[string]string{
		"upload_phase":      "transfer",
		"upload_session_id": s.sessionID,
		"start_offset":      strconv.FormatInt(s.offset, 10),
	}
	var out facebookTransferResponse
	err := s.adapter.postMultipart(ctx, s.creds, s.endpoint(), fields, "video_file_chunk", bytes.NewReader(chunk), "video transfer", &out)
	if err != nil {
		return err
	}

	next, perr := strconv.ParseInt(out.StartOffset, 10, 64)
	if perr != nil {
		return failure.Permanent(Facebook, "video transfer", fmt.Sprintf("invalid start_offset %q", out.StartOffset))
	}
	if want := s.offset + int64(len(chunk)); next != want {
		return failure.Permanent(Facebook, "video transfer", fmt.Sprintf("chunk %d: platform expects offset %d, sent up to %d", index, next, want))
	}
	s.offset = next
	return nil
}

func (s *facebookVideoSession) Finalize(ctx context.Context) (*upload.Processing, error) {
	form := url.Values{}
	form.Set("upload_phase", "finish")
	form.Set("upload_session_id", s.sessionID)
	form.Set("published", "false")

	var out struct {
		Success bool `json:"success"`
	}
	if err := s.adapter.uploads.postForm(ctx, s.endpoint(), s.creds, form, nil, "video finish", &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, failure.Permanent(Facebook, "video finish", "upload session was not accepted")
	}
	return &upload.Processing{State: upload.StatePending}, nil
}

func (s *facebookVideoSession) Status(ctx context.Context) (*upload.Processing, error) {
	var out struct {
		Status struct {
			VideoStatus string `json:"video_status"`
		} `json:"status"`
	}
	if err := s.adapter.api.getJSON(ctx, s.adapter.base+"/"+s.videoID+"?fields=status", s.creds, "video status", &out); err != nil {
		return nil, err
	}
	switch out.Status.VideoStatus {
	case "ready":
		return &upload.Processing{State: upload.StateSucceeded}, nil
	case "error":
		return &upload.Processing{State: upload.StateFailed, Error: "video processing error"}, nil
	default:
		return &upload.Processing{State: upload.StateInProgress}, nil
	}
}

func (s *facebookVideoSession) Handle() string { return s.videoID }
