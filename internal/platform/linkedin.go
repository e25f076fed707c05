package platform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/maheshrc27/postflow/internal/failure"
	"github.com/maheshrc27/postflow/internal/upload"
	"golang.org/x/oauth2"
)

const (
	linkedinAPIBase   = "https://api.linkedin.com"
	linkedinTokenURL  = "https://www.linkedin.com/oauth/v2/accessToken"
	linkedinVersion   = "202401"
	linkedinChunkSize = 4 << 20
)

type LinkedInConfig struct {
	ClientID     string
	ClientSecret string
	APIBase      string
	TokenURL     string
	HTTPClient   *http.Client
	Uploader     *upload.Uploader
}

type LinkedInAdapter struct {
	api      *apiClient
	uploads  *apiClient
	oauth    *oauth2.Config
	hc       *http.Client
	base     string
	uploader *upload.Uploader
}

func NewLinkedInAdapter(cfg LinkedInConfig) *LinkedInAdapter {
	header := http.Header{}
	header.Set("LinkedIn-Version", linkedinVersion)
	header.Set("X-Restli-Protocol-Version", "2.0.0")

	a := &LinkedInAdapter{
		api:     newAPIClient(LinkedIn, cfg.HTTPClient, defaultRequestTimeout),
		uploads: newAPIClient(LinkedIn, cfg.HTTPClient, defaultUploadTimeout),
		hc:      cfg.HTTPClient,
		base:    orDefault(cfg.APIBase, linkedinAPIBase),
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  orDefault(cfg.TokenURL, linkedinTokenURL),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
	a.api.header = header
	a.uploads.header = header
	u := upload.New(LinkedIn)
	if cfg.Uploader != nil {
		*u = *cfg.Uploader
	}
	u.ChunkSize = linkedinChunkSize
	a.uploader = u
	return a
}

func (a *LinkedInAdapter) Name() string { return LinkedIn }

func (a *LinkedInAdapter) Capabilities() Capabilities {
	return Capabilities{
		MaxChars:       3000,
		MaxImages:      20,
		MaxVideos:      1,
		MaxImageBytes:  36 << 20,
		MaxVideoBytes:  5 << 30,
		VideoExclusive: true,
	}
}

func (a *LinkedInAdapter) Validate(content string, media []MediaInfo) error {
	return a.Capabilities().Validate(LinkedIn, content, media)
}

func authorURN(accountID string) string {
	if strings.HasPrefix(accountID, "urn:li:") {
		return accountID
	}
	return "urn:li:person:" + accountID
}

func (a *LinkedInAdapter) UploadMedia(ctx context.Context, creds *Credentials, m Media) (MediaHandle, error) {
	if m.IsVideo() {
		sess := &linkedinVideoSession{adapter: a, creds: creds}
		id, err := a.uploader.Run(ctx, sess, m.Reader, m.Size, m.MimeType, a.Capabilities().MaxVideoBytes)
		if err != nil {
			return MediaHandle{}, err
		}
		return MediaHandle{ID: id, Video: true}, nil
	}

	if err := upload.CheckSize(LinkedIn, m.Size, a.Capabilities().MaxImageBytes); err != nil {
		return MediaHandle{}, err
	}

	var init struct {
		Value struct {
			UploadURL string `json:"uploadUrl"`
			Image     string `json:"image"`
		} `json:"value"`
	}
	payload := map[string]any{
		"initializeUploadRequest": map[string]any{"owner": authorURN(creds.AccountID)},
	}
	if _, err := a.api.postJSON(ctx, a.base+"/rest/images?action=initializeUpload", creds, payload, "image init", &init); err != nil {
		return MediaHandle{}, err
	}
	if init.Value.UploadURL == "" || init.Value.Image == "" {
		return MediaHandle{}, failure.Permanent(LinkedIn, "image init", "no upload url returned")
	}

	if _, err := a.put(ctx, creds, init.Value.UploadURL, m.Reader, m.Size, "image upload"); err != nil {
		return MediaHandle{}, err
	}
	return MediaHandle{ID: init.Value.Image}, nil
}

func (a *LinkedInAdapter) put(ctx context.Context, creds *Credentials, target string, body io.Reader, size int64, op string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, body)
	if err != nil {
		return nil, failure.Permanent(LinkedIn, op, err.Error())
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	return a.uploads.do(req, creds, nil, nil, op, nil)
}

func (a *LinkedInAdapter) Publish(ctx context.Context, creds *Credentials, post Post) (*PublishResult, error) {
	payload := map[string]any{
		"author":     authorURN(creds.AccountID),
		"commentary": post.Content,
		"visibility": "PUBLIC",
		"distribution": map[string]any{
			"feedDistribution":               "MAIN_FEED",
			"targetEntities":                 []any{},
			"thirdPartyDistributionChannels": []any{},
		},
		"lifecycleState":            "PUBLISHED",
		"isReshareDisabledByAuthor": false,
	}

	switch {
	case len(post.Media) == 1:
		media := map[string]any{"id": post.Media[0].ID}
		if post.Media[0].Video && post.Title != "" {
			media["title"] = post.Title
		}
		payload["content"] = map[string]any{"media": media}
	case len(post.Media) > 1:
		images := make([]map[string]any, 0, len(post.Media))
		for _, h := range post.Media {
			images = append(images, map[string]any{"id": h.ID})
		}
		payload["content"] = map[string]any{"multiImage": map[string]any{"images": images}}
	}

	resp, err := a.api.postJSON(ctx, a.base+"/rest/posts", creds, payload, "publish", nil)
	if err != nil {
		return nil, err
	}
	id := resp.Header.Get("x-restli-id")
	if id == "" {
		return nil, failure.Permanent(LinkedIn, "publish", "no post urn returned")
	}
	return &PublishResult{
		PlatformPostID: id,
		URL:            "https://www.linkedin.com/feed/update/" + id,
	}, nil
}

func (a *LinkedInAdapter) RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	return refreshOAuth2(ctx, LinkedIn, a.oauth, a.hc, refreshToken)
}

type linkedinInstruction struct {
	UploadURL string `json:"uploadUrl"`
	FirstByte int64  `json:"firstByte"`
	LastByte  int64  `json:"lastByte"`
}

// linkedinVideoSession follows the multipart video upload: the init call
// returns one upload instruction per part, every part's ETag is collected
// and sent back with finalizeUpload.
type linkedinVideoSession struct {
	adapter      *LinkedInAdapter
	creds        *Credentials
	video        string
	uploadToken  string
	instructions []linkedinInstruction
	etags        []string
}

func (s *linkedinVideoSession) Init(ctx context.Context, totalBytes int64, _ string) error {
	var out struct {
		Value struct {
			Video              string                `json:"video"`
			UploadToken        string                `json:"uploadToken"`
			UploadInstructions []linkedinInstruction `json:"uploadInstructions"`
		} `json:"value"`
	}
	payload := map[string]any{
		"initializeUploadRequest": map[string]any{
			"owner":           authorURN(s.creds.AccountID),
			"fileSizeBytes":   totalBytes,
			"uploadCaptions":  false,
			"uploadThumbnail": false,
		},
	}
	if _, err := s.adapter.api.postJSON(ctx, s.adapter.base+"/rest/videos?action=initializeUpload", s.creds, payload, "video init", &out); err != nil {
		return err
	}
	if out.Value.Video == "" || len(out.Value.UploadInstructions) == 0 {
		return failure.Permanent(LinkedIn, "video init", "no upload instructions returned")
	}
	s.video = out.Value.Video
	s.uploadToken = out.Value.UploadToken
	s.instructions = out.Value.UploadInstructions
	s.etags = make([]string, len(s.instructions))
	return nil
}

func (s *linkedinVideoSession) Append(ctx context.Context, index int, chunk []byte) error {
	if index >= len(s.instructions) {
		return failure.Permanent(LinkedIn, "video part", fmt.Sprintf("no upload instruction for part %d", index))
	}
	ins := s.instructions[index]
	if want := ins.LastByte - ins.FirstByte + 1; want != int64(len(chunk)) {
		return failure.Permanent(LinkedIn, "video part", fmt.Sprintf("part %d is %d bytes, instruction expects %d", index, len(chunk), want))
	}

	resp, err := s.adapter.put(ctx, s.creds, ins.UploadURL, bytes.NewReader(chunk), int64(len(chunk)), "video part")
	if err != nil {
		return err
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		return failure.Transient(LinkedIn, "video part", fmt.Errorf("part %d acknowledged without etag", index))
	}
	s.etags[index] = etag
	return nil
}

func (s *linkedinVideoSession) Finalize(ctx context.Context) (*upload.Processing, error) {
	for i, etag := range s.etags {
		if etag == "" {
			return nil, failure.Permanent(LinkedIn, "video finalize", fmt.Sprintf("part %d was never uploaded", i))
		}
	}
	payload := map[string]any{
		"finalizeUploadRequest": map[string]any{
			"video":           s.video,
			"uploadToken":     s.uploadToken,
			"uploadedPartIds": s.etags,
		},
	}
	if _, err := s.adapter.api.postJSON(ctx, s.adapter.base+"/rest/videos?action=finalizeUpload", s.creds, payload, "video finalize", nil); err != nil {
		return nil, err
	}
	return &upload.Processing{State: upload.StatePending}, nil
}

func (s *linkedinVideoSession) Status(ctx context.Context) (*upload.Processing, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := s.adapter.api.getJSON(ctx, s.adapter.base+"/rest/videos/"+url.QueryEscape(s.video), s.creds, "video status", &out); err != nil {
		return nil, err
	}
	switch out.Status {
	case "AVAILABLE":
		return &upload.Processing{State: upload.StateSucceeded}, nil
	case "PROCESSING_FAILED":
		return &upload.Processing{State: upload.StateFailed, Error: out.Status}, nil
	default:
		return &upload.Processing{State: upload.StateInProgress}, nil
	}
}

func (s *linkedinVideoSession) Handle() string { return s.video }
