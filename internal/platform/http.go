package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maheshrc27/postflow/internal/failure"
	"golang.org/x/oauth2"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultUploadTimeout  = 120 * time.Second
)

// apiClient is the shared HTTP plumbing of the adapters: every call carries
// the job context, a per-request timeout and response classification.
type apiClient struct {
	platform string
	http     *http.Client
	auth     RequestAuthorizer
	header   http.Header
	// classify refines the status-based kind from the response body.
	classify func(e *failure.Error, body []byte)
}

func newAPIClient(platform string, hc *http.Client, timeout time.Duration) *apiClient {
	if hc == nil {
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &apiClient{platform: platform, http: hc, auth: BearerAuth{}}
}

// newGraphClient is an apiClient for the Meta Graph APIs, which report
// token and throttling errors as HTTP 400 with an error code in the body.
func newGraphClient(platform string, hc *http.Client, timeout time.Duration) *apiClient {
	c := newAPIClient(platform, hc, timeout)
	c.classify = classifyGraphError
	return c
}

func (c *apiClient) do(req *http.Request, creds *Credentials, form url.Values, auth RequestAuthorizer, op string, out any) (*http.Response, error) {
	if auth == nil {
		auth = c.auth
	}
	for k, v := range c.header {
		if req.Header.Get(k) == "" {
			req.Header[k] = v
		}
	}
	if creds != nil {
		if err := auth.Authorize(req, creds, form); err != nil {
			return nil, failure.Auth(c.platform, op, err)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, failure.Transient(c.platform, op, ctxErr)
		}
		return nil, failure.Transient(c.platform, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.Transient(c.platform, op, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := failure.FromResponse(c.platform, op, resp, body)
		if c.classify != nil {
			c.classify(e, body)
		}
		return resp, e
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp, &failure.Error{Platform: c.platform, Op: op, Kind: failure.KindPermanent, Message: "unexpected response body", Err: err}
		}
	}
	return resp, nil
}

func (c *apiClient) getJSON(ctx context.Context, endpoint string, creds *Credentials, op string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return failure.Permanent(c.platform, op, err.Error())
	}
	_, err = c.do(req, creds, nil, nil, op, out)
	return err
}

func (c *apiClient) postJSON(ctx context.Context, endpoint string, creds *Credentials, payload any, op string, out any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, failure.Permanent(c.platform, op, fmt.Sprintf("marshal payload: %v", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, failure.Permanent(c.platform, op, err.Error())
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	return c.do(req, creds, nil, nil, op, out)
}

func (c *apiClient) postForm(ctx context.Context, endpoint string, creds *Credentials, form url.Values, auth RequestAuthorizer, op string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return failure.Permanent(c.platform, op, err.Error())
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	_, err = c.do(req, creds, form, auth, op, out)
	return err
}

// refreshOAuth2 exchanges a refresh token through a standard OAuth2 token
// endpoint. A rejected grant is an auth error; anything else is transient.
func refreshOAuth2(ctx context.Context, platform string, cfg *oauth2.Config, hc *http.Client, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, failure.Auth(platform, "refresh", fmt.Errorf("no refresh token stored"))
	}
	if hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	}

	token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		if re, ok := err.(*oauth2.RetrieveError); ok && re.Response != nil {
			switch code := re.Response.StatusCode; {
			case code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden:
				return nil, failure.Auth(platform, "refresh", err)
			case code == http.StatusTooManyRequests:
				return nil, &failure.Error{Platform: platform, Op: "refresh", Kind: failure.KindRateLimit, StatusCode: code, Message: "token endpoint rate limited", Err: err}
			}
		}
		return nil, failure.Transient(platform, "refresh", err)
	}

	ts := &TokenSet{AccessToken: token.AccessToken, RefreshToken: token.RefreshToken}
	if !token.Expiry.IsZero() {
		ts.ExpiresIn = time.Until(token.Expiry).Round(time.Second)
	}
	if ts.RefreshToken == "" {
		ts.RefreshToken = refreshToken
	}
	return ts, nil
}

// refreshViaGET covers the Meta-style token endpoints that exchange a
// long-lived token through a GET with query parameters.
func (c *apiClient) refreshViaGET(ctx context.Context, endpoint string, params url.Values) (*TokenSet, error) {
	if params.Get("access_token") == "" && params.Get("fb_exchange_token") == "" && params.Get("refresh_token") == "" {
		return nil, failure.Auth(c.platform, "refresh", fmt.Errorf("no refresh token stored"))
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	err := c.getJSON(ctx, endpoint+"?"+params.Encode(), nil, "refresh", &result)
	if err != nil {
		if pe, ok := err.(*failure.Error); ok && pe.Kind == failure.KindPermanent {
			pe.Kind = failure.KindAuth
		}
		return nil, err
	}
	if result.AccessToken == "" {
		return nil, failure.Auth(c.platform, "refresh", fmt.Errorf("token endpoint returned no access token"))
	}
	return &TokenSet{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    time.Duration(result.ExpiresIn) * time.Second,
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func mustURL(platform, op, raw string) (string, error) {
	if raw == "" {
		return "", failure.Permanent(platform, op, "media has no public url")
	}
	if _, err := url.Parse(raw); err != nil {
		return "", failure.Permanent(platform, op, fmt.Sprintf("invalid media url: %v", err))
	}
	return raw, nil
}
