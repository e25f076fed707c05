package platform

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestAuthorizer attaches credentials to an outgoing request. formParams
// are the url-encoded body parameters, which request-signing schemes include
// in the signature base.
type RequestAuthorizer interface {
	Authorize(req *http.Request, creds *Credentials, formParams url.Values) error
}

type BearerAuth struct{}

func (BearerAuth) Authorize(req *http.Request, creds *Credentials, _ url.Values) error {
	if creds == nil || creds.AccessToken == "" {
		return errors.New("missing access token")
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	return nil
}

// OAuth1Signer signs requests with HMAC-SHA1 as described in RFC 5849. Only
// endpoints that still require user-context OAuth 1.0a use it.
type OAuth1Signer struct {
	ConsumerKey    string
	ConsumerSecret string

	now   func() time.Time
	nonce func() string
}

func NewOAuth1Signer(consumerKey, consumerSecret string) *OAuth1Signer {
	return &OAuth1Signer{
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		now:            time.Now,
		nonce:          func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

func (s *OAuth1Signer) Authorize(req *http.Request, creds *Credentials, formParams url.Values) error {
	if creds == nil || creds.OAuthToken == "" || creds.OAuthTokenSecret == "" {
		return errors.New("missing oauth1 token credentials")
	}

	oauthParams := map[string]string{
		"oauth_consumer_key":     s.ConsumerKey,
		"oauth_nonce":            s.nonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(s.now().Unix(), 10),
		"oauth_token":            creds.OAuthToken,
		"oauth_version":          "1.0",
	}

	oauthParams["oauth_signature"] = s.signature(req.Method, req.URL, formParams, oauthParams, creds.OAuthTokenSecret)

	keys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, percentEncode(k)+`="`+percentEncode(oauthParams[k])+`"`)
	}
	req.Header.Set("Authorization", "OAuth "+strings.Join(parts, ", "))
	return nil
}

func (s *OAuth1Signer) signature(method string, u *url.URL, formParams url.Values, oauthParams map[string]string, tokenSecret string) string {
	type pair struct{ k, v string }
	var pairs []pair

	for k, vs := range u.Query() {
		for _, v := range vs {
			pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
		}
	}
	for k, vs := range formParams {
		for _, v := range vs {
			pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
		}
	}
	for k, v := range oauthParams {
		pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k == pairs[j].k {
			return pairs[i].v < pairs[j].v
		}
		return pairs[i].k < pairs[j].k
	})

	normalized := make([]string, 0, len(pairs))
	for _, p := range pairs {
		normalized = append(normalized, p.k+"="+p.v)
	}

	baseURL := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + u.EscapedPath()
	base := strings.ToUpper(method) + "&" + percentEncode(baseURL) + "&" + percentEncode(strings.Join(normalized, "&"))

	key := percentEncode(s.ConsumerSecret) + "&" + percentEncode(tokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// percentEncode implements the RFC 3986 unreserved set encoding required by
// OAuth 1.0a; url.QueryEscape encodes spaces as '+' which breaks signatures.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
			continue
		}
		b.WriteString("%" + strings.ToUpper(strconv.FormatInt(int64(c)>>4, 16)) + strings.ToUpper(strconv.FormatInt(int64(c)&0xF, 16)))
	}
	return b.String()
}
