package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maheshrc27/postflow/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkedInVideoMultipartUpload(t *testing.T) {
	const partSize = 4 << 20
	size := int64(partSize + 1024)

	var (
		parts     [][2]int
		finalize  map[string]any
		statusHit int
	)
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/rest/videos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "202401", r.Header.Get("LinkedIn-Version"))
		switch r.URL.Query().Get("action") {
		case "initializeUpload":
			fmt.Fprintf(w, `{"value":{"video":"urn:li:video:V1","uploadToken":"tok-1","uploadInstructions":[
				{"uploadUrl":"%[1]s/part/0","firstByte":0,"lastByte":%[2]d},
				{"uploadUrl":"%[1]s/part/1","firstByte":%[3]d,"lastByte":%[4]d}]}}`,
				srvURL, partSize-1, partSize, size-1)
		case "finalizeUpload":
			_ = json.NewDecoder(r.Body).Decode(&finalize)
			w.WriteHeader(http.StatusOK)
		}
	})
	mux.HandleFunc("/part/", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		idx := strings.TrimPrefix(r.URL.Path, "/part/")
		parts = append(parts, [2]int{len(parts), len(b)})
		w.Header().Set("ETag", "etag-"+idx)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/rest/videos/", func(w http.ResponseWriter, r *http.Request) {
		statusHit++
		if statusHit == 1 {
			_, _ = w.Write([]byte(`{"status":"PROCESSING"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"AVAILABLE"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	a := NewLinkedInAdapter(LinkedInConfig{APIBase: srv.URL, HTTPClient: srv.Client(), Uploader: testUploader(LinkedIn, 1)})

	h, err := a.UploadMedia(context.Background(), &Credentials{AccountID: "abc", AccessToken: "tok"}, Media{
		MediaInfo: MediaInfo{MimeType: "video/mp4", Size: size},
		Reader:    bytes.NewReader(make([]byte, size)),
	})
	require.NoError(t, err)

	assert.Equal(t, "urn:li:video:V1", h.ID)
	assert.Equal(t, [][2]int{{0, partSize}, {1, 1024}}, parts)
	req := finalize["finalizeUploadRequest"].(map[string]any)
	assert.Equal(t, []any{"etag-0", "etag-1"}, req["uploadedPartIds"])
	assert.Equal(t, "tok-1", req["uploadToken"])
	assert.Equal(t, 2, statusHit)
}

func TestLinkedInPublish(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/posts", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("x-restli-id", "urn:li:share:42")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	a := NewLinkedInAdapter(LinkedInConfig{APIBase: srv.URL, HTTPClient: srv.Client()})
	res, err := a.Publish(context.Background(), &Credentials{AccountID: "abc", AccessToken: "tok"}, Post{
		Content: "launch day",
		Media:   []MediaHandle{{ID: "urn:li:image:1"}, {ID: "urn:li:image:2"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "urn:li:share:42", res.PlatformPostID)
	assert.Equal(t, "urn:li:person:abc", body["author"])
	content := body["content"].(map[string]any)
	assert.Len(t, content["multiImage"].(map[string]any)["images"], 2)
}

func TestLinkedInPublishUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Expired access token"}`))
	}))
	defer srv.Close()

	a := NewLinkedInAdapter(LinkedInConfig{APIBase: srv.URL, HTTPClient: srv.Client()})
	_, err := a.Publish(context.Background(), &Credentials{AccountID: "abc", AccessToken: "old"}, Post{Content: "x"})
	require.Error(t, err)
	assert.True(t, failure.IsAuth(err))
	assert.Contains(t, err.Error(), "Expired access token")
}
