package platform

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/maheshrc27/postflow/internal/failure"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/internal/upload"
)

// containerAPI is the two-step publish shared by Instagram and Threads:
// create a media container from public URLs, wait until the platform has
// fetched it, then publish the container.
type containerAPI struct {
	platform     string
	api          *apiClient
	base         string
	createPath   string
	publishPath  string
	statusFields string
	poll         upload.PollConfig
}

func (c *containerAPI) create(ctx context.Context, creds *Credentials, params map[string]any) (string, error) {
	var out transfer.GraphID
	if _, err := c.api.postJSON(ctx, c.base+"/"+creds.AccountID+"/"+c.createPath, creds, params, "create container", &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", failure.Permanent(c.platform, "create container", "no container id returned")
	}
	return out.ID, nil
}

func (c *containerAPI) waitReady(ctx context.Context, creds *Credentials, id string) error {
	cfg := c.poll
	cfg.Platform = c.platform
	cfg.Op = "container status"
	return upload.Poll(ctx, cfg, func(ctx context.Context) (*upload.Processing, error) {
		var out transfer.GraphContainer
		endpoint := c.base + "/" + id + "?fields=" + url.QueryEscape(c.statusFields)
		if err := c.api.getJSON(ctx, endpoint, creds, "container status", &out); err != nil {
			return nil, err
		}
		switch out.State() {
		case "FINISHED", "PUBLISHED":
			return &upload.Processing{State: upload.StateSucceeded}, nil
		case "ERROR", "EXPIRED":
			msg := out.ErrorMessage
			if msg == "" {
				msg = out.State()
			}
			return &upload.Processing{State: upload.StateFailed, Error: msg}, nil
		default:
			return &upload.Processing{State: upload.StateInProgress}, nil
		}
	})
}

func (c *containerAPI) publish(ctx context.Context, creds *Credentials, containerID string) (string, error) {
	var out transfer.GraphID
	payload := map[string]any{"creation_id": containerID}
	if _, err := c.api.postJSON(ctx, c.base+"/"+creds.AccountID+"/"+c.publishPath, creds, payload, "publish", &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", failure.Permanent(c.platform, "publish", "no media id returned")
	}
	return out.ID, nil
}

// createReady creates a container and waits for it to become publishable.
func (c *containerAPI) createReady(ctx context.Context, creds *Credentials, params map[string]any) (string, error) {
	id, err := c.create(ctx, creds, params)
	if err != nil {
		return "", err
	}
	if err := c.waitReady(ctx, creds, id); err != nil {
		return "", err
	}
	return id, nil
}

// carousel creates one item container per handle and a parent container
// listing them, returning the parent id ready to publish.
func (c *containerAPI) carousel(ctx context.Context, creds *Credentials, handles []MediaHandle, item func(MediaHandle) map[string]any, parent map[string]any) (string, error) {
	children := make([]string, 0, len(handles))
	for _, h := range handles {
		params := item(h)
		params["is_carousel_item"] = true
		id, err := c.createReady(ctx, creds, params)
		if err != nil {
			return "", err
		}
		children = append(children, id)
	}
	parent["media_type"] = "CAROUSEL"
	parent["children"] = strings.Join(children, ",")
	return c.createReady(ctx, creds, parent)
}

func pollConfig(u *upload.Uploader) upload.PollConfig {
	if u == nil {
		return upload.PollConfig{MaxPolls: upload.DefaultMaxPolls, Interval: upload.DefaultPollInterval}
	}
	return upload.PollConfig{MaxPolls: u.MaxPolls, Interval: u.PollInterval, InitialDelay: u.PollInterval}
}

// urlHandle registers media that the platform pulls from its public URL.
// No bytes are sent; the handle carries the URL.
func urlHandle(platform string, m Media, caps Capabilities) (MediaHandle, error) {
	limit := caps.MaxImageBytes
	if m.IsVideo() {
		limit = caps.MaxVideoBytes
	}
	if err := upload.CheckSize(platform, m.Size, limit); err != nil {
		return MediaHandle{}, err
	}
	u, err := mustURL(platform, "media", m.URL)
	if err != nil {
		return MediaHandle{}, err
	}
	return MediaHandle{ID: u, Video: m.IsVideo()}, nil
}

// classifyGraphError maps Graph API error codes onto failure kinds. Code 190
// is an expired or invalid token, 102 a broken session; 4, 17, 32 and 613
// are the app, user and page level throttles.
func classifyGraphError(e *failure.Error, body []byte) {
	var out struct {
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &out) != nil {
		return
	}
	switch out.Error.Code {
	case 190, 102:
		e.Kind = failure.KindAuth
	case 4, 17, 32, 613:
		e.Kind = failure.KindRateLimit
	}
}
