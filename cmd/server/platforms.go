package main

import (
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/platform"
)

func newRegistry(cfg *config.Config) *platform.Registry {
	return platform.NewRegistry(
		platform.NewTwitterAdapter(platform.TwitterConfig{
			ClientID:       cfg.Twitter.ClientID,
			ClientSecret:   cfg.Twitter.ClientSecret,
			ConsumerKey:    cfg.Twitter.ConsumerKey,
			ConsumerSecret: cfg.Twitter.ConsumerSecret,
		}),
		platform.NewLinkedInAdapter(platform.LinkedInConfig{
			ClientID:     cfg.LinkedInClientID,
			ClientSecret: cfg.LinkedInClientSecret,
		}),
		platform.NewFacebookAdapter(platform.FacebookConfig{
			AppID:     cfg.FacebookAppID,
			AppSecret: cfg.FacebookAppSecret,
		}),
		platform.NewInstagramAdapter(platform.InstagramConfig{}),
		platform.NewThreadsAdapter(platform.ThreadsConfig{}),
		platform.NewTikTokAdapter(platform.TikTokConfig{
			ClientKey:    cfg.TiktokClientKey,
			ClientSecret: cfg.TiktokClientSecret,
		}),
		platform.NewYouTubeAdapter(platform.YouTubeConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
		}),
	)
}
