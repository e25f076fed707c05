package config

import (
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	// Endpoint overrides the account endpoint, e.g. for a local S3 server.
	Endpoint  string
	PublicURL string
}

type Twitter struct {
	ClientID       string
	ClientSecret   string
	ConsumerKey    string
	ConsumerSecret string
}

type Worker struct {
	Concurrency   int
	MaxAttempts   int
	Backoff       time.Duration
	Retention     time.Duration
	CompletedKeep int
}

type Config struct {
	Twitter              Twitter
	LinkedInClientID     string
	LinkedInClientSecret string
	FacebookAppID        string
	FacebookAppSecret    string
	TiktokClientKey      string
	TiktokClientSecret   string
	GoogleClientID       string
	GoogleClientSecret   string
	PostgresURI          string
	RedisURI             string
	FrontendURL          string
	ListenAddr           string
	R2                   R2
	Worker               Worker
	SecretKey            string
	CookieName           string
	LogFile              string
	LogLevel             string
}

func LoadConfig() *Config {
	return &Config{
		Twitter: Twitter{
			ClientID:       getEnv("TWITTER_CLIENT_ID", ""),
			ClientSecret:   getEnv("TWITTER_CLIENT_SECRET", ""),
			ConsumerKey:    getEnv("TWITTER_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("TWITTER_CONSUMER_SECRET", ""),
		},
		LinkedInClientID:     getEnv("LINKEDIN_CLIENT_ID", ""),
		LinkedInClientSecret: getEnv("LINKEDIN_CLIENT_SECRET", ""),
		FacebookAppID:        getEnv("FACEBOOK_APP_ID", ""),
		FacebookAppSecret:    getEnv("FACEBOOK_APP_SECRET", ""),
		TiktokClientKey:      getEnv("TIKTOK_CLIENT_KEY", ""),
		TiktokClientSecret:   getEnv("TIKTOK_CLIENT_SECRET", ""),
		GoogleClientID:       getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:   getEnv("GOOGLE_CLIENT_SECRET", ""),
		PostgresURI:          getEnv("POSTGRES_URI", ""),
		RedisURI:             getEnv("REDIS_URI", "redis://localhost:6379/0"),
		FrontendURL:          getEnv("FRONTEND_URL", "http://localhost:5173"),
		ListenAddr:           getEnv("LISTEN_ADDR", ":3000"),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			Endpoint:   getEnv("R2_ENDPOINT", ""),
			PublicURL:  getEnv("R2_PUBLIC_URL", ""),
		},
		Worker: Worker{
			Concurrency:   getEnvInt("WORKER_CONCURRENCY", 10),
			MaxAttempts:   getEnvInt("JOB_MAX_ATTEMPTS", 3),
			Backoff:       getEnvDuration("JOB_BACKOFF", 30*time.Second),
			Retention:     getEnvDuration("JOB_RETENTION", 24*time.Hour),
			CompletedKeep: getEnvInt("COMPLETED_JOBS_KEEP", 1000),
		},
		SecretKey:  getEnv("SECRET_KEY", ""),
		CookieName: getEnv("COOKIE_NAME", "token"),
		LogFile:    getEnv("LOG_FILE", ""),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
