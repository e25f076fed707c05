// Package upload drives the chunked media upload protocols shared by the
// platform adapters: init, append chunks, finalize and an optional
// processing poll. It knows nothing about posts or targets.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/maheshrc27/postflow/internal/failure"
	"github.com/maheshrc27/postflow/internal/metrics"
)

const (
	DefaultChunkSize       = 5 << 20
	DefaultMaxPolls        = 30
	DefaultPollInterval    = 5 * time.Second
	DefaultChunkAttempts   = 3
	DefaultChunkRetryDelay = 2 * time.Second
)

// ErrProcessingTimeout is returned when the platform is still processing the
// media after the last allowed status poll.
var ErrProcessingTimeout = errors.New("media processing did not finish in time")

// Session is one platform-side upload. Implementations keep the upload id
// and any per-part bookkeeping between calls.
type Session interface {
	Init(ctx context.Context, totalBytes int64, mimeType string) error
	Append(ctx context.Context, index int, chunk []byte) error
	// Finalize returns nil processing when the media is immediately usable.
	Finalize(ctx context.Context) (*Processing, error)
	Status(ctx context.Context) (*Processing, error)
	Handle() string
}

type Uploader struct {
	Platform        string
	ChunkSize       int
	ChunkAttempts   uint
	ChunkRetryDelay time.Duration
	MaxPolls        int
	PollInterval    time.Duration
	Logger          *slog.Logger
}

func New(platform string) *Uploader {
	return &Uploader{
		Platform:        platform,
		ChunkSize:       DefaultChunkSize,
		ChunkAttempts:   DefaultChunkAttempts,
		ChunkRetryDelay: DefaultChunkRetryDelay,
		MaxPolls:        DefaultMaxPolls,
		PollInterval:    DefaultPollInterval,
		Logger:          slog.Default(),
	}
}

// CheckSize rejects payloads that can never be uploaded.
func CheckSize(platform string, size, maxBytes int64) error {
	if size <= 0 {
		return failure.Validation(platform, "media is empty")
	}
	if maxBytes > 0 && size > maxBytes {
		return failure.Validation(platform, fmt.Sprintf("media is %d bytes, limit is %d", size, maxBytes))
	}
	return nil
}

// Run streams size bytes from r through sess and returns the platform media
// handle once the media is ready for publishing.
func (u *Uploader) Run(ctx context.Context, sess Session, r io.Reader, size int64, mimeType string, maxBytes int64) (string, error) {
	if err := CheckSize(u.Platform, size, maxBytes); err != nil {
		return "", err
	}

	if err := sess.Init(ctx, size, mimeType); err != nil {
		return "", err
	}

	chunkSize := u.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)

	var sent int64
	for index := 0; sent < size; index++ {
		want := int64(chunkSize)
		if rest := size - sent; rest < want {
			want = rest
		}
		n, err := io.ReadFull(r, buf[:want])
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return "", failure.Permanent(u.Platform, "upload", fmt.Sprintf("media ended after %d of %d bytes", sent+int64(n), size))
			}
			return "", failure.Transient(u.Platform, "read media", err)
		}

		if err := u.appendChunk(ctx, sess, index, buf[:n]); err != nil {
			return "", err
		}
		sent += int64(n)
		metrics.UploadedChunks.WithLabelValues(u.Platform).Inc()
	}

	proc, err := sess.Finalize(ctx)
	if err != nil {
		return "", err
	}
	if err := u.settle(ctx, proc, sess.Status); err != nil {
		return "", err
	}
	return sess.Handle(), nil
}

func (u *Uploader) appendChunk(ctx context.Context, sess Session, index int, chunk []byte) error {
	attempts := u.ChunkAttempts
	if attempts == 0 {
		attempts = 1
	}
	delay := u.ChunkRetryDelay
	if delay <= 0 {
		delay = time.Millisecond
	}

	var lastErr error
	err := retry.Do(
		func() error {
			lastErr = sess.Append(ctx, index, chunk)
			if lastErr != nil && !failure.IsRetryable(lastErr) {
				return retry.Unrecoverable(lastErr)
			}
			return lastErr
		},
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(delay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			u.logger().Warn("retrying chunk", "platform", u.Platform, "chunk", index, "attempt", n+1, "error", err)
		}),
	)
	if err == nil {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return failure.Transient(u.Platform, "append", err)
}

func (u *Uploader) settle(ctx context.Context, proc *Processing, status func(context.Context) (*Processing, error)) error {
	if proc == nil || proc.State == StateSucceeded {
		return nil
	}
	if proc.State == StateFailed {
		return processingFailed(u.Platform, "finalize", proc)
	}
	first := u.PollInterval
	if proc.CheckAfter > 0 {
		first = proc.CheckAfter
	}
	return Poll(ctx, PollConfig{
		Platform:     u.Platform,
		Op:           "processing",
		MaxPolls:     u.MaxPolls,
		Interval:     u.PollInterval,
		InitialDelay: first,
	}, status)
}

func (u *Uploader) logger() *slog.Logger {
	if u.Logger != nil {
		return u.Logger
	}
	return slog.Default()
}
