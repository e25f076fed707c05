package publisher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maheshrc27/postflow/internal/failure"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	name string
	caps platform.Capabilities

	mu           sync.Mutex
	uploadTokens []string
	publishToken []string
	uploadBytes  []int
	refreshes    int

	uploadErr  func(n int, c *platform.Credentials) error
	publishErr func(n int, c *platform.Credentials) error
	refreshErr error
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name, caps: platform.Capabilities{MaxChars: 280, MaxImages: 4, MaxVideos: 1}}
}

func (a *fakeAdapter) Name() string                        { return a.name }
func (a *fakeAdapter) Capabilities() platform.Capabilities { return a.caps }

func (a *fakeAdapter) Validate(content string, media []platform.MediaInfo) error {
	return a.caps.Validate(a.name, content, media)
}

func (a *fakeAdapter) UploadMedia(_ context.Context, c *platform.Credentials, m platform.Media) (platform.MediaHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.uploadTokens = append(a.uploadTokens, c.AccessToken)
	if a.uploadErr != nil {
		if err := a.uploadErr(len(a.uploadTokens), c); err != nil {
			return platform.MediaHandle{}, err
		}
	}
	b, err := io.ReadAll(m.Reader)
	if err != nil {
		return platform.MediaHandle{}, err
	}
	a.uploadBytes = append(a.uploadBytes, len(b))
	return platform.MediaHandle{ID: "media-" + m.MimeType}, nil
}

func (a *fakeAdapter) Publish(_ context.Context, c *platform.Credentials, p platform.Post) (*platform.PublishResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.publishToken = append(a.publishToken, c.AccessToken)
	if a.publishErr != nil {
		if err := a.publishErr(len(a.publishToken), c); err != nil {
			return nil, err
		}
	}
	return &platform.PublishResult{PlatformPostID: "pp-" + a.name, URL: "https://example.com/" + a.name}, nil
}

func (a *fakeAdapter) RefreshToken(_ context.Context, _ string) (*platform.TokenSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshes++
	if a.refreshErr != nil {
		return nil, a.refreshErr
	}
	return &platform.TokenSet{AccessToken: "new-token", RefreshToken: "new-refresh", ExpiresIn: time.Hour}, nil
}

func (a *fakeAdapter) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.uploadTokens) + len(a.publishToken)
}

type memAccounts struct {
	mu       sync.Mutex
	accounts map[int64]*service.Account
	saves    int
}

func (m *memAccounts) IsAccountActive(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	return ok && acc.Active, nil
}

func (m *memAccounts) GetAccountCredentials(_ context.Context, id int64) (*service.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, service.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (m *memAccounts) LoadCredentials(ctx context.Context, id int64) (platform.Credentials, error) {
	acc, err := m.GetAccountCredentials(ctx, id)
	if err != nil {
		return platform.Credentials{}, err
	}
	return acc.Credentials, nil
}

func (m *memAccounts) SaveRefreshedCredentials(_ context.Context, id int64, c platform.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.accounts[id].Credentials = c
	return nil
}

type targetRecord struct {
	status  string
	outcome models.TargetOutcome
	history []string
}

type memTargets struct {
	mu      sync.Mutex
	targets map[int64]*targetRecord
	failN   int
}

func newMemTargets() *memTargets {
	return &memTargets{targets: map[int64]*targetRecord{}}
}

func (m *memTargets) UpdateTargetStatus(_ context.Context, id int64, status string, outcome models.TargetOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failN > 0 && status != models.TargetStatusPublishing {
		m.failN--
		return errors.New("db unavailable")
	}
	rec, ok := m.targets[id]
	if !ok {
		rec = &targetRecord{}
		m.targets[id] = rec
	}
	rec.status = status
	rec.outcome = outcome
	rec.history = append(rec.history, status)
	return nil
}

func (m *memTargets) get(id int64) *targetRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targets[id]
}

func (m *memTargets) statuses(ids ...int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = m.get(id).status
	}
	return out
}

type memMedia struct {
	mu     sync.Mutex
	opened []string
	data   map[string][]byte
}

func (m *memMedia) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = append(m.opened, key)
	b, ok := m.data[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type fixture struct {
	adapters map[string]*fakeAdapter
	accounts *memAccounts
	targets  *memTargets
	media    *memMedia
	d        *Dispatcher
}

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, adapters ...*fakeAdapter) *fixture {
	t.Helper()
	f := &fixture{
		adapters: map[string]*fakeAdapter{},
		accounts: &memAccounts{accounts: map[int64]*service.Account{}},
		targets:  newMemTargets(),
		media:    &memMedia{data: map[string][]byte{}},
	}
	list := make([]platform.Adapter, 0, len(adapters))
	for _, a := range adapters {
		f.adapters[a.name] = a
		list = append(list, a)
	}
	registry := platform.NewRegistry(list...)
	manager := tokens.NewManager(registry, nil)
	f.d = NewDispatcher(registry, f.accounts, f.targets, f.media, manager, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.d.now = func() time.Time { return now }
	f.d.StatusDelay = time.Millisecond
	return f
}

func (f *fixture) addAccount(id int64, name string, active bool) *service.Account {
	acc := &service.Account{
		ID:       id,
		Platform: name,
		Active:   active,
		Credentials: platform.Credentials{
			AccountID:    "acct",
			AccessToken:  "old-token",
			RefreshToken: "old-refresh",
			ExpiresAt:    now.Add(24 * time.Hour),
		},
	}
	f.accounts.accounts[id] = acc
	return acc
}

func job(targetID, accountID int64) models.PublishJob {
	return models.PublishJob{PostID: 1, TargetID: targetID, AccountID: accountID, Content: "hello world"}
}

func transientErr(name string) error {
	return failure.Transient(name, "publish", errors.New("503 upstream"))
}

func TestInactiveAccountShortCircuits(t *testing.T) {
	a := newFakeAdapter(platform.Twitter)
	f := newFixture(t, a)
	f.addAccount(10, platform.Twitter, false)

	err := f.d.Dispatch(context.Background(), job(1, 10), queue.Attempt{Number: 1, Max: 3})
	require.Error(t, err)
	assert.True(t, queue.IsTerminal(err))
	assert.ErrorIs(t, err, ErrAccountDisconnected)

	assert.Zero(t, a.calls())
	assert.Zero(t, a.refreshes)
	rec := f.targets.get(1)
	assert.Equal(t, models.TargetStatusFailed, rec.status)
	assert.Contains(t, rec.outcome.ErrorMessage, "account disconnected")
}

func TestRetryBoundPreservesLastError(t *testing.T) {
	a := newFakeAdapter(platform.Twitter)
	a.publishErr = func(n int, _ *platform.Credentials) error {
		return failure.Transient(platform.Twitter, "publish", errors.New("attempt "+strings.Repeat("I", n)))
	}
	f := newFixture(t, a)
	f.addAccount(10, platform.Twitter, true)

	const max = 3
	var err error
	for n := 1; n <= max; n++ {
		err = f.d.Dispatch(context.Background(), job(1, 10), queue.Attempt{Number: n, Max: max})
		require.Error(t, err)
		if n < max {
			assert.False(t, queue.IsTerminal(err))
			assert.Equal(t, models.TargetStatusPending, f.targets.get(1).status)
		}
	}

	assert.True(t, queue.IsTerminal(err))
	assert.Equal(t, max, len(a.publishToken))
	rec := f.targets.get(1)
	assert.Equal(t, models.TargetStatusFailed, rec.status)
	assert.Contains(t, rec.outcome.ErrorMessage, "attempt III")
	assert.Equal(t, []string{"publishing", "pending", "publishing", "pending", "publishing", "failed"}, rec.history)
}

func TestPartialFanOut(t *testing.T) {
	tw := newFakeAdapter(platform.Twitter)
	li := newFakeAdapter(platform.LinkedIn)
	li.publishErr = func(int, *platform.Credentials) error {
		return failure.Permanent(platform.LinkedIn, "publish", "duplicate content")
	}
	th := newFakeAdapter(platform.Threads)
	th.publishErr = func(n int, _ *platform.Credentials) error {
		if n == 1 {
			return transientErr(platform.Threads)
		}
		return nil
	}
	f := newFixture(t, tw, li, th)
	f.addAccount(1, platform.Twitter, true)
	f.addAccount(2, platform.LinkedIn, true)
	f.addAccount(3, platform.Threads, true)

	ctx := context.Background()
	require.NoError(t, f.d.Dispatch(ctx, job(101, 1), queue.Attempt{Number: 1, Max: 3}))
	errB := f.d.Dispatch(ctx, job(102, 2), queue.Attempt{Number: 1, Max: 3})
	assert.True(t, queue.IsTerminal(errB))
	errC := f.d.Dispatch(ctx, job(103, 3), queue.Attempt{Number: 1, Max: 3})
	assert.False(t, queue.IsTerminal(errC))

	assert.Equal(t, []string{"published", "failed", "pending"}, f.targets.statuses(101, 102, 103))
	assert.Equal(t, models.PostStatusPublishing, service.RecomputePostStatus(f.targets.statuses(101, 102, 103)))

	require.NoError(t, f.d.Dispatch(ctx, job(103, 3), queue.Attempt{Number: 2, Max: 3}))
	assert.Equal(t, []string{"published", "failed", "published"}, f.targets.statuses(101, 102, 103))
	assert.Equal(t, models.PostStatusPublished, service.RecomputePostStatus(f.targets.statuses(101, 102, 103)))

	rec := f.targets.get(101)
	assert.Equal(t, "pp-twitter", rec.outcome.PlatformPostID)
	require.NotNil(t, rec.outcome.PublishedAt)
	assert.Equal(t, now, *rec.outcome.PublishedAt)
}

func TestAuthErrorRefreshesOnceAndRetries(t *testing.T) {
	a := newFakeAdapter(platform.LinkedIn)
	a.publishErr = func(_ int, c *platform.Credentials) error {
		if c.AccessToken == "old-token" {
			return failure.Auth(platform.LinkedIn, "publish", errors.New("expired"))
		}
		return nil
	}
	f := newFixture(t, a)
	f.addAccount(10, platform.LinkedIn, true)

	require.NoError(t, f.d.Dispatch(context.Background(), job(1, 10), queue.Attempt{Number: 1, Max: 3}))

	assert.Equal(t, 1, a.refreshes)
	assert.Equal(t, []string{"old-token", "new-token"}, a.publishToken)
	assert.Equal(t, 1, f.accounts.saves)
	assert.Equal(t, "new-token", f.accounts.accounts[10].Credentials.AccessToken)
	assert.Equal(t, models.TargetStatusPublished, f.targets.get(1).status)
}

func TestAuthErrorAfterRefreshFails(t *testing.T) {
	a := newFakeAdapter(platform.LinkedIn)
	a.publishErr = func(int, *platform.Credentials) error {
		return failure.Auth(platform.LinkedIn, "publish", errors.New("revoked"))
	}
	f := newFixture(t, a)
	f.addAccount(10, platform.LinkedIn, true)

	err := f.d.Dispatch(context.Background(), job(1, 10), queue.Attempt{Number: 1, Max: 3})
	require.Error(t, err)
	assert.True(t, queue.IsTerminal(err))
	assert.Equal(t, 1, a.refreshes)
	assert.Len(t, a.publishToken, 2)
	assert.Equal(t, models.TargetStatusFailed, f.targets.get(1).status)
}

func TestRefreshRejectionStopsAdapterCalls(t *testing.T) {
	a := newFakeAdapter(platform.LinkedIn)
	a.refreshErr = failure.Permanent(platform.LinkedIn, "refresh", "invalid_grant")
	a.publishErr = func(int, *platform.Credentials) error {
		return failure.Auth(platform.LinkedIn, "publish", errors.New("expired"))
	}
	f := newFixture(t, a)
	f.addAccount(10, platform.LinkedIn, true)

	err := f.d.Dispatch(context.Background(), job(1, 10), queue.Attempt{Number: 1, Max: 3})
	require.Error(t, err)
	assert.True(t, queue.IsTerminal(err))
	assert.True(t, failure.IsAuth(err))
	assert.Equal(t, 1, a.refreshes)
	assert.Len(t, a.publishToken, 1)
	assert.Zero(t, f.accounts.saves)
	assert.Equal(t, models.TargetStatusFailed, f.targets.get(1).status)
}

func TestExpiringTokenRefreshedBeforePublish(t *testing.T) {
	a := newFakeAdapter(platform.Twitter)
	f := newFixture(t, a)
	acc := f.addAccount(10, platform.Twitter, true)
	acc.Credentials.ExpiresAt = now.Add(2 * time.Minute)

	require.NoError(t, f.d.Dispatch(context.Background(), job(1, 10), queue.Attempt{Number: 1, Max: 3}))
	assert.Equal(t, 1, a.refreshes)
	assert.Equal(t, []string{"new-token"}, a.publishToken)
	assert.Equal(t, 1, f.accounts.saves)
	assert.Equal(t, "new-refresh", f.accounts.accounts[10].Credentials.RefreshToken)
}

func TestValidationFailsBeforeNetwork(t *testing.T) {
	a := newFakeAdapter(platform.Twitter)
	f := newFixture(t, a)
	f.addAccount(10, platform.Twitter, true)

	j := job(1, 10)
	j.Content = strings.Repeat("x", 281)
	err := f.d.Dispatch(context.Background(), j, queue.Attempt{Number: 1, Max: 3})
	require.Error(t, err)
	assert.True(t, queue.IsTerminal(err))
	assert.Equal(t, failure.KindValidation, failure.KindOf(err))
	assert.Zero(t, a.calls())
}

func TestValidationFailsBeforeTokenRefresh(t *testing.T) {
	a := newFakeAdapter(platform.Twitter)
	f := newFixture(t, a)
	acc := f.addAccount(10, platform.Twitter, true)
	acc.Credentials.ExpiresAt = now.Add(2 * time.Minute)

	j := job(1, 10)
	j.Content = strings.Repeat("x", 281)
	err := f.d.Dispatch(context.Background(), j, queue.Attempt{Number: 1, Max: 3})
	require.Error(t, err)
	assert.Equal(t, failure.KindValidation, failure.KindOf(err))
	assert.Zero(t, a.refreshes)
	assert.Zero(t, f.accounts.saves)
}

func TestMediaUploadedSequentiallyFromStore(t *testing.T) {
	a := newFakeAdapter(platform.Twitter)
	f := newFixture(t, a)
	f.addAccount(10, platform.Twitter, true)
	f.media.data["k1"] = []byte("first")
	f.media.data["k2"] = []byte("second!")

	j := job(1, 10)
	j.Media = []models.MediaRef{
		{Key: "k1", MimeType: "image/png", Size: 5},
		{Key: "k2", MimeType: "image/jpeg", Size: 7},
	}
	require.NoError(t, f.d.Dispatch(context.Background(), j, queue.Attempt{Number: 1, Max: 3}))
	assert.Equal(t, []string{"k1", "k2"}, f.media.opened)
	assert.Equal(t, []int{5, 7}, a.uploadBytes)
}

func TestUploadAuthErrorReopensMedia(t *testing.T) {
	a := newFakeAdapter(platform.Twitter)
	a.uploadErr = func(_ int, c *platform.Credentials) error {
		if c.AccessToken == "old-token" {
			return failure.Auth(platform.Twitter, "upload", errors.New("expired"))
		}
		return nil
	}
	f := newFixture(t, a)
	f.addAccount(10, platform.Twitter, true)
	f.media.data["k1"] = []byte("bytes")

	j := job(1, 10)
	j.Media = []models.MediaRef{{Key: "k1", MimeType: "image/png", Size: 5}}
	require.NoError(t, f.d.Dispatch(context.Background(), j, queue.Attempt{Number: 1, Max: 3}))
	assert.Equal(t, []string{"old-token", "new-token"}, a.uploadTokens)
	assert.Equal(t, []string{"k1"}, f.media.opened)
	assert.Equal(t, []int{5}, a.uploadBytes)
	assert.Equal(t, []string{"new-token"}, a.publishToken)
}

func TestProcessingTimeoutRetriedOnce(t *testing.T) {
	a := newFakeAdapter(platform.Instagram)
	a.publishErr = func(int, *platform.Credentials) error {
		return &failure.Error{Platform: platform.Instagram, Op: "publish", Kind: failure.KindTimeout, Message: "processing timed out"}
	}
	f := newFixture(t, a)
	f.addAccount(10, platform.Instagram, true)

	err := f.d.Dispatch(context.Background(), job(1, 10), queue.Attempt{Number: 1, Max: 3})
	assert.False(t, queue.IsTerminal(err))
	err = f.d.Dispatch(context.Background(), job(1, 10), queue.Attempt{Number: 2, Max: 3})
	assert.True(t, queue.IsTerminal(err))
	assert.Equal(t, models.TargetStatusFailed, f.targets.get(1).status)
}

func TestPublishedStatusWriteFailureIsTerminal(t *testing.T) {
	a := newFakeAdapter(platform.Twitter)
	f := newFixture(t, a)
	f.addAccount(10, platform.Twitter, true)
	f.targets.failN = 10

	err := f.d.Dispatch(context.Background(), job(1, 10), queue.Attempt{Number: 1, Max: 3})
	require.Error(t, err)
	assert.True(t, queue.IsTerminal(err))
	assert.Len(t, a.publishToken, 1)
}

func TestUnknownAccountFailsWithoutAdapterCalls(t *testing.T) {
	a := newFakeAdapter(platform.Twitter)
	f := newFixture(t, a)

	err := f.d.Dispatch(context.Background(), job(1, 11), queue.Attempt{Number: 1, Max: 3})
	assert.True(t, queue.IsTerminal(err))
	assert.Zero(t, a.calls())
}
