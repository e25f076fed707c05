package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ScheduleLayout is the form layout of scheduled_time; RFC 3339 is also
// accepted.
const ScheduleLayout = "2006-01-02T15:04"

var (
	ErrInvalidPost  = errors.New("invalid post")
	ErrPostNotFound = errors.New("post doesn't exist")
)

// JobEnqueuer hands publish jobs to the queue.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job models.PublishJob) (queue.Result, error)
}

type PostService interface {
	CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (*transfer.PostCreated, error)
	List(ctx context.Context, userID int64) ([]*models.Post, error)
	Targets(ctx context.Context, userID, postID int64) ([]*models.PostTarget, error)
	Requeue(ctx context.Context, userID, postID int64) ([]transfer.TargetEnqueue, error)
	RecoverStale(ctx context.Context, dueBefore time.Time, limit int) (int, error)
}

type postService struct {
	db       *sql.DB
	pr       repository.PostRepository
	tr       repository.PostTargetRepository
	ac       repository.SocialAccountRepository
	ma       repository.MediaAssetRepository
	pm       repository.PostMediaRepository
	store    MediaStore
	registry *platform.Registry
	queue    JobEnqueuer
	validate *validator.Validate
	now      func() time.Time
}

func NewPostService(
	db *sql.DB,
	pr repository.PostRepository,
	tr repository.PostTargetRepository,
	ma repository.MediaAssetRepository,
	ac repository.SocialAccountRepository,
	pm repository.PostMediaRepository,
	store MediaStore,
	registry *platform.Registry,
	q JobEnqueuer) PostService {
	return &postService{
		db:       db,
		pr:       pr,
		tr:       tr,
		ac:       ac,
		ma:       ma,
		pm:       pm,
		store:    store,
		registry: registry,
		queue:    q,
		validate: validator.New(),
		now:      time.Now,
	}
}

type sniffedFile struct {
	header *multipart.FileHeader
	kind   types.Type
}

var allowedTypes = map[string]struct{}{
	"mp4": {}, "mov": {}, "jpg": {}, "png": {}, "gif": {}, "webp": {},
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPost, fmt.Sprintf(format, args...))
}

func (s *postService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (*transfer.PostCreated, error) {
	if pc == nil {
		return nil, invalid("post creation data is nil")
	}
	if err := s.validate.Struct(pc); err != nil {
		return nil, invalid("%s", err.Error())
	}

	scheduledTime, err := s.parseSchedule(pc.ScheduledTime)
	if err != nil {
		return nil, err
	}

	var accountIDs []int64
	if err := json.Unmarshal([]byte(pc.SelectedAccounts), &accountIDs); err != nil {
		return nil, invalid("invalid selected accounts format: %v", err)
	}
	accounts, err := s.selectedAccounts(ctx, userID, accountIDs)
	if err != nil {
		return nil, err
	}

	sniffed, err := sniffFiles(files)
	if err != nil {
		return nil, err
	}
	infos := make([]platform.MediaInfo, len(sniffed))
	for i, f := range sniffed {
		infos[i] = platform.MediaInfo{MimeType: f.kind.MIME.Value, Size: f.header.Size}
	}
	for _, acc := range accounts {
		adapter, err := s.registry.Get(acc.Platform)
		if err != nil {
			return nil, invalid("%v", err)
		}
		if err := adapter.Validate(pc.Caption, infos); err != nil {
			return nil, invalid("%v", err)
		}
	}

	assets, err := s.uploadFiles(ctx, userID, sniffed)
	if err != nil {
		return nil, fmt.Errorf("error uploading files: %w", err)
	}

	post := &models.Post{
		UserID:        userID,
		Caption:       pc.Caption,
		Title:         pc.Title,
		ScheduledTime: scheduledTime,
		Status:        models.PostStatusScheduled,
	}
	targets, err := s.persist(ctx, post, assets, accounts)
	if err != nil {
		s.removeUploads(assets)
		return nil, err
	}

	return &transfer.PostCreated{PostID: post.ID, Targets: s.enqueue(ctx, post, assets, targets)}, nil
}

func (s *postService) parseSchedule(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t, err = time.Parse(ScheduleLayout, raw)
	}
	if err != nil {
		return nil, invalid("invalid scheduled time format: %v", err)
	}
	if err := queue.ValidateSchedule(s.now(), t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPost, err)
	}
	t = t.UTC()
	return &t, nil
}

func (s *postService) selectedAccounts(ctx context.Context, userID int64, ids []int64) ([]*models.SocialAccount, error) {
	if len(ids) == 0 {
		return nil, invalid("no social accounts selected")
	}
	seen := make(map[int64]struct{}, len(ids))
	accounts := make([]*models.SocialAccount, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		owned, err := s.ac.CheckByUserID(ctx, id, userID)
		if err != nil {
			return nil, fmt.Errorf("error checking social account %d: %w", id, err)
		}
		if !owned {
			return nil, invalid("social account %d does not exist", id)
		}
		acc, err := s.ac.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("error loading social account %d: %w", id, err)
		}
		if acc == nil {
			return nil, invalid("social account %d does not exist", id)
		}
		if !acc.Active {
			return nil, invalid("social account %d is disconnected", id)
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// sniffFiles detects media types from file content rather than the
// client-supplied name.
func sniffFiles(files []*multipart.FileHeader) ([]sniffedFile, error) {
	out := make([]sniffedFile, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("error opening file: %w", err)
		}
		head := make([]byte, 261)
		n, err := io.ReadFull(f, head)
		f.Close()
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("error reading file content: %w", err)
		}

		kind, err := filetype.Match(head[:n])
		if err != nil || kind == types.Unknown {
			return nil, invalid("unsupported file type: %s", fh.Filename)
		}
		if _, ok := allowedTypes[kind.Extension]; !ok {
			return nil, invalid("file type %s is not allowed", kind.Extension)
		}
		out = append(out, sniffedFile{header: fh, kind: kind})
	}
	return out, nil
}

func (s *postService) uploadFiles(ctx context.Context, userID int64, files []sniffedFile) ([]*models.MediaAsset, error) {
	assets := make([]*models.MediaAsset, 0, len(files))
	for _, sf := range files {
		id, err := gonanoid.New()
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		key := id + "." + sf.kind.Extension

		f, err := sf.header.Open()
		if err != nil {
			return nil, err
		}
		err = s.store.Upload(ctx, key, f, sf.header.Size, sf.kind.MIME.Value)
		f.Close()
		if err != nil {
			s.removeUploads(assets)
			return nil, err
		}

		assets = append(assets, &models.MediaAsset{
			UserID:    userID,
			FileName:  sf.header.Filename,
			ObjectKey: key,
			FileType:  sf.kind.MIME.Value,
			FileSize:  sf.header.Size,
			FileURL:   s.store.PublicURL(key),
		})
	}
	return assets, nil
}

// removeUploads deletes objects whose rows were never committed. It runs
// detached from the request so a cancelled upload still cleans up.
func (s *postService) removeUploads(assets []*models.MediaAsset) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, a := range assets {
		if err := s.store.Delete(ctx, a.ObjectKey); err != nil {
			slog.Error("orphaned media object", "key", a.ObjectKey, "error", err)
		}
	}
}

// persist writes the post, its media and one pending target per account in
// a single transaction.
func (s *postService) persist(ctx context.Context, post *models.Post, assets []*models.MediaAsset, accounts []*models.SocialAccount) (targets []*models.PostTarget, err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	post.ID, err = s.pr.Create(ctx, tx, post)
	if err != nil {
		return nil, fmt.Errorf("error creating post: %w", err)
	}

	for i, asset := range assets {
		asset.ID, err = s.ma.Create(ctx, tx, asset)
		if err != nil {
			return nil, fmt.Errorf("error saving media asset: %w", err)
		}
		if err = s.pm.Create(ctx, tx, &models.PostMedia{PostID: post.ID, AssetID: asset.ID, DisplayOrder: i}); err != nil {
			return nil, fmt.Errorf("error saving post media: %w", err)
		}
	}

	for _, acc := range accounts {
		t := &models.PostTarget{
			PostID:          post.ID,
			SocialAccountID: acc.ID,
			Platform:        acc.Platform,
			Status:          models.TargetStatusPending,
		}
		t.ID, err = s.tr.Create(ctx, tx, t)
		if err != nil {
			return nil, fmt.Errorf("error saving target for account %d: %w", acc.ID, err)
		}
		targets = append(targets, t)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return targets, nil
}

func buildJob(post *models.Post, assets []*models.MediaAsset, t *models.PostTarget) models.PublishJob {
	job := models.PublishJob{
		PostID:    post.ID,
		TargetID:  t.ID,
		AccountID: t.SocialAccountID,
		Content:   post.Caption,
		Title:     post.Title,
		Media:     make([]models.MediaRef, len(assets)),
		NotBefore: post.ScheduledTime,
	}
	for i, a := range assets {
		job.Media[i] = models.MediaRef{AssetID: a.ID, Key: a.ObjectKey, URL: a.FileURL, MimeType: a.FileType, Size: a.FileSize}
	}
	return job
}

// enqueue hands each target to the queue. Failures leave the target pending
// for the recovery job and are reported per target.
func (s *postService) enqueue(ctx context.Context, post *models.Post, assets []*models.MediaAsset, targets []*models.PostTarget) []transfer.TargetEnqueue {
	out := make([]transfer.TargetEnqueue, 0, len(targets))
	for _, t := range targets {
		res := transfer.TargetEnqueue{TargetID: t.ID, AccountID: t.SocialAccountID, Platform: t.Platform}
		r, err := s.queue.Enqueue(ctx, buildJob(post, assets, t))
		if err != nil {
			slog.Error("enqueue failed, target left pending", "post_id", post.ID, "target_id", t.ID, "error", err)
			res.Result = "error"
			res.Error = err.Error()
		} else {
			res.Result = string(r)
		}
		out = append(out, res)
	}
	return out
}

func (s *postService) ownedPost(ctx context.Context, userID, postID int64) (*models.Post, error) {
	if userID == 0 || postID == 0 {
		return nil, ErrPostNotFound
	}
	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	if !isValid {
		return nil, ErrPostNotFound
	}
	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, ErrPostNotFound
	}
	return post, nil
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	posts, err := s.pr.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting posts: %w", err)
	}
	return posts, nil
}

func (s *postService) Targets(ctx context.Context, userID, postID int64) ([]*models.PostTarget, error) {
	if _, err := s.ownedPost(ctx, userID, postID); err != nil {
		return nil, err
	}
	return s.tr.ListByPostID(ctx, postID)
}

// Requeue re-enqueues the pending targets of a post. Targets whose job is
// still queued come back as duplicates.
func (s *postService) Requeue(ctx context.Context, userID, postID int64) ([]transfer.TargetEnqueue, error) {
	post, err := s.ownedPost(ctx, userID, postID)
	if err != nil {
		return nil, err
	}
	targets, err := s.tr.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}
	var pending []*models.PostTarget
	for _, t := range targets {
		if t.Status == models.TargetStatusPending {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return []transfer.TargetEnqueue{}, nil
	}
	assets, err := s.ma.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}
	return s.enqueue(ctx, post, assets, pending), nil
}

// RecoverStale re-enqueues targets still pending after their post was due.
// It returns the number of jobs accepted by the queue.
func (s *postService) RecoverStale(ctx context.Context, dueBefore time.Time, limit int) (int, error) {
	targets, err := s.tr.ListStalePending(ctx, dueBefore, limit)
	if err != nil {
		return 0, err
	}

	byPost := map[int64][]*models.PostTarget{}
	var order []int64
	for _, t := range targets {
		if _, ok := byPost[t.PostID]; !ok {
			order = append(order, t.PostID)
		}
		byPost[t.PostID] = append(byPost[t.PostID], t)
	}

	accepted := 0
	for _, postID := range order {
		post, err := s.pr.GetByID(ctx, postID)
		if err != nil {
			return accepted, err
		}
		if post == nil {
			continue
		}
		assets, err := s.ma.ListByPostID(ctx, postID)
		if err != nil {
			return accepted, err
		}
		for _, r := range s.enqueue(ctx, post, assets, byPost[postID]) {
			if r.Result == string(queue.Accepted) {
				accepted++
			}
		}
	}
	return accepted, nil
}
