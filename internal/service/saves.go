package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"checkpoint-sync-api/internal/blob"
	"checkpoint-sync-api/internal/cache"
	"checkpoint-sync-api/internal/metrics"
	"checkpoint-sync-api/internal/model"
	"checkpoint-sync-api/internal/repository"
	"checkpoint-sync-api/pkg/uid"

	"go.uber.org/zap"
)

// SaveServiceConfig holds configuration for SaveService.
type SaveServiceConfig struct {
	// ListingTTL bounds how long a cached title listing is served. Default: 1 minute
	ListingTTL time.Duration

	// GenerationTTL bounds the lifetime of a title's cache generation token. Default: 24 hours
	GenerationTTL time.Duration
}

// SaveService orchestrates the blob store, the record store and the title listing cache.
type SaveService struct {
	repo   repository.SaveRepository
	blobs  blob.Store
	cache  cache.Cache
	config SaveServiceConfig
	logger *zap.Logger
}

// NewSaveService creates a new save service. listings may be nil to disable caching.
func NewSaveService(repo repository.SaveRepository, blobs blob.Store, listings cache.Cache, config SaveServiceConfig, logger *zap.Logger) *SaveService {
	if config.ListingTTL <= 0 {
		config.ListingTTL = time.Minute
	}
	if config.GenerationTTL <= 0 {
		config.GenerationTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SaveService{
		repo:   repo,
		blobs:  blobs,
		cache:  listings,
		config: config,
		logger: logger,
	}
}

// Create stores data in the blob store and records it for ownerKey.
// Nothing is persisted when the metadata is invalid or the digest does not match the payload.
func (s *SaveService) Create(ctx context.Context, meta model.SaveMetadata, ownerKey string, data []byte) (id int64, err error) {
	const op = "create save"
	defer func() { record("create", err) }()

	if err := meta.Validate(); err != nil {
		return 0, err
	}
	if err := model.ValidateOwnerKey(ownerKey); err != nil {
		return 0, err
	}
	if !DigestMatches(meta.ContentDigest, data) {
		return 0, model.InvalidInput(op, "hash", "content digest does not match the uploaded data")
	}

	location, err := s.blobs.Put(ctx, meta.DisplayName, data)
	if err != nil {
		if model.KindOf(err) == model.KindInternal {
			err = model.StorageUnavailable(op, err)
		}
		return 0, err
	}
	metrics.BlobBytesStoredTotal.Add(float64(len(data)))

	id, err = s.repo.Create(ctx, meta, ownerKey, location)
	if err != nil {
		// The blob is unreachable without its row.
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), location); delErr != nil {
			s.logger.Warn("failed to remove blob after record creation failed",
				zap.String("location", location),
				zap.Error(delErr))
		}
		return 0, err
	}

	s.logger.Debug("save created",
		zap.Int64("id", id),
		zap.String("location", location),
		zap.Int("bytes", len(data)))

	if meta.TitleID != nil {
		s.invalidateTitle(ctx, *meta.TitleID)
	}
	return id, nil
}

// FetchByID returns the record if it exists and is visible to ownerKey, nil otherwise.
func (s *SaveService) FetchByID(ctx context.Context, id int64, ownerKey string) (rec *model.SaveRecord, err error) {
	defer func() { recordLookup("fetch", rec != nil, err) }()
	return s.repo.FetchByID(ctx, id, ownerKey)
}

// FetchByTitle returns every record of titleID visible to ownerKey, ordered by id.
func (s *SaveService) FetchByTitle(ctx context.Context, titleID int64, ownerKey string) (records []model.SaveRecord, err error) {
	defer func() { recordLookup("fetch_title", len(records) > 0, err) }()

	if err := model.ValidateOwnerKey(ownerKey); err != nil {
		return nil, err
	}
	if s.cache == nil {
		return s.repo.FetchByTitle(ctx, titleID, ownerKey)
	}

	gen, ok := s.generation(ctx, titleID)
	if !ok {
		metrics.TitleCacheLookupsTotal.WithLabelValues("bypass").Inc()
		return s.repo.FetchByTitle(ctx, titleID, ownerKey)
	}

	key := listingKey(titleID, gen, ownerKey)
	if data, err := s.cache.Get(ctx, key); err == nil {
		if records, err := decodeListing(data); err == nil {
			metrics.TitleCacheLookupsTotal.WithLabelValues("hit").Inc()
			return records, nil
		}
		s.logger.Warn("discarding undecodable title listing", zap.String("key", key))
	}
	metrics.TitleCacheLookupsTotal.WithLabelValues("miss").Inc()

	records, err = s.repo.FetchByTitle(ctx, titleID, ownerKey)
	if err != nil {
		return nil, err
	}

	if data, err := encodeListing(records); err == nil {
		if err := s.cache.Set(ctx, key, data, s.config.ListingTTL); err != nil {
			s.logger.Warn("failed to cache title listing", zap.Int64("title_id", titleID), zap.Error(err))
		}
	}
	return records, nil
}

// DeleteByID removes the record and its blob if ownerKey owns it.
func (s *SaveService) DeleteByID(ctx context.Context, id int64, ownerKey string) (outcome model.DeleteOutcome, err error) {
	defer func() { recordLookup("delete", outcome == model.DeleteRemoved, err) }()

	res, err := s.repo.DeleteByID(ctx, id, ownerKey)
	if err != nil {
		return model.DeleteNotFound, err
	}

	switch res.Outcome {
	case model.DeleteNotFound:
		return model.DeleteNotFound, nil
	case model.DeleteRemoved:
		cleanupCtx := context.WithoutCancel(ctx)
		if err := s.blobs.Delete(cleanupCtx, res.BlobLocation); err != nil {
			// Left for the sweeper.
			s.logger.Warn("failed to remove blob of deleted save",
				zap.Int64("id", id),
				zap.String("location", res.BlobLocation),
				zap.Error(err))
		}
		if res.TitleID != nil {
			s.invalidateTitle(cleanupCtx, *res.TitleID)
		}
		return model.DeleteRemoved, nil
	}
	return model.DeleteNotFound, model.Internal("delete save", fmt.Errorf("unknown delete outcome %v", res.Outcome))
}

// OpenBlob returns the record and a reader over its payload if the record is visible to ownerKey.
// Both are nil when the record is absent. The caller closes the reader.
func (s *SaveService) OpenBlob(ctx context.Context, id int64, ownerKey string) (*model.SaveRecord, io.ReadCloser, error) {
	const op = "open save data"

	rec, err := s.repo.FetchByID(ctx, id, ownerKey)
	if err != nil || rec == nil {
		return nil, nil, err
	}

	rc, err := s.blobs.Open(ctx, rec.BlobLocation)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			s.logger.Error("save record points at a missing blob",
				zap.Int64("id", rec.ID),
				zap.String("location", rec.BlobLocation))
			return nil, nil, model.Internal(op, err)
		}
		return nil, nil, model.StorageUnavailable(op, err)
	}
	return rec, rc, nil
}

// Ping checks the record store.
func (s *SaveService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// DigestMatches reports whether digest is the MD5 of data, ignoring hex case.
func DigestMatches(digest string, data []byte) bool {
	sum := md5.Sum(data)
	return strings.EqualFold(digest, hex.EncodeToString(sum[:]))
}

func generationKey(titleID int64) string {
	return fmt.Sprintf("saves:title:%d:gen", titleID)
}

func listingKey(titleID int64, gen, ownerKey string) string {
	return fmt.Sprintf("saves:title:%d:gen:%s:owner:%s", titleID, gen, ownerKey)
}

// generation returns the current cache generation of titleID. When none is
// stored a fresh one is written and ok is false, so the caller must not cache
// what it reads in this call.
func (s *SaveService) generation(ctx context.Context, titleID int64) (string, bool) {
	data, err := s.cache.Get(ctx, generationKey(titleID))
	if err == nil && len(data) > 0 {
		return string(data), true
	}
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("failed to read title cache generation", zap.Int64("title_id", titleID), zap.Error(err))
		return "", false
	}

	if err := s.cache.Set(ctx, generationKey(titleID), []byte(uid.New()), s.config.GenerationTTL); err != nil {
		s.logger.Warn("failed to store title cache generation", zap.Int64("title_id", titleID), zap.Error(err))
	}
	return "", false
}

// invalidateTitle moves titleID to a new generation so earlier listings are never read again.
func (s *SaveService) invalidateTitle(ctx context.Context, titleID int64) {
	if s.cache == nil {
		return
	}
	key := generationKey(titleID)
	if err := s.cache.Set(ctx, key, []byte(uid.New()), s.config.GenerationTTL); err != nil {
		s.logger.Warn("failed to rotate title cache generation", zap.Int64("title_id", titleID), zap.Error(err))
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.Error("title listing cache may serve stale data until expiry",
				zap.Int64("title_id", titleID),
				zap.Error(err))
		}
	}
}

// cachedSave keeps the fields SaveRecord hides from JSON.
type cachedSave struct {
	model.SaveRecord
	BlobLocation string `json:"blob_location"`
	OwnerKey     string `json:"owner_key"`
}

func encodeListing(records []model.SaveRecord) ([]byte, error) {
	entries := make([]cachedSave, len(records))
	for i, rec := range records {
		entries[i] = cachedSave{SaveRecord: rec, BlobLocation: rec.BlobLocation, OwnerKey: rec.OwnerKey}
	}
	return json.Marshal(entries)
}

func decodeListing(data []byte) ([]model.SaveRecord, error) {
	var entries []cachedSave
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	records := make([]model.SaveRecord, len(entries))
	for i, e := range entries {
		records[i] = e.SaveRecord
		records[i].BlobLocation = e.BlobLocation
		records[i].OwnerKey = e.OwnerKey
	}
	return records, nil
}

func record(op string, err error) {
	result := "ok"
	if err != nil {
		result = model.KindOf(err).String()
	}
	metrics.SaveOperationsTotal.WithLabelValues(op, result).Inc()
}

func recordLookup(op string, found bool, err error) {
	if err == nil && !found {
		metrics.SaveOperationsTotal.WithLabelValues(op, "not_found").Inc()
		return
	}
	record(op, err)
}
