package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"checkpoint-sync-api/internal/identity"
	"checkpoint-sync-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ownerA = identity.MustDerive("SERIAL-A")
	ownerB = identity.MustDerive("SERIAL-B")
)

func setupTestRepository(t *testing.T) *SQLSaveRepository {
	t.Helper()

	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)

	repo, err := NewSQLSaveRepository(context.Background(), db, Options{Dialect: DialectSQLite})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func metadata(titleID int64, private bool) model.SaveMetadata {
	code := "CTR-P-EKJA"
	return model.SaveMetadata{
		ContentDigest: strings.Repeat("ab", 16),
		IsPrivate:     private,
		ProductCode:   &code,
		TitleID:       &titleID,
		Platform:      model.Platform3DS,
		DisplayName:   "Pokemon Y",
	}
}

func mustCreate(t *testing.T, repo *SQLSaveRepository, meta model.SaveMetadata, owner string) int64 {
	t.Helper()
	id, err := repo.Create(context.Background(), meta, owner, "Pokemon Y_2024-01-01T00-00-00.000000000Z")
	require.NoError(t, err)
	return id
}

func TestCreateAndFetchByID(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	repo.now = func() time.Time { return fixed }

	meta := metadata(2000, true)
	meta.ContentDigest = strings.ToUpper(meta.ContentDigest)
	id, err := repo.Create(ctx, meta, ownerA, "loc-1")
	require.NoError(t, err)
	assert.Positive(t, id)

	rec, err := repo.FetchByID(ctx, id, ownerA)
	require.NoError(t, err)
	require.NotNil(t, rec, "a create must be visible to the next read")

	assert.Equal(t, id, rec.ID)
	assert.True(t, rec.CreatedAt.Equal(fixed.Truncate(time.Microsecond)))
	assert.Equal(t, strings.Repeat("ab", 16), rec.ContentDigest)
	assert.Equal(t, "loc-1", rec.BlobLocation)
	assert.True(t, rec.IsPrivate)
	require.NotNil(t, rec.ProductCode)
	assert.Equal(t, "CTR-P-EKJA", *rec.ProductCode)
	assert.Equal(t, ownerA, rec.OwnerKey)
	require.NotNil(t, rec.TitleID)
	assert.Equal(t, int64(2000), *rec.TitleID)
	assert.Equal(t, model.Platform3DS, rec.Platform)
	assert.Equal(t, "Pokemon Y", rec.DisplayName)
}

func TestCreateNullableFields(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	meta := metadata(0, false)
	meta.TitleID = nil
	meta.ProductCode = nil
	meta.Platform = model.PlatformSwitch

	id := mustCreate(t, repo, meta, ownerA)
	rec, err := repo.FetchByID(ctx, id, ownerB)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Nil(t, rec.TitleID)
	assert.Nil(t, rec.ProductCode)
	assert.Equal(t, model.PlatformSwitch, rec.Platform)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	short := metadata(2000, true)
	short.ContentDigest = short.ContentDigest[:31]

	tests := []struct {
		name     string
		meta     model.SaveMetadata
		owner    string
		location string
	}{
		{"short digest", short, ownerA, "loc"},
		{"bad owner key", metadata(2000, true), "not-a-key", "loc"},
		{"missing location", metadata(2000, true), ownerA, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.Create(ctx, tt.meta, tt.owner, tt.location)
			require.Error(t, err)
			assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
		})
	}

	records, err := repo.FetchByTitle(ctx, 2000, ownerA)
	require.NoError(t, err)
	assert.Empty(t, records, "no row may be written for invalid input")
}

func TestPrivateRecordVisibility(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	id := mustCreate(t, repo, metadata(2000, true), ownerA)

	for i := 0; i < 20; i++ {
		other := identity.MustDerive(fmt.Sprintf("OTHER-%d", i))
		rec, err := repo.FetchByID(ctx, id, other)
		require.NoError(t, err)
		assert.Nil(t, rec)
	}

	rec, err := repo.FetchByID(ctx, id, ownerA)
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestPublicRecordVisibility(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	id := mustCreate(t, repo, metadata(2000, false), ownerA)

	for _, k := range []string{ownerA, ownerB, identity.MustDerive("anyone")} {
		rec, err := repo.FetchByID(ctx, id, k)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, id, rec.ID)
	}
}

func TestFetchByIDAbsentIsIdempotent(t *testing.T) {
	repo := setupTestRepository(t)
	for i := 0; i < 3; i++ {
		rec, err := repo.FetchByID(context.Background(), 424242, ownerA)
		require.NoError(t, err)
		assert.Nil(t, rec)
	}
}

func TestFetchByTitle(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	privateA := mustCreate(t, repo, metadata(2000, true), ownerA)

	records, err := repo.FetchByTitle(ctx, 2000, ownerA)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, privateA, records[0].ID)

	records, err = repo.FetchByTitle(ctx, 2000, ownerB)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)

	publicB := mustCreate(t, repo, metadata(2000, false), ownerB)
	privateB := mustCreate(t, repo, metadata(2000, true), ownerB)
	mustCreate(t, repo, metadata(3000, false), ownerA)

	records, err = repo.FetchByTitle(ctx, 2000, ownerA)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, privateA, records[0].ID)
	assert.Equal(t, publicB, records[1].ID)

	records, err = repo.FetchByTitle(ctx, 2000, ownerB)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, publicB, records[0].ID)
	assert.Equal(t, privateB, records[1].ID)
}

func TestDeleteByID(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	id := mustCreate(t, repo, metadata(2000, false), ownerA)

	res, err := repo.DeleteByID(ctx, id, ownerB)
	require.NoError(t, err)
	assert.Equal(t, model.DeleteNotFound, res.Outcome)

	rec, err := repo.FetchByID(ctx, id, ownerA)
	require.NoError(t, err)
	require.NotNil(t, rec, "a failed delete must leave the record in place")

	res, err = repo.DeleteByID(ctx, id, ownerA)
	require.NoError(t, err)
	assert.Equal(t, model.DeleteRemoved, res.Outcome)
	assert.Equal(t, "Pokemon Y_2024-01-01T00-00-00.000000000Z", res.BlobLocation)
	require.NotNil(t, res.TitleID)
	assert.Equal(t, int64(2000), *res.TitleID)

	for i := 0; i < 3; i++ {
		res, err = repo.DeleteByID(ctx, id, ownerA)
		require.NoError(t, err)
		assert.Equal(t, model.DeleteNotFound, res.Outcome)
	}

	rec, err = repo.FetchByID(ctx, id, ownerA)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestDeletePrivateByOwnerOnly(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	id := mustCreate(t, repo, metadata(2000, true), ownerA)

	res, err := repo.DeleteByID(ctx, id, ownerB)
	require.NoError(t, err)
	assert.Equal(t, model.DeleteNotFound, res.Outcome)

	res, err = repo.DeleteByID(ctx, id, ownerA)
	require.NoError(t, err)
	assert.Equal(t, model.DeleteRemoved, res.Outcome)
}

func TestIDsAreNotReused(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	first := mustCreate(t, repo, metadata(2000, false), ownerA)
	res, err := repo.DeleteByID(ctx, first, ownerA)
	require.NoError(t, err)
	require.Equal(t, model.DeleteRemoved, res.Outcome)

	second := mustCreate(t, repo, metadata(2000, false), ownerA)
	assert.Greater(t, second, first)
}

func TestDeleteDetectsDuplicatePrimaryKey(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)

	// A table without the primary key constraint lets two rows share an id.
	_, err = db.Exec(`CREATE TABLE saves (
		id INTEGER, created_at DATETIME, content_digest TEXT, blob_location TEXT, is_private BOOLEAN,
		product_code TEXT, owner_key TEXT, title_id INTEGER, platform TEXT, display_name TEXT)`)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = db.Exec(`INSERT INTO saves VALUES (7, ?, ?, 'loc', 1, NULL, ?, 2000, '3DS', 'dup')`,
			time.Now().UTC(), strings.Repeat("ab", 16), ownerA)
		require.NoError(t, err)
	}

	repo, err := NewSQLSaveRepository(context.Background(), db, Options{Dialect: DialectSQLite})
	require.NoError(t, err)
	defer repo.Close()

	_, err = repo.DeleteByID(context.Background(), 7, ownerA)
	require.Error(t, err)
	assert.Equal(t, model.KindInternal, model.KindOf(err))
	assert.ErrorIs(t, err, model.ErrIntegrity)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM saves WHERE id = 7`).Scan(&n))
	assert.Equal(t, 2, n, "the delete must be rolled back")
}

func TestQueriesTreatInputAsData(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	meta := metadata(2000, true)
	meta.DisplayName = `x'); DROP TABLE saves; --`
	id := mustCreate(t, repo, meta, ownerA)

	rec, err := repo.FetchByID(ctx, id, ownerA)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, meta.DisplayName, rec.DisplayName)

	_, err = repo.FetchByTitle(ctx, 2000, `' OR '1'='1`)
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
}

func TestLocationReferenced(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, metadata(2000, false), ownerA, "referenced")
	require.NoError(t, err)

	ok, err := repo.LocationReferenced(ctx, "referenced")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.LocationReferenced(ctx, "orphan")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentCreates(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan int64, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := repo.Create(ctx, metadata(2000, false), ownerA, "loc")
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}

	records, err := repo.FetchByTitle(ctx, 2000, ownerB)
	require.NoError(t, err)
	assert.Len(t, records, 20)
}
