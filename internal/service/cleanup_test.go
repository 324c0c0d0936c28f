package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepRemovesOnlyOldOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := []byte("payload")

	id, err := f.svc.Create(ctx, saveMeta(data, 3, false), ownerA, data)
	require.NoError(t, err)
	rec, err := f.svc.FetchByID(ctx, id, ownerA)
	require.NoError(t, err)

	old := time.Now().Add(-48 * time.Hour)
	orphan := filepath.Join(f.dir, "orphan_2020-01-01T00-00-00.000000000Z")
	fresh := filepath.Join(f.dir, "fresh_2020-01-01T00-00-00.000000000Z")
	require.NoError(t, os.WriteFile(orphan, data, 0o644))
	require.NoError(t, os.WriteFile(fresh, data, 0o644))
	require.NoError(t, os.Chtimes(orphan, old, old))
	require.NoError(t, os.Chtimes(filepath.Join(f.dir, rec.BlobLocation), old, old))

	sweeper := NewBlobSweeper(f.blobs, f.repo, SweeperConfig{Grace: time.Hour}, nil)
	removed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, orphan)
	assert.FileExists(t, fresh)
	assert.FileExists(t, filepath.Join(f.dir, rec.BlobLocation))

	removed, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

type brokenChecker struct{}

func (brokenChecker) LocationReferenced(ctx context.Context, location string) (bool, error) {
	return false, errors.New("database gone")
}

func TestSweepKeepsBlobsWhenRecordsUnavailable(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "orphan")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	sweeper := NewBlobSweeper(f.blobs, brokenChecker{}, SweeperConfig{}, nil)
	sweeper.now = func() time.Time { return time.Now().Add(24 * time.Hour) }

	_, err := sweeper.Sweep(context.Background())
	require.Error(t, err)
	assert.FileExists(t, path)
}

func TestSweeperStartStop(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "orphan")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	sweeper := NewBlobSweeper(f.blobs, f.repo, SweeperConfig{Grace: time.Hour, Interval: time.Hour}, nil)
	sweeper.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	sweeper.Start()
	sweeper.Start()
	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 5*time.Second, 10*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop()
}
