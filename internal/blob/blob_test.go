package blob

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"checkpoint-sync-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Pokemon Y", "Pokemon Y"},
		{"../../etc/passwd", "etc_passwd"},
		{"/abs/path/save.bin", "abs_path_save.bin"},
		{`C:\Users\me\save`, "C_Users_me_save"},
		{`..\..\windows`, "windows"},
		{"a/./b", "a_b"},
		{"weird:name*?<>|\"", "weirdname"},
		{".hidden", "hidden"},
		{"", "save"},
		{"../..", "save"},
		{"tab\tname\x00", "tabname"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := SanitizeName(tt.in)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "..")
			assert.NotContains(t, got, "/")
			assert.NotContains(t, got, `\`)
			assert.NotContains(t, got, ":")
		})
	}
}

func TestSanitizeNameTruncates(t *testing.T) {
	got := SanitizeName(strings.Repeat("é", 200))
	assert.LessOrEqual(t, len(got), maxNameBytes)
	assert.True(t, strings.HasPrefix(got, "é"))
}

func TestName(t *testing.T) {
	at := time.Date(2024, 3, 9, 13, 4, 5, 123456789, time.FixedZone("CET", 3600))
	got := Name("../Zelda: BotW", at)

	assert.Equal(t, "Zelda BotW_2024-03-09T12-04-05.123456789Z", got)
	assert.NotContains(t, got, ":")
	assert.NotEqual(t, got, Name("../Zelda: BotW", at.Add(time.Nanosecond)))
}

func newTestDiskStore(t *testing.T) (*DiskStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "blobs")
	s, err := NewDiskStore(dir, nil)
	require.NoError(t, err)
	return s, dir
}

func TestDiskStoreRoundTrip(t *testing.T) {
	s, dir := newTestDiskStore(t)
	ctx := context.Background()
	payload := []byte("save data \x00\x01\x02")

	loc, err := s.Put(ctx, "../Animal Crossing", payload)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(loc, "Animal Crossing_"))
	assert.FileExists(t, filepath.Join(dir, loc))

	rc, err := s.Open(ctx, loc)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, payload, got)

	infos, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, loc, infos[0].Location)
	assert.Equal(t, int64(len(payload)), infos[0].Size)

	require.NoError(t, s.Delete(ctx, loc))
	assert.NoFileExists(t, filepath.Join(dir, loc))
	require.NoError(t, s.Delete(ctx, loc), "deleting a missing blob is not an error")

	_, err = s.Open(ctx, loc)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDiskStoreRetriesOnCollision(t *testing.T) {
	s, _ := newTestDiskStore(t)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	s.now = func() time.Time {
		calls++
		// The first two attempts reuse the same instant.
		if calls <= 2 {
			return fixed
		}
		return fixed.Add(time.Duration(calls))
	}

	first, err := s.Put(context.Background(), "save", []byte("a"))
	require.NoError(t, err)
	second, err := s.Put(context.Background(), "save", []byte("b"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 3, calls)
}

func TestDiskStoreGivesUpWhenNamesExhausted(t *testing.T) {
	s, _ := newTestDiskStore(t)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	_, err := s.Put(context.Background(), "save", []byte("a"))
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "save", []byte("b"))
	require.Error(t, err)
	assert.Equal(t, model.KindStorageUnavailable, model.KindOf(err))
}

func TestDiskStoreUnwritable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	s, dir := newTestDiskStore(t)
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { os.Chmod(dir, 0o755) })

	_, err := s.Put(context.Background(), "save", []byte("a"))
	require.Error(t, err)
	assert.Equal(t, model.KindStorageUnavailable, model.KindOf(err))
}

func TestDiskStoreRejectsTraversalLocations(t *testing.T) {
	s, dir := newTestDiskStore(t)
	outside := filepath.Join(filepath.Dir(dir), "outside.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))

	for _, loc := range []string{"../outside.txt", "", "..", `..\outside.txt`, "/etc/passwd"} {
		_, err := s.Open(context.Background(), loc)
		assert.ErrorIs(t, err, ErrNotFound, loc)
		assert.NoError(t, s.Delete(context.Background(), loc))
	}
	assert.FileExists(t, outside)
}

func TestDiskStoreCancelledContext(t *testing.T) {
	s, _ := newTestDiskStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, "save", []byte("a"))
	assert.Equal(t, model.KindStorageUnavailable, model.KindOf(err))
}
