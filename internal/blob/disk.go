package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"checkpoint-sync-api/internal/model"

	"go.uber.org/zap"
)

// DiskStore implements Store on a local directory.
type DiskStore struct {
	root   string
	now    func() time.Time
	logger *zap.Logger
}

// NewDiskStore creates a disk store rooted at dir, creating it if needed.
func NewDiskStore(dir string, logger *zap.Logger) (*DiskStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	logger.Info("disk blob store initialized", zap.String("dir", dir))
	return &DiskStore{
		root:   dir,
		now:    time.Now,
		logger: logger,
	}, nil
}

// Put writes data to a new file. A failed write leaves nothing behind.
func (s *DiskStore) Put(ctx context.Context, displayName string, data []byte) (string, error) {
	const op = "put blob"

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", model.StorageUnavailable(op, err)
		}

		name := Name(displayName, s.now())
		err := writeExclusive(filepath.Join(s.root, name), data)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			s.logger.Error("failed to write blob", zap.String("location", name), zap.Error(err))
			return "", model.StorageUnavailable(op, err)
		}

		s.logger.Debug("blob stored", zap.String("location", name), zap.Int("size", len(data)))
		return name, nil
	}

	return "", model.StorageUnavailable(op, errors.New("no unique blob name available"))
}

// writeExclusive creates path, failing with fs.ErrExist if it is taken.
func writeExclusive(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(path)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	return f.Close()
}

// Open opens the blob at location.
func (s *DiskStore) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	const op = "open blob"

	if !validLocation(location) {
		return nil, ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, model.StorageUnavailable(op, err)
	}

	f, err := os.Open(filepath.Join(s.root, location))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, model.StorageUnavailable(op, err)
	}
	return f, nil
}

// Delete removes the blob at location.
func (s *DiskStore) Delete(ctx context.Context, location string) error {
	const op = "delete blob"

	if !validLocation(location) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return model.StorageUnavailable(op, err)
	}

	if err := os.Remove(filepath.Join(s.root, location)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return model.StorageUnavailable(op, err)
	}
	return nil
}

// List returns every regular file in the store directory.
func (s *DiskStore) List(ctx context.Context) ([]Info, error) {
	const op = "list blobs"

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, model.StorageUnavailable(op, err)
	}

	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, model.StorageUnavailable(op, err)
		}
		if !entry.Type().IsRegular() {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		infos = append(infos, Info{
			Location: entry.Name(),
			Size:     fi.Size(),
			ModTime:  fi.ModTime(),
		})
	}
	return infos, nil
}

var _ Store = (*DiskStore)(nil)
