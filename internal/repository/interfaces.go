package repository

import (
	"context"

	"checkpoint-sync-api/internal/model"
)

// SaveRepository defines save record data access methods.
// Every read and write is scoped by the caller's owner key.
type SaveRepository interface {
	// Create validates meta and inserts one row, returning its id.
	Create(ctx context.Context, meta model.SaveMetadata, ownerKey, blobLocation string) (int64, error)

	// FetchByTitle returns the records of a title visible to ownerKey, ordered by id.
	FetchByTitle(ctx context.Context, titleID int64, ownerKey string) ([]model.SaveRecord, error)

	// FetchByID returns the record if it exists and is visible to ownerKey, nil otherwise.
	FetchByID(ctx context.Context, id int64, ownerKey string) (*model.SaveRecord, error)

	// DeleteByID removes the record only if ownerKey owns it.
	DeleteByID(ctx context.Context, id int64, ownerKey string) (model.DeleteResult, error)

	// LocationReferenced reports whether any row points at a blob location.
	LocationReferenced(ctx context.Context, location string) (bool, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection pool.
	Close() error
}
