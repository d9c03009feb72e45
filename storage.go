package goingest

import (
	"context"
	"fmt"

	"github.com/go-playground/validator"
	"go.uber.org/zap"
)

// Storage is implemented by every component that keeps state outside of the process: the remote
// repositories, the batch trackers and the import catalogs. A Driver initializes its repository
// and tracker, wraps every batch in BeforeRun and AfterRun and shuts them down with itself.
type Storage interface {
	// Prepare hands the storage the process id, the logger and the context of the import process.
	Prepare(ctx context.Context, processID string, logger *zap.Logger) error
	// Setup connects the storage and creates what it needs remotely: the bucket check of a
	// repository, the tables of a tracker, the indices of a catalog. Called once, after the
	// storage struct passed validation.
	Setup() error
	// BeforeRun is called before every import batch.
	BeforeRun() error
	// AfterRun is called after every import batch, also when the batch stopped on a failure.
	AfterRun() error
	// Shutdown releases the connections. Called once.
	Shutdown()
}

// InitStorage initializes a storage not owned by a Driver, e.g. a catalog: it prepares the
// storage, validates its struct tags and sets it up.
func InitStorage(ctx context.Context, storage Storage, processID string, logger *zap.Logger) error {
	return initStorage(storage, ctx, processID, logger)
}

func initStorage(storage Storage, ctx context.Context, processID string, logger *zap.Logger) error {
	if err := storage.Prepare(ctx, processID, logger); err != nil {
		return err
	}
	if err := validator.New().Struct(storage); err != nil {
		return fmt.Errorf("invalid %T config: %v", storage, err)
	}
	if err := storage.Setup(); err != nil {
		return fmt.Errorf("%T setup: %v", storage, err)
	}
	return nil
}

// BaseStorage is embedded by the repositories, trackers and catalogs. It keeps what Prepare
// receives and lets the embedding storage skip the batch hooks it has no use for.
type BaseStorage struct {
	ProcessID string `validate:"required"`
	Context   context.Context
	Logger    *zap.Logger `validate:"required"`
}

// Prepare keeps the process id, the context and the logger.
func (b *BaseStorage) Prepare(ctx context.Context, processID string, logger *zap.Logger) error {
	b.ProcessID = processID
	b.Context = ctx
	b.Logger = logger
	return nil
}

// BeforeRun is a no-op.
func (b *BaseStorage) BeforeRun() error { return nil }

// AfterRun is a no-op.
func (b *BaseStorage) AfterRun() error { return nil }

// Shutdown is a no-op.
func (b *BaseStorage) Shutdown() {}
