// Package blob selects a blob store driver. Backups are the only consumer;
// see internal/backup.
package blob

import (
	"context"
	"fmt"

	"slate/internal/blob/core"
	"slate/internal/infra/blob/fs"
	"slate/internal/infra/blob/memory"
	"slate/internal/infra/blob/s3"
)

type (
	// Store is re-exported from core.
	Store = core.Store
	// Info is re-exported from core.
	Info = core.Info
	// PutOptions is re-exported from core.
	PutOptions = core.PutOptions
	// Driver is re-exported from core.
	Driver = core.Driver
)

// Driver names.
const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// Errors shared by every driver.
var (
	ErrNotFound   = core.ErrNotFound
	ErrExists     = core.ErrExists
	ErrInvalidKey = core.ErrInvalidKey
)

// DefaultRoot is used by the filesystem driver when Config.Root is empty.
const DefaultRoot = "./backups"

// Config selects and configures a driver.
type Config struct {
	Driver Driver    `yaml:"driver"`
	Root   string    `yaml:"root"`
	S3     s3.Config `yaml:"s3"`
}

// Open returns the store described by cfg. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		root := cfg.Root
		if root == "" {
			root = DefaultRoot
		}
		return fs.New(root)
	case DriverS3:
		return s3.New(ctx, cfg.S3)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
