// Package archive selects a commit snapshot archive backend for the storage
// engines.
package archive

import (
	"context"
	"fmt"
	"os"

	"graphstack/internal/infra/archive/core"
	"graphstack/internal/infra/archive/fs"
	"graphstack/internal/infra/archive/memory"
	"graphstack/internal/infra/archive/s3"
)

// Store aliases core.Store for callers that only need the factory.
type Store = core.Store

// Open selects an archive implementation using environment variables. An
// empty or "off" driver yields a nil store, meaning engines skip archiving.
//
//	GRAPHSTACK_ARCHIVE_DRIVER: off|fs|s3|memory (default off)
//	GRAPHSTACK_ARCHIVE_FS_DIR: directory root when driver=fs (default ./archivedata)
//	(S3 specific variables documented in the s3 package)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("GRAPHSTACK_ARCHIVE_DRIVER")
	switch core.Driver(driver) {
	case "", "off":
		return nil, nil
	case core.DriverFilesystem:
		return fs.New(os.Getenv("GRAPHSTACK_ARCHIVE_FS_DIR"))
	case core.DriverS3:
		return s3.OpenFromEnv(ctx)
	case core.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown archive driver %s", driver)
	}
}
