package blob

import (
	"context"
	"fmt"
	"os"
)

// Options selects a backend explicitly. Empty fields fall back to defaults.
type Options struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open selects a Store implementation using environment variables.
//
//	BAYPLANNER_BLOB_DRIVER: fs|s3|memory (default fs)
//	BAYPLANNER_BLOB_FS_ROOT: directory root when driver=fs (default ./journals)
//	(S3 specific variables documented in the s3 backend)
func Open(ctx context.Context) (Store, error) {
	driver := Driver(os.Getenv("BAYPLANNER_BLOB_DRIVER"))
	if driver == DriverS3 {
		return OpenS3FromEnv(ctx)
	}
	return OpenWith(ctx, Options{Driver: driver, FSRoot: os.Getenv("BAYPLANNER_BLOB_FS_ROOT")})
}

// OpenWith builds a Store from explicit options.
func OpenWith(ctx context.Context, opts Options) (Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(opts.FSRoot)
	case DriverS3:
		return NewS3(ctx, opts.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
