package storage

import (
	"context"
	"fmt"
)

// Options select and configure a driver.
type Options struct {
	Driver Driver
	Dir    string
	S3     S3Options
}

// Open returns the Store selected by o.Driver; fs is the default.
func Open(ctx context.Context, o Options) (Store, error) {
	switch o.Driver {
	case DriverFilesystem, "":
		return NewFilesystem(o.Dir)
	case DriverS3:
		return NewS3Store(ctx, o.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", o.Driver)
	}
}
