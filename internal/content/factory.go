package content

import (
	"context"
	"fmt"
)

// Backend selects a content store implementation.
type Backend string

const (
	BackendFile Backend = "file"
	BackendS3   Backend = "s3"
)

// Options configures the store factory.
type Options struct {
	Backend Backend
	Root    string // file backend
	S3      S3Config
}

// Open builds the configured store. An empty backend defaults to file.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendFile, "":
		return NewFileStore(opts.Root)
	case BackendS3:
		return NewS3Store(ctx, opts.S3)
	default:
		return nil, fmt.Errorf("unknown content backend %q", opts.Backend)
	}
}
