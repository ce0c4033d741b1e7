// Package storageopen wires storage.Opener to the two concrete
// drivers this system ships: "s3://bucket/prefix" against real AWS
// S3 + CloudFront, and "mem://name" against the in-process test
// double, the same scheme-dispatch shape cmd/ entrypoints need
// without committing storage.Opener itself to a fixed driver set.
package storageopen

import (
	"context"
	"fmt"
	"strings"

	"github.com/repoup/repoup/storage"
	"github.com/repoup/repoup/storage/memstorage"
	"github.com/repoup/repoup/storage/s3"
)

// Open implements storage.Opener across every driver this binary links.
func Open(ctx context.Context, url string) (storage.Driver, error) {
	switch {
	case strings.HasPrefix(url, "s3://"):
		return s3.Open(ctx, strings.TrimPrefix(url, "s3://"))
	case strings.HasPrefix(url, "mem://"):
		return memstorage.New(strings.TrimPrefix(url, "mem://"))
	default:
		return nil, fmt.Errorf("storageopen: unsupported storage URL %q", url)
	}
}
