// Package s3 implements storage.Driver against an AWS S3 bucket, with
// CloudFront cache invalidation, following the shape of
// evalgo-org-eve's storage.s3aws driver (shared AWS SDK v2 session
// config, a single client per driver instance) adapted to the
// per-transaction scratch-directory contract of spec §4.1.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/repoup/repoup/repoerr"
)

const sameCallerReferenceMessage = "Your request contains a caller reference that was used for a " +
	"previous invalidation batch for the same distribution"

// Driver is an S3-backed storage.Driver.
type Driver struct {
	bucket           string
	prefix           string
	client           *s3.Client
	cloudfront       *cloudfront.Client
	distributionID   string
	scratchDir       string
	scratchOwnedHere bool
}

// Open parses "bucket/prefix" (as produced by splitting an "s3://"
// URL) and opens an S3 client, honouring S3_ENDPOINT_URL for test
// doubles and CLOUDFRONT_DISTRIBUTION_ID for cache invalidation.
func Open(ctx context.Context, bucketAndPrefix string) (*Driver, error) {
	bucket, prefix, _ := strings.Cut(bucketAndPrefix, "/")

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if endpoint := os.Getenv("S3_ENDPOINT_URL"); endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		})
	}

	scratchDir, err := os.MkdirTemp("", "repoup-"+uuid.NewString()+"-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}

	return &Driver{
		bucket:           bucket,
		prefix:           prefix,
		client:           s3.NewFromConfig(cfg, s3Opts...),
		cloudfront:       cloudfront.NewFromConfig(cfg),
		distributionID:   os.Getenv("CLOUDFRONT_DISTRIBUTION_ID"),
		scratchDir:       scratchDir,
		scratchOwnedHere: true,
	}, nil
}

// Path implements storage.Driver.
func (d *Driver) Path() string { return d.scratchDir }

// Join implements storage.Driver.
func (d *Driver) Join(parts []string, absolute bool) string {
	if absolute {
		return path.Join(parts...)
	}
	return path.Join(append([]string{d.prefix}, parts...)...)
}

// TmpJoin implements storage.Driver.
func (d *Driver) TmpJoin(parts ...string) string {
	return filepath.Join(append([]string{d.scratchDir}, parts...)...)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

// PutObject implements storage.Driver.
func (d *Driver) PutObject(ctx context.Context, path string, body []byte, absolute bool) error {
	key := d.Join([]string{path}, absolute)
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &d.bucket,
		Key:    &key,
		Body:   bytes.NewReader(body),
	})
	return err
}

// GetObject implements storage.Driver.
func (d *Driver) GetObject(ctx context.Context, p string, absolute bool) ([]byte, error) {
	key := d.Join([]string{p}, absolute)
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &d.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) {
			return nil, &repoerr.PackageNotFound{Key: key}
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// GetFile implements storage.Driver.
func (d *Driver) GetFile(ctx context.Context, p, dst string, absolute bool) error {
	if dst == "" {
		dst = p
	}
	key := d.Join([]string{p}, absolute)
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &d.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) {
			return &repoerr.PackageNotFound{Key: key}
		}
		return err
	}
	defer out.Body.Close()

	dstPath := d.TmpJoin(dst)
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, out.Body)
	return err
}

// PutFile implements storage.Driver.
func (d *Driver) PutFile(ctx context.Context, relpath string, absolute bool) error {
	f, err := os.Open(d.TmpJoin(relpath))
	if err != nil {
		return err
	}
	defer f.Close()
	key := d.Join([]string{relpath}, absolute)
	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{Bucket: &d.bucket, Key: &key, Body: f})
	return err
}

// Remove implements storage.Driver. It is idempotent: a missing key is
// not an error, following the original's head-before-delete trick to
// avoid masking issues other than "already gone".
func (d *Driver) Remove(ctx context.Context, p string, absolute bool) error {
	key := d.Join([]string{p}, absolute)
	_, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &d.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	_, err = d.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &d.bucket, Key: &key})
	return err
}

// Exists implements storage.Driver.
func (d *Driver) Exists(ctx context.Context, p string, absolute bool) (bool, error) {
	key := d.Join([]string{p}, absolute)
	_, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &d.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RemoveTmp implements storage.Driver.
func (d *Driver) RemoveTmp(relpath string) error {
	err := os.Remove(d.TmpJoin(relpath))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// InvalidateCache implements storage.Driver, retrying on throttling and
// absorbing a duplicate-batch response, per spec §4.1.
func (d *Driver) InvalidateCache(ctx context.Context, paths []string) error {
	if d.distributionID == "" || len(paths) == 0 {
		return nil
	}

	items := make([]string, len(paths))
	for i, p := range paths {
		items[i] = "/" + p
	}
	quantity := int32(len(items))
	callerRef := uuid.NewString()

	input := &cloudfront.CreateInvalidationInput{
		DistributionId: &d.distributionID,
		InvalidationBatch: &cftypes.InvalidationBatch{
			CallerReference: &callerRef,
			Paths: &cftypes.Paths{
				Quantity: &quantity,
				Items:    items,
			},
		},
	}

	for {
		_, err := d.cloudfront.CreateInvalidation(ctx, input)
		if err == nil {
			return nil
		}

		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "Throttling":
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Second):
				}
				continue
			case "InvalidationBatchAlreadyExists":
				return nil
			case "InvalidArgument":
				if strings.Contains(apiErr.ErrorMessage(), sameCallerReferenceMessage) {
					return nil
				}
			}
		}
		return err
	}
}

// Close implements storage.Driver.
func (d *Driver) Close() error {
	if d.scratchOwnedHere {
		return os.RemoveAll(d.scratchDir)
	}
	return nil
}
