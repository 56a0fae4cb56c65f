package disc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

const s3Prefix = "s3://"

// IsRemoteImage reports whether device names an S3 disc image.
func IsRemoteImage(device string) bool {
	return strings.HasPrefix(device, s3Prefix)
}

// ImageFetcher downloads remote disc images into a local cache so the
// navigation library can open them like any other image.
type ImageFetcher struct {
	client   s3iface.S3API
	cacheDir string
	logger   *slog.Logger
}

// NewImageFetcher builds a fetcher using the default AWS credential chain
// (AWS_ACCESS_KEY_ID and friends, shared config, instance roles).
func NewImageFetcher(region, cacheDir string, logger *slog.Logger) (*ImageFetcher, error) {
	cfg := aws.NewConfig()
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region != "" {
		cfg = cfg.WithRegion(region)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return newImageFetcher(s3.New(sess), cacheDir, logger), nil
}

func newImageFetcher(client s3iface.S3API, cacheDir string, logger *slog.Logger) *ImageFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageFetcher{client: client, cacheDir: cacheDir, logger: logger}
}

// Resolve returns a local path for device, downloading it first when it is an
// s3:// URL. Other devices pass through.
func (f *ImageFetcher) Resolve(ctx context.Context, device string) (string, error) {
	if !IsRemoteImage(device) {
		return device, nil
	}
	bucket, key, err := splitS3(device)
	if err != nil {
		return "", err
	}

	head, err := f.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("%w: head %s: %w", ErrNoDrive, device, err)
	}
	size := aws.Int64Value(head.ContentLength)

	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure image cache: %w", err)
	}
	local := filepath.Join(f.cacheDir, bucket, filepath.FromSlash(key))
	if info, err := os.Stat(local); err == nil && info.Size() == size {
		f.logger.Info("using cached disc image", "path", local, "bytes", size)
		return local, nil
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", fmt.Errorf("ensure image dir: %w", err)
	}

	f.logger.Info("downloading disc image", "bucket", bucket, "key", key, "bytes", size)
	obj, err := f.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("get %s: %w", device, err)
	}
	defer obj.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(local), ".download-*")
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	n, copyErr := io.Copy(tmp, obj.Body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("download %s: %w", device, err)
	}
	if size > 0 && n != size {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("download %s: got %d of %d bytes", device, n, size)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("store image: %w", err)
	}
	f.logger.Info("disc image downloaded", "path", local, "bytes", n)
	return local, nil
}

func splitS3(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse %s: %w", raw, err)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("s3 image url needs a bucket and an object key: %s", raw)
	}
	return bucket, key, nil
}
