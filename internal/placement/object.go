package placement

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"media-uploader/internal/chunkstore"
	"media-uploader/internal/validation"
)

// ObjectConfig locates the destination bucket.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

// Object places artifacts into an S3-compatible bucket under a key prefix.
type Object struct {
	client  *minio.Client
	bucket  string
	prefix  string
	breaker *Breaker
	logger  zerolog.Logger
}

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	return raw, false, nil
}

// NewObject connects to the object store and checks that the bucket exists.
func NewObject(ctx context.Context, cfg ObjectConfig, logger zerolog.Logger) (*Object, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("object store configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("bucket does not exist: %s", cfg.Bucket)
	}

	return &Object{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		breaker: NewBreaker(5, 30*time.Second, logger),
		logger:  logger,
	}, nil
}

// Resolve returns the key prefix for dir. Buckets have no real directories,
// so any contained prefix is accepted.
func (o *Object) Resolve(dir string) (string, error) {
	return validation.ObjectKeyWithin(o.prefix, dir)
}

// Place uploads the artifact to target/filename unless that key is already
// taken, then removes the artifact.
//
// The stat is only an early exit. The upload itself carries If-None-Match: *,
// so when two writers race for the same new key the store rejects the later
// one with 412 and the first object is kept.
func (o *Object) Place(ctx context.Context, a chunkstore.Artifact, target, filename string) (Placement, error) {
	key := path.Join(target, filename)

	err := o.breaker.Execute(func() error {
		_, err := o.client.StatObject(ctx, o.bucket, key, minio.StatObjectOptions{})
		if err == nil {
			return fmt.Errorf("%w: %s/%s", ErrDestinationExists, o.bucket, key)
		}
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("stat object: %w", err)
	}, isInfraError)
	if err != nil {
		return Placement{}, err
	}

	info, err := o.putIfAbsent(ctx, key, a)
	if err != nil {
		return Placement{}, err
	}

	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		o.logger.Warn().Err(err).Str("artifact", a.Path).Msg("placed but could not remove artifact")
	}

	return Placement{
		Location: "s3://" + o.bucket + "/" + key,
		Size:     info.Size,
		Method:   MethodObject,
	}, nil
}

// Ping checks that the bucket is reachable.
func (o *Object) Ping(ctx context.Context) error {
	ok, err := o.client.BucketExists(ctx, o.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket does not exist: %s", o.bucket)
	}
	return nil
}

// putIfAbsent uploads the artifact to key only if no object exists there.
func (o *Object) putIfAbsent(ctx context.Context, key string, a chunkstore.Artifact) (minio.UploadInfo, error) {
	opts := minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{"sha256": a.SHA256},
	}
	opts.SetMatchETagExcept("*")

	var info minio.UploadInfo
	err := o.breaker.Execute(func() error {
		var err error
		info, err = o.client.FPutObject(ctx, o.bucket, key, a.Path, opts)
		if err == nil {
			return nil
		}
		resp := minio.ToErrorResponse(err)
		if resp.Code == minio.PreconditionFailed || resp.StatusCode == http.StatusPreconditionFailed {
			return fmt.Errorf("%w: %s/%s", ErrDestinationExists, o.bucket, key)
		}
		return fmt.Errorf("put object: %w", err)
	}, isInfraError)
	return info, err
}

func isInfraError(err error) bool {
	return !errors.Is(err, ErrDestinationExists) && !errors.Is(err, context.Canceled)
}
