package placement

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-uploader/internal/validation"
)

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in           string
		wantEndpoint string
		wantSecure   bool
		wantErr      bool
	}{
		{"minio:9000", "minio:9000", false, false},
		{"http://minio:9000", "minio:9000", false, false},
		{"https://minio:9000", "minio:9000", true, false},
		{"http://minio:9000/", "minio:9000", false, false},
		{"http://minio:9000/foo", "", false, true},
		{"", "", false, true},
	}

	for _, tt := range tests {
		ep, secure, err := normaliseEndpoint(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("expected error for input %q", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", tt.in, err)
		}
		if ep != tt.wantEndpoint || secure != tt.wantSecure {
			t.Fatalf("normaliseEndpoint(%q) = (%q,%v), want (%q,%v)", tt.in, ep, secure, tt.wantEndpoint, tt.wantSecure)
		}
	}
}

func TestNewObject_IncompleteConfig(t *testing.T) {
	_, err := NewObject(context.Background(), ObjectConfig{Endpoint: "minio:9000"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestObjectResolve(t *testing.T) {
	o := &Object{prefix: "media"}

	key, err := o.Resolve("Movies/2024")
	require.NoError(t, err)
	assert.Equal(t, "media/Movies/2024", key)

	_, err = o.Resolve("../other")
	assert.ErrorIs(t, err, validation.ErrPathTraversal)
}

// TestObjectPlace runs against a throwaway MinIO container. It needs Docker
// and is skipped in -short mode. MINIO_TEST_TAG overrides the image tag.
func TestObjectPlace(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}

	tag := os.Getenv("MINIO_TEST_TAG")
	if tag == "" {
		tag = "RELEASE.2025-04-22T22-12-26Z"
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "minio/minio",
		Tag:        tag,
		Cmd:        []string{"server", "/data"},
		Env: []string{
			"MINIO_ROOT_USER=minio",
			"MINIO_ROOT_PASSWORD=minio123",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
	})
	if err != nil {
		t.Fatalf("could not start minio: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	endpoint := "localhost:" + resource.GetPort("9000/tcp")
	if err := pool.Retry(func() error {
		resp, err := http.Get("http://" + endpoint + "/minio/health/live")
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("minio not ready: %d", resp.StatusCode)
		}
		return nil
	}); err != nil {
		t.Fatalf("minio not ready: %v", err)
	}

	ctx := context.Background()
	cfg := ObjectConfig{Endpoint: endpoint, AccessKey: "minio", SecretKey: "minio123", Bucket: "media", Prefix: "library"}

	_, err = NewObject(ctx, cfg, zerolog.Nop())
	require.Error(t, err, "bucket does not exist yet")

	admin, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4("minio", "minio123", ""),
	})
	require.NoError(t, err)
	require.NoError(t, admin.MakeBucket(ctx, "media", minio.MakeBucketOptions{}))

	o, err := NewObject(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, o.Ping(ctx))

	target, err := o.Resolve("Movies")
	require.NoError(t, err)

	a := artifact(t, "object payload")
	pl, err := o.Place(ctx, a, target, "movie.mkv")
	require.NoError(t, err)
	assert.Equal(t, "s3://media/library/Movies/movie.mkv", pl.Location)
	assert.Equal(t, MethodObject, pl.Method)
	_, err = os.Stat(a.Path)
	assert.True(t, os.IsNotExist(err))

	obj, err := admin.GetObject(ctx, "media", "library/Movies/movie.mkv", minio.GetObjectOptions{})
	require.NoError(t, err)
	got, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, "object payload", string(got))

	_, err = o.Place(ctx, artifact(t, "second"), target, "movie.mkv")
	assert.ErrorIs(t, err, ErrDestinationExists)
	assert.Equal(t, StateClosed, o.breaker.State())

	// A writer that passed the stat before another writer's upload landed
	// still loses at the conditional put.
	_, err = admin.PutObject(ctx, "media", "library/Movies/raced.mkv", strings.NewReader("first"), 5, minio.PutObjectOptions{})
	require.NoError(t, err)
	late := artifact(t, "late")
	_, err = o.putIfAbsent(ctx, "library/Movies/raced.mkv", late)
	assert.ErrorIs(t, err, ErrDestinationExists)
	assert.Equal(t, StateClosed, o.breaker.State())
	_, err = os.Stat(late.Path)
	assert.NoError(t, err, "artifact kept after a lost race")

	obj, err = admin.GetObject(ctx, "media", "library/Movies/raced.mkv", minio.GetObjectOptions{})
	require.NoError(t, err)
	got, err = io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))
}
