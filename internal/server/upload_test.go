package server

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-uploader/internal/activity"
	"media-uploader/internal/chunkstore"
	"media-uploader/internal/metrics"
	"media-uploader/internal/placement"
	"media-uploader/internal/upload"
	"media-uploader/internal/validation"
)

type testEnv struct {
	srv      *Server
	root     string
	holding  string
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	root := t.TempDir()
	holding := filepath.Join(t.TempDir(), "temp_chunks")

	placer, err := placement.NewFS(root, zerolog.Nop())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	coord := upload.NewCoordinator(upload.Options{
		Store:       chunkstore.New(holding),
		Placer:      placer,
		Allowed:     validation.NewExtensionSet("mkv"),
		MaxFileSize: 1 << 20,
		Tracker:     activity.NewMemory(),
		Metrics:     m,
		Logger:      zerolog.Nop(),
	})

	srv := New(cfg, Deps{
		Uploads: coord,
		Checks: []Check{
			WritableDirCheck("holding_area", holding),
			DirCheck("destination", root),
		},
		Gatherer: reg,
		Metrics:  m,
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(func() {
		if srv.limiter != nil {
			srv.limiter.stop()
		}
	})
	return &testEnv{srv: srv, root: placer.Root(), holding: holding, registry: reg}
}

type chunkForm struct {
	payload     []byte
	filename    string
	chunk       int
	totalChunks int
	directory   string
	uploadID    string
	checksum    string
	omit        string
}

func (f chunkForm) request(t *testing.T) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	// The browser client sends the file part first.
	if f.omit != "file" {
		fw, err := mw.CreateFormFile("file", "blob")
		require.NoError(t, err)
		_, err = fw.Write(f.payload)
		require.NoError(t, err)
	}
	fields := []struct{ name, value string }{
		{"filename", f.filename},
		{"chunk", strconv.Itoa(f.chunk)},
		{"total_chunks", strconv.Itoa(f.totalChunks)},
		{"directory", f.directory},
		{"upload_uuid", f.uploadID},
		{"checksum", f.checksum},
	}
	for _, field := range fields {
		if field.name == f.omit {
			continue
		}
		require.NoError(t, mw.WriteField(field.name, field.value))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload_chunk", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func sum(b []byte) string {
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestUploadChunk_FullUpload(t *testing.T) {
	env := newTestEnv(t, Config{})
	require.NoError(t, os.Mkdir(filepath.Join(env.root, "Movies"), 0o750))

	parts := [][]byte{[]byte("first-"), []byte("second-"), []byte("third")}
	whole := bytes.Join(parts, nil)

	for i, p := range parts {
		f := chunkForm{
			payload: p, filename: "Film.MKV", chunk: i, totalChunks: len(parts),
			directory: "Movies", uploadID: "3f1c9a7e-upload",
		}
		if i == len(parts)-1 {
			f.checksum = sum(whole)
		}
		rr := env.do(f.request(t))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		want := "Chunk uploaded successfully."
		if i == len(parts)-1 {
			want = "File uploaded and reassembled successfully."
		}
		assert.Equal(t, want, decode(t, rr)["message"])
	}

	got, err := os.ReadFile(filepath.Join(env.root, "Movies", "Film.MKV"))
	require.NoError(t, err)
	assert.Equal(t, whole, got)
}

func TestUploadChunk_MissingFields(t *testing.T) {
	tests := []struct {
		omit string
		want string
	}{
		{"file", "No file part received in request"},
		{"filename", "Filename is missing"},
		{"chunk", "Chunk number is missing"},
		{"total_chunks", "Total chunks is missing"},
		{"directory", "Directory is missing"},
		{"upload_uuid", "Upload UUID is missing"},
	}
	for _, tt := range tests {
		t.Run(tt.omit, func(t *testing.T) {
			env := newTestEnv(t, Config{})
			f := chunkForm{
				payload: []byte("x"), filename: "a.mkv", chunk: 0, totalChunks: 2,
				directory: "Movies", uploadID: "u1", omit: tt.omit,
			}
			rr := env.do(f.request(t))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.want, decode(t, rr)["error"])

			_, err := os.Stat(env.holding)
			assert.True(t, os.IsNotExist(err), "rejected requests write nothing")
		})
	}
}

func TestUploadChunk_NonIntegerChunk(t *testing.T) {
	env := newTestEnv(t, Config{})
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "blob")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("x"))
	for k, v := range map[string]string{
		"filename": "a.mkv", "chunk": "first", "total_chunks": "2",
		"directory": "Movies", "upload_uuid": "u1",
	} {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload_chunk", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := env.do(req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Chunk number must be an integer", decode(t, rr)["error"])
}

func TestUploadChunk_ErrorStatuses(t *testing.T) {
	payload := []byte("content")
	tests := []struct {
		name   string
		form   chunkForm
		setup  func(t *testing.T, env *testEnv)
		status int
	}{
		{
			name:   "checksum mismatch",
			form:   chunkForm{filename: "a.mkv", directory: ".", checksum: sum([]byte("other"))},
			status: http.StatusBadRequest,
		},
		{
			name:   "disallowed type",
			form:   chunkForm{filename: "a.exe", directory: ".", checksum: sum(payload)},
			status: http.StatusBadRequest,
		},
		{
			name:   "traversal",
			form:   chunkForm{filename: "a.mkv", directory: "../../etc", checksum: sum(payload)},
			status: http.StatusBadRequest,
		},
		{
			name: "destination exists",
			form: chunkForm{filename: "a.mkv", directory: ".", checksum: sum(payload)},
			setup: func(t *testing.T, env *testEnv) {
				require.NoError(t, os.WriteFile(filepath.Join(env.root, "a.mkv"), []byte("old"), 0o600))
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "ordinal beyond total",
			form:   chunkForm{filename: "a.mkv", directory: ".", chunk: 5},
			status: http.StatusBadRequest,
		},
		{
			name:   "missing earlier chunk",
			form:   chunkForm{filename: "a.mkv", directory: ".", chunk: 1, totalChunks: 2, checksum: sum(payload)},
			status: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Config{})
			if tt.setup != nil {
				tt.setup(t, env)
			}
			f := tt.form
			f.payload = payload
			f.uploadID = "u1"
			if f.totalChunks == 0 {
				f.totalChunks = 1
			}
			rr := env.do(f.request(t))
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.NotEmpty(t, decode(t, rr)["error"])
		})
	}
}

func TestUploadChunk_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, Config{MaxContentLength: 512})
	f := chunkForm{
		payload: bytes.Repeat([]byte("x"), 4096), filename: "a.mkv", totalChunks: 2,
		directory: ".", uploadID: "u1",
	}
	rr := env.do(f.request(t))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestUploadChunk_FileTooLarge(t *testing.T) {
	env := newTestEnv(t, Config{})
	big := bytes.Repeat([]byte("x"), (1<<20)+1)
	f := chunkForm{
		payload: big, filename: "a.mkv", totalChunks: 1,
		directory: ".", uploadID: "u1", checksum: sum(big),
	}
	rr := env.do(f.request(t))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestUploadChunk_RateLimited(t *testing.T) {
	env := newTestEnv(t, Config{RateLimitPerMinute: 2})
	codes := []int{}
	for i := 0; i < 3; i++ {
		f := chunkForm{payload: []byte("x"), filename: "a.mkv", chunk: 0, totalChunks: 2, directory: ".", uploadID: "u1"}
		req := f.request(t)
		req.RemoteAddr = "203.0.113.9:5000"
		codes = append(codes, env.do(req).Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	// Health endpoints are not limited.
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	assert.Equal(t, http.StatusOK, env.do(req).Code)
}
