package chunkstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "temp_chunks"))
}

func writeChunks(t *testing.T, s *Store, k Key, parts [][]byte) {
	t.Helper()
	for i, p := range parts {
		_, err := s.WriteChunk(k, i, bytes.NewReader(p))
		require.NoError(t, err)
	}
}

func TestKeyNames(t *testing.T) {
	k := Key{Filename: "movie.mkv", UploadID: "abc-123"}
	assert.Equal(t, "movie.mkv.chunk0-abc-123", k.ChunkName(0))
	assert.Equal(t, "movie.mkv.chunk17-abc-123", k.ChunkName(17))
	assert.Equal(t, "movie.mkv.assembled-abc-123", k.ArtifactName())
	assert.Equal(t, "abc-123/movie.mkv", k.String())
}

func TestKeyFits(t *testing.T) {
	id := strings.Repeat("u", 128)
	// ".chunk" + "9" + "-" + id = 136 bytes of suffix.
	assert.True(t, Key{Filename: strings.Repeat("a", 119), UploadID: id}.Fits(10))
	assert.False(t, Key{Filename: strings.Repeat("a", 120), UploadID: id}.Fits(10))
	assert.False(t, Key{Filename: strings.Repeat("a", 119), UploadID: id}.Fits(100), "more digits in the ordinal")
	assert.True(t, Key{Filename: strings.Repeat("a", 200), UploadID: "u1"}.Fits(3))
}

func TestParseName(t *testing.T) {
	tests := []struct {
		name    string
		key     Key
		ordinal int
		ok      bool
	}{
		{"movie.mkv.chunk3-abc-123", Key{"movie.mkv", "abc-123"}, 3, true},
		{"movie.mkv.assembled-abc", Key{"movie.mkv", "abc"}, -1, true},
		{"a.chunk1-x.mkv.chunk0-id", Key{"a.chunk1-x.mkv", "id"}, 0, true},
		{".incoming-12345", Key{}, 0, false},
		{"random.txt", Key{}, 0, false},
		{"movie.mkv.chunk-abc", Key{}, 0, false},
	}
	for _, tt := range tests {
		key, ordinal, ok := ParseName(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		if tt.ok {
			assert.Equal(t, tt.key, key, tt.name)
			assert.Equal(t, tt.ordinal, ordinal, tt.name)
		}
	}
}

func TestWriteChunk_CreatesHoldingArea(t *testing.T) {
	s := newStore(t)
	k := Key{Filename: "a.mkv", UploadID: "u1"}

	n, err := s.WriteChunk(k, 0, strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	got, err := os.ReadFile(s.ChunkPath(k, 0))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestWriteChunk_RetransmitOverwrites(t *testing.T) {
	s := newStore(t)
	k := Key{Filename: "a.mkv", UploadID: "u1"}

	_, err := s.WriteChunk(k, 0, strings.NewReader("first attempt"))
	require.NoError(t, err)
	_, err = s.WriteChunk(k, 0, strings.NewReader("second"))
	require.NoError(t, err)

	got, err := os.ReadFile(s.ChunkPath(k, 0))
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "retransmission must not duplicate the chunk")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestWriteChunk_FailedWriteLeavesNothing(t *testing.T) {
	s := newStore(t)
	k := Key{Filename: "a.mkv", UploadID: "u1"}

	_, err := s.WriteChunk(k, 0, failingReader{})
	require.Error(t, err)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReassemble_ByteIdentical(t *testing.T) {
	s := newStore(t)
	k := Key{Filename: "movie.mkv", UploadID: "u1"}

	original := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	var parts [][]byte
	for off := 0; off < len(original); off += 5000 {
		end := min(off+5000, len(original))
		parts = append(parts, original[off:end])
	}
	writeChunks(t, s, k, parts)

	a, err := s.Reassemble(k, len(parts))
	require.NoError(t, err)

	got, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	assert.Equal(t, original, got)
	assert.Equal(t, int64(len(original)), a.Size)

	sum := sha256.Sum256(original)
	assert.Equal(t, hex.EncodeToString(sum[:]), a.SHA256)

	for i := range parts {
		ok, err := s.HasChunk(k, i)
		require.NoError(t, err)
		assert.False(t, ok, "chunk %d should be consumed", i)
	}
}

func TestReassemble_MissingChunk(t *testing.T) {
	s := newStore(t)
	k := Key{Filename: "movie.mkv", UploadID: "u1"}

	_, err := s.WriteChunk(k, 0, strings.NewReader("a"))
	require.NoError(t, err)
	_, err = s.WriteChunk(k, 2, strings.NewReader("c"))
	require.NoError(t, err)

	_, err = s.Reassemble(k, 3)
	require.ErrorIs(t, err, ErrMissingChunk)

	_, statErr := os.Stat(s.ArtifactPath(k))
	assert.True(t, os.IsNotExist(statErr), "no partial artifact may remain")

	ok, err := s.HasChunk(k, 0)
	require.NoError(t, err)
	assert.True(t, ok, "present chunks stay for a retry")
}

func TestReassemble_ConcurrentUploadsSameFilename(t *testing.T) {
	s := newStore(t)
	a := Key{Filename: "movie.mkv", UploadID: "upload-a"}
	b := Key{Filename: "movie.mkv", UploadID: "upload-b"}

	var wg sync.WaitGroup
	for _, tc := range []struct {
		key  Key
		fill byte
	}{{a, 'A'}, {b, 'B'}} {
		wg.Add(1)
		go func(k Key, fill byte) {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				_, err := s.WriteChunk(k, i, bytes.NewReader(bytes.Repeat([]byte{fill}, 1024)))
				assert.NoError(t, err)
			}
		}(tc.key, tc.fill)
	}
	wg.Wait()

	artA, err := s.Reassemble(a, 8)
	require.NoError(t, err)
	artB, err := s.Reassemble(b, 8)
	require.NoError(t, err)
	assert.NotEqual(t, artA.Path, artB.Path)

	gotA, err := os.ReadFile(artA.Path)
	require.NoError(t, err)
	gotB, err := os.ReadFile(artB.Path)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{'A'}, 8*1024), gotA)
	assert.Equal(t, bytes.Repeat([]byte{'B'}, 8*1024), gotB)
}

func TestReassemble_ExistingArtifactIsNotClobbered(t *testing.T) {
	s := newStore(t)
	k := Key{Filename: "movie.mkv", UploadID: "u1"}
	writeChunks(t, s, k, [][]byte{[]byte("x")})
	require.NoError(t, os.WriteFile(s.ArtifactPath(k), []byte("in progress"), 0o600))

	_, err := s.Reassemble(k, 1)
	require.Error(t, err)

	got, err := os.ReadFile(s.ArtifactPath(k))
	require.NoError(t, err)
	assert.Equal(t, "in progress", string(got))
}

func TestDiscard(t *testing.T) {
	s := newStore(t)
	k := Key{Filename: "movie.mkv", UploadID: "u1"}
	writeChunks(t, s, k, [][]byte{[]byte("x")})

	a, err := s.Reassemble(k, 1)
	require.NoError(t, err)
	require.NoError(t, s.Discard(a))
	require.NoError(t, s.Discard(a), "discarding twice is fine")

	_, err = os.Stat(a.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestStoredSizeAndDiscardChunks(t *testing.T) {
	s := newStore(t)
	k := Key{Filename: "movie.mkv", UploadID: "u1"}
	other := Key{Filename: "movie.mkv", UploadID: "u2"}

	_, err := s.WriteChunk(k, 0, strings.NewReader("abc"))
	require.NoError(t, err)
	_, err = s.WriteChunk(k, 2, strings.NewReader("de"))
	require.NoError(t, err)
	writeChunks(t, s, other, [][]byte{[]byte("zz")})

	size, err := s.StoredSize(k, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	require.NoError(t, s.DiscardChunks(k, 3))
	size, err = s.StoredSize(k, 3)
	require.NoError(t, err)
	assert.Zero(t, size)

	ok, err := s.HasChunk(other, 0)
	require.NoError(t, err)
	assert.True(t, ok, "other uploads keep their chunks")
}
