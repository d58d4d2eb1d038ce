package upload

import (
	"fmt"
	"io"

	"media-uploader/internal/chunkstore"
	"media-uploader/internal/validation"
)

// ChunkRequest is one submit-chunk call after form decoding. Filename is
// sanitised by Validate.
type ChunkRequest struct {
	Payload     io.Reader
	Filename    string
	Ordinal     int
	TotalChunks int
	Directory   string
	UploadID    string
	// Checksum is the hex SHA-256 of the whole file. Only read on the last
	// chunk.
	Checksum string
}

func (r *ChunkRequest) key() chunkstore.Key {
	return chunkstore.Key{Filename: r.Filename, UploadID: r.UploadID}
}

// IsLast reports whether this chunk completes the upload.
func (r *ChunkRequest) IsLast() bool {
	return r.Ordinal+1 == r.TotalChunks
}

// Validate checks every required field and normalises Filename and
// Checksum in place. It has no side effects beyond the request.
func (r *ChunkRequest) Validate() error {
	if r.Payload == nil {
		return newError(MissingOrInvalidField, "missing file part", nil)
	}

	name, err := validation.SanitizeFilename(r.Filename)
	if err != nil {
		return newError(MissingOrInvalidField, "invalid filename", err)
	}
	r.Filename = name

	if err := validation.ValidateUploadID(r.UploadID); err != nil {
		return newError(MissingOrInvalidField, "invalid upload_uuid", err)
	}
	if r.TotalChunks <= 0 {
		return newError(MissingOrInvalidField, "total_chunks must be positive", nil)
	}
	if r.Ordinal < 0 || r.Ordinal >= r.TotalChunks {
		return newError(MissingOrInvalidField,
			fmt.Sprintf("chunk must be between 0 and %d", r.TotalChunks-1), nil)
	}
	if !r.key().Fits(r.TotalChunks) {
		return newError(MissingOrInvalidField, "filename is too long for this upload", nil)
	}

	if r.IsLast() {
		sum, err := validation.NormalizeChecksum(r.Checksum)
		if err != nil {
			return newError(MissingOrInvalidField, "missing or malformed checksum", err)
		}
		r.Checksum = sum
	}
	return nil
}
