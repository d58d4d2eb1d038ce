package validation

import "errors"

var (
	ErrInvalidFilename    = errors.New("invalid filename")
	ErrInvalidUploadID    = errors.New("invalid upload id")
	ErrInvalidChecksum    = errors.New("checksum is not a sha256 hex digest")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrDisallowedFileType = errors.New("file type not allowed")
	ErrPathTraversal      = errors.New("directory escapes destination root")
	ErrDirectoryNotFound  = errors.New("target directory does not exist")
)
