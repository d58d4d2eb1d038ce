package upload

import (
	"errors"
	"net/http"
)

// Kind classifies why a chunk request failed.
type Kind int

const (
	MissingOrInvalidField Kind = iota + 1
	ChecksumMismatch
	DisallowedFileType
	PathTraversalRejected
	DestinationAlreadyExists
	FileTooLarge
	ChunkIOError
	ReassemblyIOError
	PlacementIOError
)

func (k Kind) String() string {
	switch k {
	case MissingOrInvalidField:
		return "MissingOrInvalidField"
	case ChecksumMismatch:
		return "ChecksumMismatch"
	case DisallowedFileType:
		return "DisallowedFileType"
	case PathTraversalRejected:
		return "PathTraversalRejected"
	case DestinationAlreadyExists:
		return "DestinationAlreadyExists"
	case FileTooLarge:
		return "FileTooLarge"
	case ChunkIOError:
		return "ChunkIOError"
	case ReassemblyIOError:
		return "ReassemblyIOError"
	case PlacementIOError:
		return "PlacementIOError"
	default:
		return "Unknown"
	}
}

// IsClientError reports whether the failure was caused by the request
// rather than by the server.
func (k Kind) IsClientError() bool {
	switch k {
	case ChunkIOError, ReassemblyIOError, PlacementIOError:
		return false
	default:
		return k != 0
	}
}

// HTTPStatus maps the kind to a response status code.
func (k Kind) HTTPStatus() int {
	switch {
	case k == FileTooLarge:
		return http.StatusRequestEntityTooLarge
	case k.IsClientError():
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified chunk failure. Msg is safe to show to clients; Err
// carries the underlying cause for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from err. Unclassified errors count as
// ChunkIOError.
func KindOf(err error) Kind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return ChunkIOError
}
