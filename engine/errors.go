package engine

import (
	"errors"
	"fmt"
	"io/fs"
)

// Kind classifies a download failure into the categories a caller can act on.
type Kind int

const (
	KindFileExists Kind = iota
	KindDirectoryMissing
	KindPermissionDenied
	KindInvalidResponse
	KindIO
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindFileExists:
		return "file_exists"
	case KindDirectoryMissing:
		return "directory_missing"
	case KindPermissionDenied:
		return "permission_denied"
	case KindInvalidResponse:
		return "invalid_response"
	case KindIO:
		return "io"
	default:
		return "other"
	}
}

// ErrStreamConsumed is returned when a session's stream is used after the
// copy loop has already started once.
var ErrStreamConsumed = errors.New("download stream already consumed")

// Error is the failure surface of the download engine. Kind is the signal
// callers should branch on; Err carries the underlying cause where one is
// preserved.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindFileExists:
		return fmt.Sprintf("file already exists: %s", e.Path)
	case KindDirectoryMissing:
		return fmt.Sprintf("destination path is not a valid directory: %s", e.Path)
	case KindPermissionDenied:
		return fmt.Sprintf("permission denied: %s: %v", e.Path, e.Err)
	case KindInvalidResponse:
		return fmt.Sprintf("unable to acquire download stream: %s", e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Classify converts a raw filesystem or stream error into the taxonomy.
// Access-control denials map to KindPermissionDenied, everything else to
// KindIO. Errors already carrying a Kind pass through unchanged.
func Classify(err error, path string) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, fs.ErrPermission) {
		return &Error{Kind: KindPermissionDenied, Path: path, Err: err}
	}
	return &Error{Kind: KindIO, Path: path, Err: err}
}

// IsKind reports whether err is an engine Error of the given kind.
func IsKind(err error, k Kind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == k
}
