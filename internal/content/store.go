// Package content stores staged attachment payloads. Refs are opaque
// identifiers produced by the upload step; the delivery pipeline only
// resolves them to byte streams and content types.
package content

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound means the ref does not resolve to a stored payload.
	ErrNotFound = errors.New("content not found")

	// ErrUnknownType means the payload's content type cannot be
	// determined.
	ErrUnknownType = errors.New("content type unknown")

	// ErrTooLarge means an upload exceeds the admission limit.
	ErrTooLarge = errors.New("content exceeds size limit")

	// ErrUnsupportedType means an upload's media type is not
	// allow-listed.
	ErrUnsupportedType = errors.New("content type not allowed")
)

// MaxUploadBytes is the admission limit for staged attachments (16 MiB,
// the network's media ceiling).
const MaxUploadBytes = 16 << 20

// Store resolves attachment refs to payloads and stages new uploads.
type Store interface {
	// Resolve opens the payload for the ref. Returns ErrNotFound when
	// the ref does not exist. The caller closes the reader.
	Resolve(ctx context.Context, ref string) (io.ReadCloser, error)

	// ContentType reports the payload's MIME type, ErrUnknownType when
	// undeterminable, ErrNotFound when the ref does not exist.
	ContentType(ctx context.Context, ref string) (string, error)

	// Put stages a new payload and returns its ref. Enforces
	// MaxUploadBytes and the media-type allow-list.
	Put(ctx context.Context, name string, r io.Reader, mime string) (string, error)
}

// allowedTypes is the upload admission allow-list.
var allowedTypes = map[string]bool{
	"image/jpeg":         true,
	"image/png":          true,
	"image/gif":          true,
	"image/webp":         true,
	"video/mp4":          true,
	"video/3gpp":         true,
	"audio/mpeg":         true,
	"audio/ogg":          true,
	"audio/mp4":          true,
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"text/plain": true,
}

// TypeAllowed reports whether a MIME type passes upload admission.
func TypeAllowed(mime string) bool {
	return allowedTypes[mime]
}
