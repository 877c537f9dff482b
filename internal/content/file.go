package content

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileStore keeps payloads as plain files under a root directory. Refs
// are paths relative to the root; anything escaping the root is treated
// as not found.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create content root: %w", err)
	}
	return &FileStore{root: root}, nil
}

var _ Store = (*FileStore)(nil)

func (s *FileStore) Resolve(_ context.Context, ref string) (io.ReadCloser, error) {
	path, err := s.safePath(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open %s: %w", ref, err)
	}
	return f, nil
}

func (s *FileStore) ContentType(_ context.Context, ref string) (string, error) {
	path, err := s.safePath(ref)
	if err != nil {
		return "", err
	}

	// Extension first, sniff as fallback.
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = ct[:i]
		}
		return ct, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("open %s: %w", ref, err)
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("sniff %s: %w", ref, err)
	}
	ct := http.DetectContentType(buf[:n])
	if ct == "application/octet-stream" {
		return "", ErrUnknownType
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct, nil
}

func (s *FileStore) Put(_ context.Context, name string, r io.Reader, mimeType string) (string, error) {
	if !TypeAllowed(mimeType) {
		return "", ErrUnsupportedType
	}

	ref := fmt.Sprintf("%s/%s%s",
		time.Now().UTC().Format("2006-01"),
		uuid.NewString(),
		safeExt(name))
	path, err := s.safePath(ref)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create content dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", ref, err)
	}
	defer f.Close()

	// Copy one byte over the limit so oversized uploads are detected
	// without buffering the whole payload.
	n, err := io.Copy(f, io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write %s: %w", ref, err)
	}
	if n > MaxUploadBytes {
		os.Remove(path)
		return "", ErrTooLarge
	}
	return ref, nil
}

// safePath resolves a ref inside the root, rejecting traversal.
func (s *FileStore) safePath(ref string) (string, error) {
	clean := filepath.Clean("/" + ref)
	path := filepath.Join(s.root, clean)
	if !strings.HasPrefix(path, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", ErrNotFound
	}
	return path, nil
}

// safeExt keeps only a plausible file extension from an upload name.
func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) > 10 || strings.ContainsAny(ext, "/\\") {
		return ""
	}
	return ext
}
