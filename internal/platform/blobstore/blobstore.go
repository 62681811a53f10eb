// Package blobstore stores uploaded files (lab reports, lab logos) behind a
// small Store interface with in-memory and S3 backends.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
)

var (
	ErrNotFound           = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrEmptyFile          = errors.New("file is empty")
)

// MaxFileSize is the maximum accepted upload (10 MB).
const MaxFileSize = 10 * 1024 * 1024

// AllowedContentTypes lists the MIME types accepted for uploads.
var AllowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
}

// Object describes a stored file.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is implemented by every storage backend.
type Store interface {
	Put(ctx context.Context, key, contentType string, content io.Reader) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	Delete(ctx context.Context, key string) error
}

// Presigner is implemented by backends that can hand out direct download URLs.
type Presigner interface {
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// ReadUpload drains content up to MaxFileSize, checks the declared content
// type against the allow-list and sniffs the bytes to make sure they agree.
func ReadUpload(contentType string, content io.Reader) ([]byte, string, error) {
	ct := normalizeContentType(contentType)

	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyFile
	}
	if int64(len(data)) > MaxFileSize {
		return nil, "", ErrFileTooLarge
	}

	sniffed := normalizeContentType(http.DetectContentType(data))
	if ct == "" || ct == "application/octet-stream" {
		ct = sniffed
	}
	if !AllowedContentTypes[ct] || sniffed != ct {
		return nil, "", fmt.Errorf("%w: %s", ErrInvalidContentType, ct)
	}
	return data, ct, nil
}

func normalizeContentType(ct string) string {
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Key joins path segments into an object key, dropping any attempt to climb
// out of the prefix.
func Key(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(path.Clean("/"+p), "/")
		if p != "" && p != "." {
			clean = append(clean, p)
		}
	}
	return strings.Join(clean, "/")
}

// ExtensionFor maps an allowed content type to a file extension.
func ExtensionFor(contentType string) string {
	switch normalizeContentType(contentType) {
	case "application/pdf":
		return ".pdf"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	}
	return ""
}

func readerBytes(r io.Reader) ([]byte, error) {
	if b, ok := r.(*bytes.Reader); ok {
		out := make([]byte, b.Len())
		_, err := io.ReadFull(b, out)
		return out, err
	}
	return io.ReadAll(r)
}
