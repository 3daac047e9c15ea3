// Package gcsuploader stores and fetches backup documents in Google Cloud Storage.
package gcsuploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/finance-assistant/internal/domain"
)

// DefaultTimeout bounds a single upload or download.
const DefaultTimeout = 2 * time.Minute

// Uploader wraps a shared storage client.
type Uploader struct {
	client  *storage.Client
	timeout time.Duration
}

// New creates an uploader using Application Default Credentials.
func New(ctx context.Context) (*Uploader, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("New: create storage client: %w: %w", domain.ErrExternalService, err)
	}
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *storage.Client) *Uploader {
	return &Uploader{client: client, timeout: DefaultTimeout}
}

// Close releases the underlying client.
func (u *Uploader) Close() error {
	return u.client.Close()
}

// UploadBytes writes data to bucket/object, replacing any existing object.
func (u *Uploader) UploadBytes(ctx context.Context, bucket, object string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	w := u.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("UploadBytes: copy to writer: %w: %w", domain.ErrExternalService, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("UploadBytes: finalize upload: %w: %w", domain.ErrExternalService, err)
	}
	return nil
}

// Download reads the object at a gs:// URI.
func (u *Uploader) Download(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	rc, err := u.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Download: reading object %s/%s: %w: %w", bucket, object, domain.ErrExternalService, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Download: reading bytes: %w: %w", domain.ErrExternalService, err)
	}
	return data, nil
}

// ParseURI splits gs://bucket/path/to/object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("ParseURI: invalid GCS URI %q: %w", uri, domain.ErrValidation)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("ParseURI: no object path in %q: %w", uri, domain.ErrValidation)
	}
	return parts[0], parts[1], nil
}

// URI builds a gs:// URI.
func URI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}
