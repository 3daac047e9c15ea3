// Package backup exports the ledger as a JSON document and stores copies.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/gcsuploader"
	"github.com/dvloznov/finance-assistant/internal/ledger"
	"github.com/dvloznov/finance-assistant/internal/logger"
)

const (
	createdLayout  = "02.01.2006 15:04"
	fileNameLayout = "20060102_1504"
	contentType    = "application/json"
)

// Document is the on-disk backup format.
type Document struct {
	Created     string              `json:"created"`
	RecordCount int                 `json:"record_count"`
	Records     []map[string]string `json:"records"`
}

// Backup is an exported document with its file name and encoded bytes.
type Backup struct {
	Name     string
	Data     []byte
	Document Document
}

// Export renders snap as a backup taken at now. Each record maps header
// labels to cell values; short rows yield empty strings.
func Export(snap *ledger.Snapshot, now time.Time) (Backup, error) {
	doc := Document{
		Created: now.Format(createdLayout),
		Records: []map[string]string{},
	}
	if snap != nil {
		for _, row := range snap.Rows {
			rec := make(map[string]string, len(domain.SheetHeader))
			for i, h := range domain.SheetHeader {
				rec[h] = row.Cell(i)
			}
			doc.Records = append(doc.Records, rec)
		}
	}
	doc.RecordCount = len(doc.Records)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Backup{}, fmt.Errorf("Export: marshal: %w", err)
	}
	return Backup{
		Name:     "backup_" + now.Format(fileNameLayout) + ".json",
		Data:     data,
		Document: doc,
	}, nil
}

// Decode parses a backup document.
func Decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("Decode: %w: %w", domain.ErrData, err)
	}
	return doc, nil
}

// Sink stores a finished backup and reports where it went.
type Sink interface {
	Store(ctx context.Context, name string, data []byte) (string, error)
}

// DirSink writes backups into a local directory.
type DirSink struct {
	Dir string
}

// Store implements Sink.
func (s DirSink) Store(ctx context.Context, name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("Store: creating %s: %w", s.Dir, err)
	}
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("Store: writing %s: %w", path, err)
	}
	return path, nil
}

// ObjectUploader is implemented by *gcsuploader.Uploader.
type ObjectUploader interface {
	UploadBytes(ctx context.Context, bucket, object string, data []byte, contentType string) error
}

// GCSSink uploads backups to a bucket.
type GCSSink struct {
	Uploader ObjectUploader
	Bucket   string
}

// Store implements Sink.
func (s GCSSink) Store(ctx context.Context, name string, data []byte) (string, error) {
	if err := s.Uploader.UploadBytes(ctx, s.Bucket, name, data, contentType); err != nil {
		return "", fmt.Errorf("Store: %w", err)
	}
	return gcsuploader.URI(s.Bucket, name), nil
}

// SnapshotSource is implemented by *ledger.Cache.
type SnapshotSource interface {
	Get(ctx context.Context) (*ledger.Snapshot, error)
}

// Service creates backups from the cached ledger and copies them to every sink.
type Service struct {
	source SnapshotSource
	sinks  []Sink
	now    func() time.Time
	loc    *time.Location
}

// NewService creates a backup service. Timestamps use loc.
func NewService(source SnapshotSource, loc *time.Location, sinks ...Sink) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{source: source, sinks: sinks, now: time.Now, loc: loc}
}

// WithClock replaces time.Now; it returns s for chaining.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create exports the current ledger. Sink failures are logged and do not
// fail the backup; the returned locations list the sinks that succeeded.
func (s *Service) Create(ctx context.Context) (Backup, []string, error) {
	snap, err := s.source.Get(ctx)
	if err != nil {
		return Backup{}, nil, fmt.Errorf("Create: reading ledger: %w", err)
	}
	b, err := Export(snap, s.now().In(s.loc))
	if err != nil {
		return Backup{}, nil, fmt.Errorf("Create: %w", err)
	}

	log := logger.FromContext(ctx)
	var locations []string
	for _, sink := range s.sinks {
		loc, err := sink.Store(ctx, b.Name, b.Data)
		if err != nil {
			log.Warn().Err(err).Str("backup", b.Name).Msg("Failed to store backup copy")
			continue
		}
		locations = append(locations, loc)
	}
	log.Info().Str("backup", b.Name).Int("records", b.Document.RecordCount).Strs("stored_at", locations).Msg("Backup created")
	return b, locations, nil
}
