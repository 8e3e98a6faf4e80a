// Package storage keeps uploaded evidence files outside the database. A
// backend returns an opaque reference on Save that the progress ledger stores
// in attachments.file_path.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"prospectcrm/internal/platform/config"
	cryptoutil "prospectcrm/internal/platform/crypto"
)

var ErrInvalidRef = errors.New("invalid file reference")

type Backend interface {
	Save(ctx context.Context, name, contentType string, data []byte) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
	Close(ctx context.Context) error
}

// New builds the backend selected by EVIDENCE_STORAGE.
func New(ctx context.Context, cfg config.Config, crypto *cryptoutil.Service) (Backend, error) {
	switch cfg.EvidenceStorage {
	case config.StorageGridFS:
		slog.Info("evidence storage", "backend", "gridfs", "database", cfg.MongoDatabase)
		return NewGridFS(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.StorageDisk, "":
		slog.Info("evidence storage", "backend", "disk", "dir", cfg.EvidenceDir, "encrypted", crypto != nil && crypto.Configured())
		return NewDisk(cfg.EvidenceDir, crypto)
	default:
		return nil, fmt.Errorf("unknown evidence storage %q", cfg.EvidenceStorage)
	}
}
