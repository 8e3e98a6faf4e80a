package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	cryptoutil "prospectcrm/internal/platform/crypto"
)

const encryptedSuffix = ".enc"

// Disk stores files in a single directory under random names. When the
// crypto service has a key the content is sealed with AES-GCM at rest.
type Disk struct {
	dir    string
	crypto *cryptoutil.Service
}

func NewDisk(dir string, crypto *cryptoutil.Service) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	return &Disk{dir: dir, crypto: crypto}, nil
}

func (d *Disk) encrypted() bool {
	return d.crypto != nil && d.crypto.Configured()
}

func (d *Disk) Save(ctx context.Context, name, contentType string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	ref := uuid.NewString() + ext
	payload := data
	if d.encrypted() {
		sealed, err := d.crypto.Encrypt(data)
		if err != nil {
			return "", fmt.Errorf("encrypt evidence: %w", err)
		}
		payload = sealed
		ref += encryptedSuffix
	}
	if err := os.WriteFile(filepath.Join(d.dir, ref), payload, 0o600); err != nil {
		return "", err
	}
	return ref, nil
}

func (d *Disk) path(ref string) (string, error) {
	if ref == "" || filepath.Base(ref) != ref || strings.HasPrefix(ref, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(d.dir, ref), nil
}

func (d *Disk) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	path, err := d.path(ref)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(ref, encryptedSuffix) {
		return os.Open(path)
	}
	if !d.encrypted() {
		return nil, fmt.Errorf("evidence %q is encrypted but no key is configured", ref)
	}
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	plain, err := d.crypto.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypt evidence: %w", err)
	}
	return io.NopCloser(bytes.NewReader(plain)), nil
}

func (d *Disk) Delete(ctx context.Context, ref string) error {
	path, err := d.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (d *Disk) Close(ctx context.Context) error {
	return nil
}
