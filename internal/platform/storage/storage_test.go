package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"prospectcrm/internal/platform/config"
	cryptoutil "prospectcrm/internal/platform/crypto"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func readAll(t *testing.T, b Backend, ref string) []byte {
	t.Helper()
	rc, err := b.Open(context.Background(), ref)
	if err != nil {
		t.Fatalf("open %s: %v", ref, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s: %v", ref, err)
	}
	return data
}

func TestDiskRoundTrip(t *testing.T) {
	dir := t.TempDir()
	disk, err := NewDisk(dir, nil)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	ctx := context.Background()

	ref, err := disk.Save(ctx, "Foto Kunjungan.PNG", "image/png", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasSuffix(ref, ".png") || strings.Contains(ref, "Kunjungan") {
		t.Fatalf("expected random name with extension, got %q", ref)
	}
	if got := string(readAll(t, disk, ref)); got != "png-bytes" {
		t.Fatalf("unexpected content %q", got)
	}

	if err := disk.Delete(ctx, ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := disk.Delete(ctx, ref); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ref)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected file removed, stat err=%v", err)
	}
}

func TestDiskEncryptsAtRest(t *testing.T) {
	crypto, err := cryptoutil.New(testKey)
	if err != nil {
		t.Fatalf("crypto: %v", err)
	}
	dir := t.TempDir()
	disk, err := NewDisk(dir, crypto)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}

	ref, err := disk.Save(context.Background(), "kontrak.pdf", "application/pdf", []byte("%PDF-1.7 secret"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasSuffix(ref, ".pdf"+encryptedSuffix) {
		t.Fatalf("expected encrypted suffix, got %q", ref)
	}
	raw, err := os.ReadFile(filepath.Join(dir, ref))
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if strings.Contains(string(raw), "secret") {
		t.Fatal("plaintext found on disk")
	}
	if got := string(readAll(t, disk, ref)); got != "%PDF-1.7 secret" {
		t.Fatalf("unexpected decrypted content %q", got)
	}

	plainDisk, _ := NewDisk(dir, nil)
	if _, err := plainDisk.Open(context.Background(), ref); err == nil {
		t.Fatal("expected error opening encrypted file without a key")
	}
}

func TestDiskRejectsTraversal(t *testing.T) {
	disk, err := NewDisk(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	for _, ref := range []string{"", "../etc/passwd", "a/b.png", ".hidden"} {
		if _, err := disk.Open(context.Background(), ref); !errors.Is(err, ErrInvalidRef) {
			t.Fatalf("ref %q: expected ErrInvalidRef, got %v", ref, err)
		}
		if err := disk.Delete(context.Background(), ref); !errors.Is(err, ErrInvalidRef) {
			t.Fatalf("ref %q: expected ErrInvalidRef on delete, got %v", ref, err)
		}
	}
}

func TestParseGridFSRef(t *testing.T) {
	id, err := parseGridFSRef("gridfs:65a1f0c2e4b0a1b2c3d4e5f6")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.Hex() != "65a1f0c2e4b0a1b2c3d4e5f6" {
		t.Fatalf("unexpected id %s", id.Hex())
	}
	for _, ref := range []string{"65a1f0c2e4b0a1b2c3d4e5f6", "gridfs:nothex", "disk:abc"} {
		if _, err := parseGridFSRef(ref); !errors.Is(err, ErrInvalidRef) {
			t.Fatalf("ref %q: expected ErrInvalidRef, got %v", ref, err)
		}
	}
}

func TestNewSelectsDisk(t *testing.T) {
	cfg := config.Config{EvidenceStorage: config.StorageDisk, EvidenceDir: filepath.Join(t.TempDir(), "nested")}
	b, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := b.(*Disk); !ok {
		t.Fatalf("expected disk backend, got %T", b)
	}
	if _, err := New(context.Background(), config.Config{EvidenceStorage: "s3"}, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
