package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	gridfsPrefix = "gridfs:"
	bucketName   = "evidence"
)

// GridFS stores evidence files in a MongoDB GridFS bucket. References look
// like "gridfs:<object id hex>".
type GridFS struct {
	client *mongo.Client
	bucket *gridfs.Bucket
}

func NewGridFS(ctx context.Context, uri, database string) (*GridFS, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	bucket, err := gridfs.NewBucket(client.Database(database), options.GridFSBucket().SetName(bucketName))
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("gridfs bucket: %w", err)
	}
	return &GridFS{client: client, bucket: bucket}, nil
}

func (g *GridFS) Save(ctx context.Context, name, contentType string, data []byte) (string, error) {
	opts := options.GridFSUpload().SetMetadata(bson.M{
		"contentType": contentType,
		"uploadedAt":  time.Now().UTC(),
		"size":        len(data),
	})
	id, err := g.bucket.UploadFromStream(name, bytes.NewReader(data), opts)
	if err != nil {
		return "", fmt.Errorf("gridfs upload: %w", err)
	}
	return gridfsPrefix + id.Hex(), nil
}

func parseGridFSRef(ref string) (primitive.ObjectID, error) {
	hex, ok := strings.CutPrefix(ref, gridfsPrefix)
	if !ok {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return id, nil
}

func (g *GridFS) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	id, err := parseGridFSRef(ref)
	if err != nil {
		return nil, err
	}
	stream, err := g.bucket.OpenDownloadStream(id)
	if err != nil {
		return nil, fmt.Errorf("gridfs download: %w", err)
	}
	return stream, nil
}

func (g *GridFS) Delete(ctx context.Context, ref string) error {
	id, err := parseGridFSRef(ref)
	if err != nil {
		return err
	}
	if err := g.bucket.DeleteContext(ctx, id); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
		return fmt.Errorf("gridfs delete: %w", err)
	}
	return nil
}

func (g *GridFS) Close(ctx context.Context) error {
	return g.client.Disconnect(ctx)
}
