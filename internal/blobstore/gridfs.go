package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GridFS stores blobs in the remote MongoDB database, bucket "materials",
// using the blob key as the file id.
type GridFS struct {
	bucket *gridfs.Bucket
	// Bucket deadlines are bucket-wide, so transfers are serialized.
	mu sync.Mutex
}

func NewGridFS(db *mongo.Database) (*GridFS, error) {
	b, err := gridfs.NewBucket(db, options.GridFSBucket().SetName("materials"))
	if err != nil {
		return nil, err
	}
	return &GridFS{bucket: b}, nil
}

func (g *GridFS) Name() string { return "gridfs" }

func (g *GridFS) Put(ctx context.Context, key, contentType string, data []byte) (Ref, error) {
	key, err := CleanKey(key)
	if err != nil {
		return Ref{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	// Replacing a blob means deleting the old file first; ids are unique.
	if err := g.bucket.DeleteContext(ctx, key); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
		return Ref{}, err
	}
	if err := g.bucket.SetWriteDeadline(deadline(ctx)); err != nil {
		return Ref{}, err
	}
	opts := options.GridFSUpload().SetMetadata(bson.M{"content_type": contentType})
	if err := g.bucket.UploadFromStreamWithID(key, path.Base(key), bytes.NewReader(data), opts); err != nil {
		return Ref{}, err
	}
	return Ref{Store: g.Name(), Key: key}, nil
}

func (g *GridFS) Open(ctx context.Context, ref Ref) (io.ReadCloser, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.bucket.SetReadDeadline(deadline(ctx)); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := g.bucket.DownloadToStream(ref.Key, &buf); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return io.NopCloser(&buf), nil
}

func deadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return time.Time{}
}
