// Package blobstore keeps material bytes that are too large or too binary to
// live inside a document: lecture recordings, slide decks and the like.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
)

var ErrNotFound = errors.New("blob not found")

// Ref identifies a stored blob. Store names the backend that holds it.
type Ref struct {
	Store string `json:"store"`
	Key   string `json:"key"`
}

// Store is implemented by every blob backend.
type Store interface {
	Name() string
	Put(ctx context.Context, key, contentType string, data []byte) (Ref, error)
	Open(ctx context.Context, ref Ref) (io.ReadCloser, error)
}

// CleanKey validates a slash-separated blob key.
func CleanKey(key string) (string, error) {
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != key || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return cleaned, nil
}

// Fallback writes to Primary and, when that fails, once to Secondary.
// Reads go to whichever store the ref names.
type Fallback struct {
	Primary   Store
	Secondary Store
	Logger    *slog.Logger
}

func (f *Fallback) Name() string { return f.Primary.Name() }

func (f *Fallback) Put(ctx context.Context, key, contentType string, data []byte) (Ref, error) {
	ref, perr := f.Primary.Put(ctx, key, contentType, data)
	if perr == nil {
		return ref, nil
	}
	f.logger().Warn("primary blob store failed, using fallback",
		"primary", f.Primary.Name(), "fallback", f.Secondary.Name(), "key", key, "error", perr)
	ref, serr := f.Secondary.Put(ctx, key, contentType, data)
	if serr != nil {
		return Ref{}, fmt.Errorf("storing blob %s: %w", key, errors.Join(perr, serr))
	}
	return ref, nil
}

func (f *Fallback) Open(ctx context.Context, ref Ref) (io.ReadCloser, error) {
	if ref.Store == f.Secondary.Name() {
		return f.Secondary.Open(ctx, ref)
	}
	return f.Primary.Open(ctx, ref)
}

func (f *Fallback) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}
