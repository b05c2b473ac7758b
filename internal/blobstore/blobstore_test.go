package blobstore

import (
	"context"
	"errors"
	"io"
	"testing"
)

func TestLocalPutOpen(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	ref, err := s.Put(ctx, "lec-1/media.mp4", "video/mp4", []byte("frames"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ref.Store != "local" || ref.Key != "lec-1/media.mp4" {
		t.Errorf("ref = %+v", ref)
	}

	rc, err := s.Open(ctx, ref)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "frames" {
		t.Errorf("content = %q", got)
	}
}

func TestLocalOverwrite(t *testing.T) {
	s, _ := NewLocal(t.TempDir())
	ctx := context.Background()
	s.Put(ctx, "a/b", "", []byte("one"))
	ref, err := s.Put(ctx, "a/b", "", []byte("two"))
	if err != nil {
		t.Fatal(err)
	}
	rc, _ := s.Open(ctx, ref)
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "two" {
		t.Errorf("content = %q, want two", got)
	}
}

func TestLocalOpenMissing(t *testing.T) {
	s, _ := NewLocal(t.TempDir())
	_, err := s.Open(context.Background(), Ref{Store: "local", Key: "nope"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCleanKey(t *testing.T) {
	for _, key := range []string{"", "../etc/passwd", "a/../../b", "/abs", ".hidden", "a//b"} {
		if _, err := CleanKey(key); err == nil {
			t.Errorf("CleanKey(%q) accepted", key)
		}
	}
	if _, err := CleanKey("lec/slides.pdf"); err != nil {
		t.Errorf("CleanKey rejected a valid key: %v", err)
	}
}

type failingStore struct{ name string }

func (f failingStore) Name() string { return f.name }
func (f failingStore) Put(context.Context, string, string, []byte) (Ref, error) {
	return Ref{}, errors.New("down")
}
func (f failingStore) Open(context.Context, Ref) (io.ReadCloser, error) {
	return nil, errors.New("down")
}

func TestFallback(t *testing.T) {
	local, _ := NewLocal(t.TempDir())
	fb := &Fallback{Primary: failingStore{name: "gridfs"}, Secondary: local}
	ctx := context.Background()

	ref, err := fb.Put(ctx, "k", "text/plain", []byte("x"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ref.Store != "local" {
		t.Errorf("ref.Store = %q, want local", ref.Store)
	}
	rc, err := fb.Open(ctx, ref)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rc.Close()

	both := &Fallback{Primary: failingStore{name: "a"}, Secondary: failingStore{name: "b"}}
	if _, err := both.Put(ctx, "k", "", nil); err == nil {
		t.Error("expected error when both stores fail")
	}
}
