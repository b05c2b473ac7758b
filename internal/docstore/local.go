package docstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// LocalStore keeps one indented JSON file per document under
// <root>/<collection>/<id>.json. Writes go through a temp file and rename,
// so readers never observe a partially written document.
type LocalStore struct {
	root  string
	locks sync.Map // collection/id -> *sync.Mutex
}

// NewLocalStore creates root if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating local store directory: %w", err)
	}
	return &LocalStore{root: root}, nil
}

// Root returns the store's base directory.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) Create(ctx context.Context, collection, id string, doc Document) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if err := validatePair(collection, id); err != nil {
		return "", err
	}
	err := s.runWrite(ctx, "create", func(commit func() bool) error {
		unlock := s.lock(collection, id)
		defer unlock()

		seq := nextSeq()
		if existing, err := s.read(collection, id); err == nil {
			if prev := seqValue(existing); prev > 0 {
				seq = int64(prev)
			}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		return s.write(collection, id, withMeta(doc, id, seq), commit)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *LocalStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := validatePair(collection, id); err != nil {
		return nil, err
	}
	var doc Document
	err := s.run(ctx, "get", func() error {
		d, err := s.read(collection, id)
		doc = d
		return err
	})
	if err != nil {
		return nil, err
	}
	return public(doc), nil
}

func (s *LocalStore) List(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := ValidateID(collection); err != nil {
		return nil, err
	}
	var docs []Document
	err := s.run(ctx, "list", func() error {
		entries, err := os.ReadDir(filepath.Join(s.root, collection))
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return s.unavailable("list", err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
				continue
			}
			doc, err := s.read(collection, strings.TrimSuffix(name, ".json"))
			if errors.Is(err, ErrNotFound) {
				continue // removed or renamed since ReadDir
			}
			if err != nil {
				return err
			}
			if Matches(doc, q.Filter) {
				docs = append(docs, doc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	SortDocuments(docs, q.Sort, seqValue)
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	if q.KeepSeq {
		return docs, nil
	}
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = public(d)
	}
	return out, nil
}

func (s *LocalStore) Update(ctx context.Context, collection, id string, patch Document) error {
	if err := validatePair(collection, id); err != nil {
		return err
	}
	return s.runWrite(ctx, "update", func(commit func() bool) error {
		unlock := s.lock(collection, id)
		defer unlock()

		doc, err := s.read(collection, id)
		if err != nil {
			return err
		}
		for k, v := range patch.Clone() {
			doc[k] = v
		}
		return s.write(collection, id, doc, commit)
	})
}

// runWrite is run for writes. fn must call commit right before the rename
// that makes its write visible and give up when commit returns false. Once a
// write has committed, runWrite waits for it even past the deadline, so a
// write that lands is never reported as failed.
func (s *LocalStore) runWrite(ctx context.Context, op string, fn func(commit func() bool) error) error {
	if err := ctx.Err(); err != nil {
		return s.unavailable(op, err)
	}
	var (
		mu        sync.Mutex
		committed bool
		abandoned bool
	)
	commit := func() bool {
		mu.Lock()
		defer mu.Unlock()
		if abandoned || ctx.Err() != nil {
			abandoned = true
			return false
		}
		committed = true
		return true
	}

	done := make(chan error, 1)
	go func() { done <- fn(commit) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		mu.Lock()
		if committed {
			mu.Unlock()
			return <-done
		}
		abandoned = true
		mu.Unlock()
		return s.unavailable(op, ctx.Err())
	}
}

// run executes fn under ctx. Filesystem calls cannot be interrupted, so an
// expired deadline abandons the wait rather than the read.
func (s *LocalStore) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return s.unavailable(op, err)
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return s.unavailable(op, ctx.Err())
	}
}

func (s *LocalStore) read(collection, id string) (Document, error) {
	data, err := os.ReadFile(s.path(collection, id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.unavailable("read", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, s.unavailable("read", fmt.Errorf("decoding %s/%s: %w", collection, id, err))
	}
	return doc, nil
}

func (s *LocalStore) write(collection, id string, doc Document, commit func() bool) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", collection, id, err)
	}
	dir := filepath.Join(s.root, collection)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return s.unavailable("write", err)
	}
	if err := writeAtomic(dir, id+".json", append(data, '\n'), commit); err != nil {
		return s.unavailable("write", err)
	}
	return nil
}

// errAbandoned is returned by writeAtomic when commit refuses the rename.
var errAbandoned = errors.New("write abandoned after deadline")

func writeAtomic(dir, name string, data []byte, commit func() bool) error {
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if !commit() {
		cleanup()
		return errAbandoned
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		cleanup()
		return err
	}
	return nil
}

func (s *LocalStore) path(collection, id string) string {
	return filepath.Join(s.root, collection, id+".json")
}

func (s *LocalStore) lock(collection, id string) func() {
	v, _ := s.locks.LoadOrStore(collection+"/"+id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *LocalStore) unavailable(op string, err error) error {
	return &UnavailableError{Backend: "local", Op: op, Err: err}
}

func validatePair(collection, id string) error {
	if err := ValidateID(collection); err != nil {
		return err
	}
	return ValidateID(id)
}
