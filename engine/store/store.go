// Package store persists scraped reviews in a single JSON document of the
// form {"reviews": [...]}. The file is the only record used for duplicate
// detection.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/rateprof/profrag/engine/domain"
)

// DefaultPath is the store file used when none is configured.
const DefaultPath = "reviews.json"

type document struct {
	Reviews []domain.Review `json:"reviews"`
}

// File is a review store backed by one JSON file. Every operation re-reads
// the file; nothing is cached between calls. The mutex serialises
// read-modify-write cycles within this process only.
type File struct {
	path string
	mu   sync.Mutex
}

// Open returns a store for path. The file is not touched until first use.
func Open(path string) *File {
	if path == "" {
		path = DefaultPath
	}
	return &File{path: path}
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// Init writes an empty document if the file does not exist yet.
func (f *File) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(f.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return &domain.StoreError{Op: "stat", Path: f.path, Wrapped: err}
	}
	return f.write(document{Reviews: []domain.Review{}})
}

// Load returns every stored review in file order.
func (f *File) Load() ([]domain.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	return doc.Reviews, nil
}

// AppendIfAbsent appends r unless a review with the same professor and
// subject is already stored. The check and the write happen under one lock.
func (f *File) AppendIfAbsent(r domain.Review) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return false, err
	}
	if indexOf(doc.Reviews, r) >= 0 {
		return false, nil
	}
	doc.Reviews = append(doc.Reviews, r)
	if err := f.write(doc); err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes the last review stored under key. It reports whether an
// entry was removed.
func (f *File) Remove(key domain.Key) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return false, err
	}
	i := lastIndexOf(doc.Reviews, domain.Review{Professor: key.Professor, Subject: key.Subject})
	if i < 0 {
		return false, nil
	}
	doc.Reviews = append(doc.Reviews[:i], doc.Reviews[i+1:]...)
	if err := f.write(doc); err != nil {
		return false, err
	}
	return true, nil
}

func (f *File) read() (document, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return document{}, &domain.StoreError{Op: "read", Path: f.path, Wrapped: domain.ErrStoreMissing}
		}
		return document{}, &domain.StoreError{Op: "read", Path: f.path, Wrapped: err}
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return document{}, &domain.StoreError{
			Op: "decode", Path: f.path,
			Wrapped: fmt.Errorf("%w: %v", domain.ErrStoreCorrupt, err),
		}
	}
	if doc.Reviews == nil {
		doc.Reviews = []domain.Review{}
	}
	return doc, nil
}

func (f *File) write(doc document) error {
	b, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return &domain.StoreError{Op: "encode", Path: f.path, Wrapped: err}
	}
	// The temp file lives next to the target so the rename stays on one
	// filesystem.
	err = renameio.WriteFile(f.path, b, 0o644,
		renameio.WithTempDir(filepath.Dir(f.path)),
		renameio.WithExistingPermissions(),
	)
	if err != nil {
		return &domain.StoreError{Op: "write", Path: f.path, Wrapped: err}
	}
	return nil
}

func indexOf(rs []domain.Review, r domain.Review) int {
	for i := range rs {
		if rs[i].Matches(r) {
			return i
		}
	}
	return -1
}

func lastIndexOf(rs []domain.Review, r domain.Review) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i].Matches(r) {
			return i
		}
	}
	return -1
}
