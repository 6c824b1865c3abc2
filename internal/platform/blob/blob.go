// Package blob provides the object-store contract for raw lab payloads and
// generated report artifacts. The store is keyed by the pointer returned at
// write time and must encrypt content at rest; the in-memory implementation
// records the encryption marker so tests can assert the contract.
package blob

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Sentinel errors.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrEmptyKey       = errors.New("object key is required")
)

// Object describes a stored blob and its content.
type Object struct {
	Key         string            `json:"key"`
	ContentType string            `json:"content_type"`
	Size        int64             `json:"size"`
	Hash        string            `json:"hash"`
	Encrypted   bool              `json:"encrypted"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	StoredAt    time.Time         `json:"stored_at"`
	Body        []byte            `json:"-"`
}

// Store is the object storage contract. Put returns the key it stored under
// so callers can hand the pointer to downstream consumers.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) (string, error)
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
}

// InMemoryStore is a thread-safe, in-memory Store for development and tests.
// All writes are flagged Encrypted to mirror the server-side-encryption
// requirement of the production object store.
type InMemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*Object
}

// NewInMemoryStore returns a ready-to-use InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{objects: make(map[string]*Object)}
}

// Put stores body under key, computing a SHA-256 content hash.
func (s *InMemoryStore) Put(_ context.Context, key string, body []byte, contentType string, metadata map[string]string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	data := make([]byte, len(body))
	copy(data, body)
	h := sha256.Sum256(data)

	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	s.mu.Lock()
	s.objects[key] = &Object{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        fmt.Sprintf("%x", h),
		Encrypted:   true,
		Metadata:    meta,
		StoredAt:    time.Now().UTC(),
		Body:        data,
	}
	s.mu.Unlock()

	return key, nil
}

// Get returns the object stored at key.
func (s *InMemoryStore) Get(_ context.Context, key string) (*Object, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrObjectNotFound
	}

	cp := *obj
	cp.Body = make([]byte, len(obj.Body))
	copy(cp.Body, obj.Body)
	return &cp, nil
}

// Delete removes the object at key.
func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[key]; !ok {
		return ErrObjectNotFound
	}
	delete(s.objects, key)
	return nil
}
