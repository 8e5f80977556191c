package badger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probatio/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// StoredObject is one binary object (baseline screenshot, failure
// artifact) stored under a slash-separated key.
type StoredObject struct {
	Key         string `badgerhold:"key"`
	Data        []byte
	ContentType string
	Size        int
	CreatedAt   time.Time
}

// ObjectStorage implements the ObjectStorage interface on Badger
type ObjectStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewObjectStorage creates a new ObjectStorage instance
func NewObjectStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ObjectStorage {
	return &ObjectStorage{
		db:     db,
		logger: logger,
	}
}

// normalizeKey trims stray slashes so "a/b" and "/a/b/" address the same object
func (s *ObjectStorage) normalizeKey(key string) string {
	return strings.Trim(strings.TrimSpace(key), "/")
}

// Put stores an object, overwriting any existing value at the key
func (s *ObjectStorage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	normalizedKey := s.normalizeKey(key)
	if normalizedKey == "" {
		return fmt.Errorf("object key is required")
	}

	obj := StoredObject{
		Key:         normalizedKey,
		Data:        data,
		ContentType: contentType,
		Size:        len(data),
		CreatedAt:   time.Now(),
	}

	if err := s.db.Store().Upsert(normalizedKey, &obj); err != nil {
		return fmt.Errorf("failed to store object %s: %w", normalizedKey, err)
	}

	s.logger.Trace().
		Str("key", normalizedKey).
		Int("size", obj.Size).
		Msg("Object stored")
	return nil
}

// PutIfAbsent stores an object only when the key is empty. Baselines rely
// on this: once created they are never mutated by the engine.
func (s *ObjectStorage) PutIfAbsent(ctx context.Context, key string, data []byte, contentType string) (bool, error) {
	normalizedKey := s.normalizeKey(key)
	if normalizedKey == "" {
		return false, fmt.Errorf("object key is required")
	}

	obj := StoredObject{
		Key:         normalizedKey,
		Data:        data,
		ContentType: contentType,
		Size:        len(data),
		CreatedAt:   time.Now(),
	}

	err := s.db.Store().Insert(normalizedKey, &obj)
	if err == badgerhold.ErrKeyExists {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to store object %s: %w", normalizedKey, err)
	}

	s.logger.Trace().
		Str("key", normalizedKey).
		Int("size", obj.Size).
		Msg("Object created")
	return true, nil
}

// Get retrieves an object, or ErrObjectNotFound
func (s *ObjectStorage) Get(ctx context.Context, key string) ([]byte, error) {
	normalizedKey := s.normalizeKey(key)

	var obj StoredObject
	err := s.db.Store().Get(normalizedKey, &obj)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", normalizedKey, err)
	}

	return obj.Data, nil
}

// Exists reports whether the key holds an object
func (s *ObjectStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if err == interfaces.ErrObjectNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
