package push

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/patrickmn/go-cache"
)

// recordSchemaVersion is bumped whenever the persisted record shape changes.
// Records with a different version are treated as absent.
const recordSchemaVersion = 1

// Record is the locally persisted device/subscription tuple. It is the sole
// source of truth for this device's subscription id. ID is empty after a
// revocation, so the next renewal generates a fresh one.
type Record struct {
	SchemaVersion    int     `json:"v"`
	WrittenAt        int64   `json:"writtenAt"` // unix milliseconds
	ID               string  `json:"id,omitempty"`
	Device           string  `json:"device"`
	Browser          string  `json:"browser"`
	SubscriptionJSON *string `json:"subscriptionJson"`
}

// LocalStore persists at most one Record per storage key.
type LocalStore interface {
	// Load returns the record stored under key, or nil when it is absent,
	// malformed, or from a different schema version.
	Load(key string) *Record

	// Save stamps the record with the schema version and write time and
	// persists it under key, replacing any previous record.
	Save(key string, rec Record) error
}

// FileStore is a LocalStore writing one JSON file per key into a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(key)) + ".json"
	return filepath.Join(s.dir, name)
}

func (s *FileStore) Load(key string) *Record {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil
	}
	return decodeRecord(raw)
}

func (s *FileStore) Save(key string, rec Record) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(key), raw, 0o600)
}

// CacheStore is an in-memory LocalStore backed by go-cache, for hosts without
// a filesystem and for tests.
type CacheStore struct {
	c *cache.Cache
}

// NewCacheStore returns an empty in-memory store.
func NewCacheStore() *CacheStore {
	return &CacheStore{c: cache.New(cache.NoExpiration, 0)}
}

func (s *CacheStore) Load(key string) *Record {
	v, ok := s.c.Get(key)
	if !ok {
		return nil
	}
	raw, ok := v.([]byte)
	if !ok {
		return nil
	}
	return decodeRecord(raw)
}

func (s *CacheStore) Save(key string, rec Record) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	s.c.Set(key, raw, cache.NoExpiration)
	return nil
}

func encodeRecord(rec Record) ([]byte, error) {
	rec.SchemaVersion = recordSchemaVersion
	rec.WrittenAt = time.Now().UnixMilli()
	return json.Marshal(rec)
}

func decodeRecord(raw []byte) *Record {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil
	}
	if rec.SchemaVersion != recordSchemaVersion {
		return nil
	}
	return &rec
}
