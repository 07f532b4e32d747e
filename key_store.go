package acksp

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// KeyStore keeps the caller's copy of published private keys in a local
// JSON file with atomic persistence.
type KeyStore struct {
	mu    sync.RWMutex
	path  string
	data  *StoreData
	dirty bool
}

// NewKeyStore creates or opens a store at the given path.
// The parent directory is created with 0700 permissions.
func NewKeyStore(path string) (*KeyStore, error) {
	store := &KeyStore{
		path: path,
		data: &StoreData{
			Version: DefaultStoreVersion,
			Keys:    make(map[string]*StoredKey),
		},
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return store, nil
}

// load reads store data from disk. A missing file is reported as
// os.ErrNotExist, an empty one is an empty store.
func (s *KeyStore) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var storeData StoreData
	if err := json.Unmarshal(data, &storeData); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreCorrupted, err)
	}
	if storeData.Version > DefaultStoreVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrStoreCorrupted, storeData.Version)
	}
	if storeData.Keys == nil {
		storeData.Keys = make(map[string]*StoredKey)
	}

	s.data = &storeData
	s.dirty = false
	return nil
}

// syncLocked writes store data with temp file + rename.
// Must be called with write lock held.
func (s *KeyStore) syncLocked() error {
	if !s.dirty {
		return nil
	}

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrStorePersist, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: write: %v", ErrStorePersist, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: fsync: %v", ErrStorePersist, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: close: %v", ErrStorePersist, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: rename: %v", ErrStorePersist, err)
	}

	s.dirty = false
	return nil
}

// Sync flushes pending changes to disk.
func (s *KeyStore) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked()
}

// Close syncs any pending changes.
func (s *KeyStore) Close() error {
	return s.Sync()
}

// Path returns the store file path.
func (s *KeyStore) Path() string {
	return s.path
}

// Save stores key, assigning an ID when empty.
func (s *KeyStore) Save(key *StoredKey) error {
	if key == nil {
		return fmt.Errorf("stored key cannot be nil")
	}
	if key.PublicKey == "" {
		return fmt.Errorf("stored key public key is required")
	}
	if key.ID == "" {
		key.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.data.Keys {
		if id != key.ID && strings.EqualFold(existing.PublicKey, key.PublicKey) {
			return fmt.Errorf("%w: %s", ErrStoredKeyExists, key.PublicKey)
		}
	}

	s.data.Keys[key.ID] = copyStoredKey(key)
	s.dirty = true
	return s.syncLocked()
}

// SavePublished stores the result of a confirmed Publish for owner,
// stamped with createdAt.
func (s *KeyStore) SavePublished(owner common.Address, pk *PublishedKey, createdAt time.Time) (*StoredKey, error) {
	key := &StoredKey{
		Owner:      owner.Hex(),
		PublicKey:  pk.PublicKey.Hex(),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(pk.PrivateKey)),
		ValidTill:  pk.ValidTill,
		TxHash:     pk.TxHash.Hex(),
		CreatedAt:  createdAt.UTC(),
	}
	if err := s.Save(key); err != nil {
		return nil, err
	}
	return copyStoredKey(key), nil
}

// Get retrieves a key by ID.
func (s *KeyStore) Get(id string) (*StoredKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, exists := s.data.Keys[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStoredKeyNotFound, id)
	}
	return copyStoredKey(key), nil
}

// GetByPublicKey retrieves a key by its hex public key.
func (s *KeyStore) GetByPublicKey(pub PublicKey) (*StoredKey, error) {
	want := pub.Hex()

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range s.data.Keys {
		if strings.EqualFold(key.PublicKey, want) {
			return copyStoredKey(key), nil
		}
	}
	return nil, fmt.Errorf("%w: public key %s", ErrStoredKeyNotFound, want)
}

// Capability rebuilds the decryption capability of a stored key.
func (s *KeyStore) Capability(id string) (*Capability, error) {
	key, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	raw, err := hexutil.Decode(key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreCorrupted, err)
	}
	return NewCapability(raw)
}

// List returns all keys, oldest first.
func (s *KeyStore) List() []*StoredKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*StoredKey, 0, len(s.data.Keys))
	for _, key := range s.data.Keys {
		result = append(result, copyStoredKey(key))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Delete removes a key.
func (s *KeyStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.Keys[id]; !exists {
		return fmt.Errorf("%w: %s", ErrStoredKeyNotFound, id)
	}

	delete(s.data.Keys, id)
	s.dirty = true
	return s.syncLocked()
}

// Count returns the number of stored keys.
func (s *KeyStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.Keys)
}

func copyStoredKey(key *StoredKey) *StoredKey {
	if key == nil {
		return nil
	}
	cp := *key
	return &cp
}
