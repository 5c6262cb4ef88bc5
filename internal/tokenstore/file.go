package tokenstore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	fileSaltSize = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// ErrCorruptFile indicates the store file exists but could not be opened,
// either because it was truncated or because the passphrase is wrong.
var ErrCorruptFile = errors.New("token store: file corrupt or passphrase mismatch")

// FileStore keeps all keys in one file sealed with XChaCha20-Poly1305.
// Layout: salt(16) | nonce(24) | ciphertext. The key is derived from the
// passphrase with argon2id and the per-file salt.
type FileStore struct {
	path       string
	passphrase []byte

	mu   sync.Mutex
	salt []byte
	key  []byte
}

// NewFileStore returns a store that reads and writes path.
func NewFileStore(path, passphrase string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store: path is required")
	}
	if passphrase == "" {
		return nil, errors.New("file store: passphrase is required")
	}
	return &FileStore{path: path, passphrase: []byte(passphrase)}, nil
}

// Get returns the stored value for key.
func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return "", err
	}
	value, ok := doc[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return value, nil
}

// Set stores value under key and rewrites the file.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil && !errors.Is(err, ErrCorruptFile) {
		return err
	}
	if doc == nil {
		doc = make(map[string]string)
	}
	doc[key] = value
	return s.writeLocked(doc)
}

// Remove deletes key. The file is removed once it holds no keys.
func (s *FileStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		if errors.Is(err, ErrCorruptFile) {
			return s.removeFileLocked()
		}
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	if len(doc) == 0 {
		return s.removeFileLocked()
	}
	return s.writeLocked(doc)
}

func (s *FileStore) readLocked() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file store read: %w", err)
	}

	if len(raw) < fileSaltSize+chacha20poly1305.NonceSizeX {
		return nil, ErrCorruptFile
	}

	salt := raw[:fileSaltSize]
	nonce := raw[fileSaltSize : fileSaltSize+chacha20poly1305.NonceSizeX]
	sealed := raw[fileSaltSize+chacha20poly1305.NonceSizeX:]

	aead, err := s.aeadLocked(salt)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrCorruptFile
	}

	doc := make(map[string]string)
	if err := json.Unmarshal(plain, &doc); err != nil {
		return nil, ErrCorruptFile
	}
	return doc, nil
}

func (s *FileStore) writeLocked(doc map[string]string) error {
	plain, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("file store encode: %w", err)
	}

	if s.salt == nil {
		salt := make([]byte, fileSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("file store salt: %w", err)
		}
		s.salt = salt
		s.key = nil
	}
	aead, err := s.aeadLocked(s.salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("file store nonce: %w", err)
	}

	out := make([]byte, 0, len(s.salt)+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, s.salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plain, nil)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("file store mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".lomi-tokens-*")
	if err != nil {
		return fmt.Errorf("file store temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file store write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store close: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store chmod: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store rename: %w", err)
	}
	return nil
}

func (s *FileStore) removeFileLocked() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("file store remove: %w", err)
	}
	s.salt = nil
	s.key = nil
	return nil
}

// aeadLocked derives (or reuses) the key for salt. Derivation is slow, so the
// key is cached for as long as the salt does not change.
func (s *FileStore) aeadLocked(salt []byte) (cipher.AEAD, error) {
	if s.key == nil || string(s.salt) != string(salt) {
		s.salt = append([]byte(nil), salt...)
		s.key = argon2.IDKey(s.passphrase, s.salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("file store cipher: %w", err)
	}
	return aead, nil
}
