package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/argon2"
)

const (
	fileFormatVersion uint8 = 2

	fileSaltLength = 16
	fileKeyLength  = 32
	fileMode       = 0o600
	minPassphrase  = 8

	// Upper bounds for KDF parameters, in particular those read back from a
	// file header.
	maxFileMemory      = 1 << 20 // KiB
	maxFileTime        = 16
	maxFileParallelism = 64
)

// ErrDecrypt is returned when the credential file cannot be opened with the
// given passphrase or has been tampered with.
var ErrDecrypt = errors.New("store: credential file cannot be decrypted")

// FileConfig tunes argon2id key derivation. Zero fields take defaults.
type FileConfig struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
}

func (c FileConfig) withDefaults() FileConfig {
	if c.Memory == 0 {
		c.Memory = 64 * 1024
	}
	if c.Time == 0 {
		c.Time = 1
	}
	if c.Parallelism == 0 {
		c.Parallelism = 4
	}
	return c
}

func (c FileConfig) validate() error {
	switch {
	case c.Memory < 8*uint32(c.Parallelism) || c.Memory > maxFileMemory:
		return fmt.Errorf("argon2 memory %d KiB out of range", c.Memory)
	case c.Time < 1 || c.Time > maxFileTime:
		return fmt.Errorf("argon2 time %d out of range", c.Time)
	case c.Parallelism < 1 || c.Parallelism > maxFileParallelism:
		return fmt.Errorf("argon2 parallelism %d out of range", c.Parallelism)
	}
	return nil
}

// fileEnvelope is the on-disk record. KDF parameters travel with the file so
// a later change of defaults can still open it.
type fileEnvelope struct {
	Version     uint8  `cbor:"1,keyasint"`
	Salt        []byte `cbor:"2,keyasint"`
	Memory      uint32 `cbor:"3,keyasint"`
	Time        uint32 `cbor:"4,keyasint"`
	Parallelism uint8  `cbor:"5,keyasint"`
	Nonce       []byte `cbor:"6,keyasint"`
	Sealed      []byte `cbor:"7,keyasint"`
}

// File keeps all credentials in one encrypted file. Entries are CBOR encoded
// and sealed with AES-256-GCM under an argon2id key derived from a passphrase.
// Writes replace the file atomically.
type File struct {
	mu   sync.Mutex
	path string
	cfg  FileConfig
	salt []byte
	aead cipher.AEAD
}

// OpenFile opens or prepares the credential file at path. A missing file is
// created on first write.
func OpenFile(path string, passphrase []byte, cfg FileConfig) (*File, error) {
	if path == "" {
		return nil, errors.New("store: file path required")
	}
	if len(passphrase) < minPassphrase {
		return nil, fmt.Errorf("store: passphrase must be at least %d bytes", minPassphrase)
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	f := &File{path: path, cfg: cfg}

	env, err := f.readEnvelope()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		f.salt = make([]byte, fileSaltLength)
		if _, err := io.ReadFull(rand.Reader, f.salt); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		f.salt = env.Salt
		f.cfg = env.kdfConfig()
	}

	aead, err := newAEAD(passphrase, f.salt, f.cfg)
	if err != nil {
		return nil, err
	}
	f.aead = aead

	// Fail at open, not at first Get, on a wrong passphrase.
	if env != nil {
		if _, err := f.open(env); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func newAEAD(passphrase, salt []byte, cfg FileConfig) (cipher.AEAD, error) {
	key := argon2.IDKey(passphrase, salt, cfg.Time, cfg.Memory, cfg.Parallelism, fileKeyLength)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (f *File) readEnvelope() (*fileEnvelope, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var env fileEnvelope
	if err := cbor.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if env.Version != fileFormatVersion || len(env.Salt) != fileSaltLength {
		return nil, fmt.Errorf("%w: unsupported file format", ErrDecrypt)
	}
	if err := env.kdfConfig().validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return &env, nil
}

func (e *fileEnvelope) kdfConfig() FileConfig {
	return FileConfig{Memory: e.Memory, Time: e.Time, Parallelism: e.Parallelism}
}

// aad binds the ciphertext to every header field.
func (e *fileEnvelope) aad() []byte {
	b := make([]byte, 0, 1+len(e.Salt)+9)
	b = append(b, e.Version)
	b = append(b, e.Salt...)
	b = binary.BigEndian.AppendUint32(b, e.Memory)
	b = binary.BigEndian.AppendUint32(b, e.Time)
	return append(b, e.Parallelism)
}

func (f *File) open(env *fileEnvelope) (map[string]string, error) {
	plain, err := f.aead.Open(nil, env.Nonce, env.Sealed, env.aad())
	if err != nil {
		return nil, ErrDecrypt
	}
	entries := map[string]string{}
	if err := cbor.Unmarshal(plain, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return entries, nil
}

func (f *File) load() (map[string]string, error) {
	env, err := f.readEnvelope()
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return f.open(env)
}

func (f *File) save(entries map[string]string) error {
	plain, err := cbor.Marshal(entries)
	if err != nil {
		return err
	}
	nonce := make([]byte, f.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}

	env := fileEnvelope{
		Version:     fileFormatVersion,
		Salt:        f.salt,
		Memory:      f.cfg.Memory,
		Time:        f.cfg.Time,
		Parallelism: f.cfg.Parallelism,
		Nonce:       nonce,
	}
	env.Sealed = f.aead.Seal(nil, nonce, plain, env.aad())
	raw, err := cbor.Marshal(env)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".goguard-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := tmp.Chmod(fileMode); err != nil {
		cleanup()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		cleanup()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get implements Store.
func (f *File) Get(ctx context.Context, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := entries[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set implements Store.
func (f *File) Set(ctx context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return f.update(ctx, func(entries map[string]string) bool {
		entries[key] = value
		return true
	})
}

// Delete implements Store.
func (f *File) Delete(ctx context.Context, key string) error {
	return f.DeleteAll(ctx, key)
}

// DeleteAll implements BatchDeleter with a single file rewrite.
func (f *File) DeleteAll(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if err := validateKey(k); err != nil {
			return err
		}
	}
	return f.update(ctx, func(entries map[string]string) bool {
		changed := false
		for _, k := range keys {
			if _, ok := entries[k]; ok {
				delete(entries, k)
				changed = true
			}
		}
		return changed
	})
}

func (f *File) update(ctx context.Context, mutate func(map[string]string) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}
	if !mutate(entries) {
		return nil
	}
	return f.save(entries)
}

// Path returns the credential file location.
func (f *File) Path() string {
	return f.path
}
