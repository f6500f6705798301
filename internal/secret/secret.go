// Package secret seals credentials stored in the configuration file with a
// local key file, so the password never sits in the config as plaintext.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// Prefix marks a sealed value in configuration.
const Prefix = "sealed:"

const (
	keySize   = 32
	nonceSize = 24
)

var ErrOpen = errors.New("sealed value could not be opened with this key")

type Key [keySize]byte

// IsSealed reports whether v carries the sealed prefix.
func IsSealed(v string) bool {
	return strings.HasPrefix(strings.TrimSpace(v), Prefix)
}

// LoadKey reads a base64 key file.
func LoadKey(path string) (*Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key file: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("key file %s holds %d bytes, want %d", path, len(raw), keySize)
	}
	var key Key
	copy(key[:], raw)
	Wipe(raw)
	return &key, nil
}

// EnsureKey loads the key at path, generating a new one (mode 0600) when the
// file does not exist. created reports whether a key was generated.
func EnsureKey(path string) (key *Key, created bool, err error) {
	key, err = LoadKey(path)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	key = new(Key)
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, false, fmt.Errorf("failed to generate key: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, false, fmt.Errorf("failed to create key directory: %w", err)
		}
	}
	encoded := base64.StdEncoding.EncodeToString(key[:]) + "\n"
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, false, fmt.Errorf("failed to write key file: %w", err)
	}
	return key, true, nil
}

// Seal encrypts plain and returns the prefixed, base64 encoded form.
func Seal(key *Key, plain []byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], plain, &nonce, (*[keySize]byte)(key))
	return Prefix + base64.StdEncoding.EncodeToString(box), nil
}

// Open decrypts a value produced by Seal. The caller owns the returned slice
// and should Wipe it once done.
func Open(key *Key, sealed string) ([]byte, error) {
	encoded := strings.TrimPrefix(strings.TrimSpace(sealed), Prefix)
	box, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed value: %w", err)
	}
	if len(box) < nonceSize+secretbox.Overhead {
		return nil, ErrOpen
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, (*[keySize]byte)(key))
	if !ok {
		return nil, ErrOpen
	}
	return plain, nil
}

// Resolve returns the plaintext for a configured secret: sealed values are
// opened with the key at keyPath, anything else is returned as is.
func Resolve(value, keyPath string) ([]byte, error) {
	if !IsSealed(value) {
		return []byte(value), nil
	}
	if strings.TrimSpace(keyPath) == "" {
		return nil, errors.New("sealed secret configured but secret.key_path is empty")
	}
	key, err := LoadKey(keyPath)
	if err != nil {
		return nil, err
	}
	defer Wipe(key[:])
	return Open(key, value)
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
