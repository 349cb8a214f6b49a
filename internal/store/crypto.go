package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
	"crypto/sha256"

	"github.com/sovereign-gateway/core/internal/errs"
)

// KeySource abstracts the OS keyring the encryption routine relies on for
// its per-install master key. A real binding (Keychain, libsecret, DPAPI)
// is an external collaborator out of scope here; FileKeySource is a
// functional stand-in so the gateway runs standalone.
type KeySource interface {
	MasterKey(ctx context.Context) ([]byte, error)
}

// FileKeySource persists a random master key under the given directory,
// generating it on first use. This is the fallback the core falls back to
// when no real OS-keyring binding is wired in.
type FileKeySource struct {
	Path string
}

func (f FileKeySource) MasterKey(_ context.Context) ([]byte, error) {
	if data, err := os.ReadFile(f.Path); err == nil && len(data) == 32 {
		return data, nil
	} else if err != nil && !os.IsNotExist(err) {
		return nil, errs.Wrap(errs.KindStorage, "reading master key", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, errs.Wrap(errs.KindStorage, "generating master key", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return nil, errs.Wrap(errs.KindStorage, "creating key directory", err)
	}
	if err := os.WriteFile(f.Path, key, 0o600); err != nil {
		return nil, errs.Wrap(errs.KindStorage, "writing master key", err)
	}
	return key, nil
}

// Cipher is the symmetric authenticated cipher protecting tokens at rest:
// AES-256-GCM keyed by an HKDF-derived subkey of the install master key.
// Ciphertext is self-describing: base64(nonce || sealed).
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(masterKey []byte) (*Cipher, error) {
	subkey := make([]byte, 32)
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte("sovereign-gateway/store/v1"))
	if _, err := io.ReadFull(kdf, subkey); err != nil {
		return nil, fmt.Errorf("deriving storage key: %w", err)
	}
	block, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, fmt.Errorf("building aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("building gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, errs.Wrap(errs.KindDecrypt, "base64 decode", err)
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, errs.New(errs.KindDecrypt, "ciphertext too short")
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindDecrypt, "gcm open", err)
	}
	return plaintext, nil
}
