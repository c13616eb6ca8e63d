// Package secrets provides passphrase-based authenticated encryption for data at rest.
// Keys are derived with PBKDF2-HMAC-SHA256 and a per-encryption random salt; the
// cipher is AES-256-GCM with the nonce prepended to the ciphertext.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLen    = 16
	keyLen     = 32
	iterations = 100000
)

var (
	// ErrDecrypt is returned when the ciphertext is malformed or the passphrase/salt is wrong.
	ErrDecrypt = errors.New("secrets: decryption failed")
)

// Cipher encrypts and decrypts with a fixed passphrase. A nil Cipher passes data through.
type Cipher struct {
	passphrase []byte
}

// New returns a Cipher for the given passphrase, or nil when the passphrase is empty
// (callers treat a nil Cipher as "store plaintext").
func New(passphrase string) *Cipher {
	if passphrase == "" {
		return nil
	}
	return &Cipher{passphrase: []byte(passphrase)}
}

// Encrypt encrypts plaintext and returns the ciphertext (nonce-prefixed) and the salt
// used for key derivation.
func (c *Cipher) Encrypt(plaintext []byte) (ciphertext, salt []byte, err error) {
	salt = make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, nil, err
	}
	gcm, err := c.aead(salt)
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}
	ciphertext = gcm.Seal(nonce, nonce, plaintext, nil)
	return ciphertext, salt, nil
}

// Decrypt reverses Encrypt given the same passphrase and the salt returned by Encrypt.
func (c *Cipher) Decrypt(ciphertext, salt []byte) ([]byte, error) {
	gcm, err := c.aead(salt)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, ErrDecrypt
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func (c *Cipher) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.passphrase, salt, iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
