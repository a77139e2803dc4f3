package crypt

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrMalformed indicates a value that cannot be a sealed payload.
	ErrMalformed = errors.New("crypt: malformed payload")
	// ErrAuthentication indicates that no known key opens the payload.
	ErrAuthentication = errors.New("crypt: payload authentication failed")
)

// Cipher seals strings with XChaCha20-Poly1305. Sealed values are
// base64(nonce || ciphertext || tag).
type Cipher struct {
	current       cipher.AEAD
	previous      []cipher.AEAD
	index         []byte
	previousIndex [][]byte
	random        func([]byte) (int, error)
}

// NewCipher builds a Cipher from a keyring.
func NewCipher(kr *Keyring) (*Cipher, error) {
	if kr == nil {
		return nil, errors.New("crypt: keyring required")
	}
	current, err := chacha20poly1305.NewX(kr.field)
	if err != nil {
		return nil, fmt.Errorf("crypt: init cipher: %w", err)
	}
	c := &Cipher{current: current, index: kr.index, previousIndex: kr.previousIndex, random: rand.Read}
	for _, k := range kr.previous {
		aead, err := chacha20poly1305.NewX(k)
		if err != nil {
			return nil, fmt.Errorf("crypt: init previous cipher: %w", err)
		}
		c.previous = append(c.previous, aead)
	}
	return c, nil
}

// EncryptString seals plaintext with the current key.
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	nonce := make([]byte, c.current.NonceSize(), c.current.NonceSize()+len(plaintext)+c.current.Overhead())
	if _, err := c.random(nonce); err != nil {
		return "", fmt.Errorf("crypt: nonce: %w", err)
	}
	sealed := c.current.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString opens a sealed value with the current key, then with each
// previous key.
func (c *Cipher) DecryptString(payload string) (string, error) {
	plain, _, err := c.open(payload)
	return plain, err
}

// open returns the plaintext and whether the current key opened it.
func (c *Cipher) open(payload string) (string, bool, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", false, ErrMalformed
	}
	ns := c.current.NonceSize()
	if len(raw) < ns+c.current.Overhead() {
		return "", false, ErrMalformed
	}
	nonce, body := raw[:ns], raw[ns:]
	if plain, err := c.current.Open(nil, nonce, body, nil); err == nil {
		return string(plain), true, nil
	}
	for _, aead := range c.previous {
		if plain, err := aead.Open(nil, nonce, body, nil); err == nil {
			return string(plain), false, nil
		}
	}
	return "", false, ErrAuthentication
}

// BlindIndex returns a deterministic keyed digest of value, suitable for
// equality lookups on an encrypted column.
func (c *Cipher) BlindIndex(value string) string {
	return digest(c.index, value)
}

// BlindIndexes returns the digest of value under the current index key
// followed by its digest under each previous key. Rows written before a
// rotation keep an old digest until they are resealed.
func (c *Cipher) BlindIndexes(value string) []string {
	out := make([]string, 0, 1+len(c.previousIndex))
	out = append(out, digest(c.index, value))
	for _, k := range c.previousIndex {
		out = append(out, digest(k, value))
	}
	return out
}

func digest(key []byte, value string) string {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
