// Package crypt implements the encrypted attribute layer: an authenticated
// field cipher, a declarative per-entity field table and a codec applying it at
// the load/save boundary of repositories.
package crypt

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	infoFieldKey = "odyssey-dms/field-encryption/v1"
	infoIndexKey = "odyssey-dms/blind-index/v1"
)

// ErrInvalidKey reports an application key that is not 32 bytes of base64.
var ErrInvalidKey = errors.New("crypt: application key must be 32 base64-encoded bytes")

// Keyring holds the derived sub-keys of the current application key and those
// of retired keys. Retired keys only decrypt and match old blind indexes.
type Keyring struct {
	field         []byte
	index         []byte
	previous      [][]byte
	previousIndex [][]byte
}

// ParseKey decodes an application key. A leading "base64:" prefix is accepted.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "base64:")
	if raw == "" {
		return nil, ErrInvalidKey
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// NewKeyring derives the field and blind-index keys from the current key and
// from each previous key. Empty entries in previous are skipped.
func NewKeyring(current string, previous []string) (*Keyring, error) {
	master, err := ParseKey(current)
	if err != nil {
		return nil, err
	}
	field, err := derive(master, infoFieldKey)
	if err != nil {
		return nil, err
	}
	index, err := derive(master, infoIndexKey)
	if err != nil {
		return nil, err
	}
	kr := &Keyring{field: field, index: index}
	for _, p := range previous {
		if strings.TrimSpace(p) == "" {
			continue
		}
		old, err := ParseKey(p)
		if err != nil {
			return nil, fmt.Errorf("crypt: previous key: %w", err)
		}
		oldField, err := derive(old, infoFieldKey)
		if err != nil {
			return nil, err
		}
		oldIndex, err := derive(old, infoIndexKey)
		if err != nil {
			return nil, err
		}
		kr.previous = append(kr.previous, oldField)
		kr.previousIndex = append(kr.previousIndex, oldIndex)
	}
	return kr, nil
}

// SplitKeys splits a comma separated key list.
func SplitKeys(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}

func derive(master []byte, info string) ([]byte, error) {
	out := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, master, nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("crypt: derive %s: %w", info, err)
	}
	return out, nil
}
