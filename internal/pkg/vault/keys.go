package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// MinKeyMaterial is the minimum decoded size of a configured key.
	MinKeyMaterial = 32

	derivedKeySize = 32
	hkdfInfo       = "payfox-vault-v1"
)

type key struct {
	id   string
	aead cipher.AEAD
}

// parseKey accepts "<id>:<base64>". The id is recorded in every envelope the
// key produces, so it must not contain ':'.
func parseKey(spec string) (*key, error) {
	spec = strings.TrimSpace(spec)
	id, encoded, ok := strings.Cut(spec, ":")
	id = strings.TrimSpace(id)
	if !ok || id == "" || strings.ContainsAny(id, ": ") {
		return nil, ErrInvalidKey
	}

	material, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, errors.Join(ErrInvalidKey, err)
	}
	if len(material) < MinKeyMaterial {
		return nil, ErrInvalidKey
	}

	derived, err := deriveKey(material, id)
	if err != nil {
		return nil, err
	}
	defer clearBytes(derived)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, errors.Join(ErrInvalidKey, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Join(ErrInvalidKey, err)
	}
	return &key{id: id, aead: aead}, nil
}

// deriveKey expands the configured secret into an AES-256 key. The key id acts
// as salt so two ids never share a derived key.
func deriveKey(material []byte, id string) ([]byte, error) {
	r := hkdf.New(sha256.New, material, []byte(id), []byte(hkdfInfo))
	out := make([]byte, derivedKeySize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, errors.Join(ErrKeyDerivation, err)
	}
	return out, nil
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
