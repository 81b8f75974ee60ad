// Package vault protects payment provider secrets at rest.
//
// Values are sealed with AES-256-GCM under the current key and stored as
// "enc:<keyID>:<base64(nonce|ciphertext)>". Decryption accepts any configured
// key, so rotating the current key is an additive configuration change.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/metrics"
)

const envelopePrefix = "enc:"

// Vault encrypts with the current key and decrypts with any configured key.
type Vault struct {
	current *key
	keys    []*key
	byID    map[string]*key
}

// New builds a vault from the current key spec and zero or more legacy specs.
func New(current string, legacy []string) (*Vault, error) {
	if strings.TrimSpace(current) == "" {
		return nil, ErrNoCurrentKey
	}
	cur, err := parseKey(current)
	if err != nil {
		return nil, fmt.Errorf("current key: %w", err)
	}

	v := &Vault{
		current: cur,
		keys:    []*key{cur},
		byID:    map[string]*key{cur.id: cur},
	}
	for i, spec := range legacy {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		k, err := parseKey(spec)
		if err != nil {
			return nil, fmt.Errorf("legacy key %d: %w", i, err)
		}
		if _, dup := v.byID[k.id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, k.id)
		}
		v.keys = append(v.keys, k)
		v.byID[k.id] = k
	}
	return v, nil
}

// CurrentKeyID returns the id recorded in newly produced envelopes.
func (v *Vault) CurrentKeyID() string {
	return v.current.id
}

// Encrypt seals plaintext under the current key.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.current.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		metrics.VaultOperationsTotal.WithLabelValues("encrypt", "error").Inc()
		return "", errors.Join(ErrEncryptionFailed, err)
	}
	sealed := v.current.aead.Seal(nonce, nonce, []byte(plaintext), []byte(v.current.id))
	metrics.VaultOperationsTotal.WithLabelValues("encrypt", "ok").Inc()
	return envelopePrefix + v.current.id + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an envelope, trying the recorded key first and then every
// other configured key.
func (v *Vault) Decrypt(envelope string) (string, error) {
	keyID, payload, err := splitEnvelope(envelope)
	if err != nil {
		metrics.VaultOperationsTotal.WithLabelValues("decrypt", "invalid").Inc()
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		metrics.VaultOperationsTotal.WithLabelValues("decrypt", "invalid").Inc()
		return "", errors.Join(ErrInvalidEnvelope, err)
	}

	candidates := make([]*key, 0, len(v.keys))
	if k, ok := v.byID[keyID]; ok {
		candidates = append(candidates, k)
	}
	for _, k := range v.keys {
		if k.id != keyID {
			candidates = append(candidates, k)
		}
	}

	for _, k := range candidates {
		if plaintext, ok := open(k, keyID, raw); ok {
			if k.id != keyID {
				log.Warnf("[Vault] Envelope tagged %q opened with key %q", keyID, k.id)
			}
			metrics.VaultOperationsTotal.WithLabelValues("decrypt", "ok").Inc()
			return plaintext, nil
		}
	}
	metrics.VaultOperationsTotal.WithLabelValues("decrypt", "error").Inc()
	return "", ErrDecryption
}

func open(k *key, taggedID string, raw []byte) (string, bool) {
	ns := k.aead.NonceSize()
	if len(raw) < ns+k.aead.Overhead() {
		return "", false
	}
	nonce, ct := raw[:ns], raw[ns:]
	// The envelope tag is bound as additional data; try it first, then the
	// key's own id for envelopes that were relabelled by hand.
	if pt, err := k.aead.Open(nil, nonce, ct, []byte(taggedID)); err == nil {
		return string(pt), true
	}
	if taggedID != k.id {
		if pt, err := k.aead.Open(nil, nonce, ct, []byte(k.id)); err == nil {
			return string(pt), true
		}
	}
	return "", false
}

// Reveal returns the plaintext of a stored field. Values that are not
// envelopes are returned unchanged so records stay readable while a plaintext
// migration is in progress.
func (v *Vault) Reveal(stored string) (string, error) {
	if stored == "" || !IsEnvelope(stored) {
		return stored, nil
	}
	return v.Decrypt(stored)
}

// NeedsRekey reports whether an envelope was produced by a non-current key.
func (v *Vault) NeedsRekey(stored string) bool {
	id, ok := KeyID(stored)
	return ok && id != v.current.id
}

// RevealURL resolves a stored redirect URL. Envelopes are decrypted; other
// values are accepted only as absolute https URLs (http for localhost).
func (v *Vault) RevealURL(stored string) (string, error) {
	stored = strings.TrimSpace(stored)
	if stored == "" {
		return "", nil
	}
	if IsEnvelope(stored) {
		return v.Decrypt(stored)
	}
	if !isSafeURL(stored) {
		return "", ErrUnsafeURL
	}
	log.Warn("[Vault] Using legacy plaintext redirect URL; run the credential migration")
	return stored, nil
}

// IsEnvelope reports whether a stored value looks like a vault envelope.
func IsEnvelope(value string) bool {
	_, _, err := splitEnvelope(value)
	return err == nil
}

// KeyID returns the key id recorded in an envelope.
func KeyID(value string) (string, bool) {
	id, _, err := splitEnvelope(value)
	return id, err == nil
}

func splitEnvelope(value string) (string, string, error) {
	rest, ok := strings.CutPrefix(value, envelopePrefix)
	if !ok {
		return "", "", ErrNotEnvelope
	}
	id, payload, ok := strings.Cut(rest, ":")
	if !ok || id == "" || payload == "" {
		return "", "", ErrInvalidEnvelope
	}
	return id, payload, nil
}

func isSafeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil {
		return false
	}
	switch u.Scheme {
	case "https":
		return true
	case "http":
		host := u.Hostname()
		if host == "localhost" {
			return true
		}
		ip := net.ParseIP(host)
		return ip != nil && ip.IsLoopback()
	default:
		return false
	}
}
