package vault

import "errors"

var (
	// ErrDecryption means no configured key could open the envelope.
	ErrDecryption = errors.New("decryption failed with all configured keys")

	ErrNotEnvelope      = errors.New("value is not an encrypted envelope")
	ErrInvalidEnvelope  = errors.New("invalid envelope format")
	ErrEncryptionFailed = errors.New("encryption failed")

	ErrNoCurrentKey  = errors.New("no current encryption key configured")
	ErrInvalidKey    = errors.New("invalid encryption key: want <id>:<base64 of at least 32 bytes>")
	ErrDuplicateKey  = errors.New("duplicate encryption key id")
	ErrKeyDerivation = errors.New("key derivation failed")

	ErrUnsafeURL = errors.New("stored value is neither an envelope nor a safe URL")
)
