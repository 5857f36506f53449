package keychain

import "errors"

var (
	ErrMissingField      = errors.New("keychain: entry missing required field")
	ErrUnknownKind       = errors.New("keychain: unknown entry kind")
	ErrNotFound          = errors.New("keychain: entry not found")
	ErrInvalidCiphertext = errors.New("keychain: invalid ciphertext")
)
