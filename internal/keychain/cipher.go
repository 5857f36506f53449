package keychain

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

const (
	dataKeySize = 32
	nonceSize   = 12
)

// DataKeyGenerator is the KMS surface the envelope cipher needs. Abstracted
// so tests substitute a fake key generator instead of calling AWS.
type DataKeyGenerator interface {
	GenerateDataKey(ctx context.Context, keyID string) (plainKey, encryptedKey []byte, err error)
	DecryptDataKey(ctx context.Context, encryptedKey []byte) (plainKey []byte, err error)
}

// KMSKeyGenerator wraps an AWS KMS client as a DataKeyGenerator.
type KMSKeyGenerator struct {
	client *kms.Client
	keyID  string
}

func NewKMSKeyGenerator(client *kms.Client, keyID string) *KMSKeyGenerator {
	return &KMSKeyGenerator{client: client, keyID: keyID}
}

func (k *KMSKeyGenerator) GenerateDataKey(ctx context.Context, keyID string) ([]byte, []byte, error) {
	if keyID == "" {
		keyID = k.keyID
	}
	out, err := k.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:         aws.String(keyID),
		NumberOfBytes: aws.Int32(dataKeySize),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("keychain: kms generate data key: %w", err)
	}
	return out.Plaintext, out.CiphertextBlob, nil
}

func (k *KMSKeyGenerator) DecryptDataKey(ctx context.Context, encryptedKey []byte) ([]byte, error) {
	out, err := k.client.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: encryptedKey})
	if err != nil {
		return nil, fmt.Errorf("keychain: kms decrypt data key: %w", err)
	}
	return out.Plaintext, nil
}

// LocalKeyGenerator wraps data keys with a static master key instead of a
// KMS round trip, for local development and tests where KeychainConfig's
// UseKMS is false. It implements the same envelope shape KMS does (a
// random data key per entry, itself sealed) so swapping LocalKeyGenerator
// for KMSKeyGenerator never changes Entry's stored column shapes.
type LocalKeyGenerator struct {
	master []byte
}

// NewLocalKeyGenerator builds a LocalKeyGenerator from a base64-encoded
// 32-byte master key, the format KeychainConfig.MasterKey is configured in.
func NewLocalKeyGenerator(masterKeyBase64 string) (*LocalKeyGenerator, error) {
	key, err := base64.StdEncoding.DecodeString(masterKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("keychain: decode master key: %w", err)
	}
	if len(key) != dataKeySize {
		return nil, fmt.Errorf("keychain: master key must be %d bytes, got %d", dataKeySize, len(key))
	}
	return &LocalKeyGenerator{master: key}, nil
}

func (l *LocalKeyGenerator) GenerateDataKey(ctx context.Context, keyID string) ([]byte, []byte, error) {
	plainKey := make([]byte, dataKeySize)
	if _, err := io.ReadFull(rand.Reader, plainKey); err != nil {
		return nil, nil, fmt.Errorf("keychain: generate data key: %w", err)
	}
	encryptedKey, err := encryptAESGCM(plainKey, l.master)
	if err != nil {
		return nil, nil, err
	}
	return plainKey, encryptedKey, nil
}

func (l *LocalKeyGenerator) DecryptDataKey(ctx context.Context, encryptedKey []byte) ([]byte, error) {
	return decryptAESGCM(encryptedKey, l.master)
}

// Cipher performs envelope encryption of keychain payloads: a fresh AES-256
// data key per entry, generated (and later decrypted) through KMS, used to
// AES-GCM-seal the JSON payload. The data key never leaves this call frame
// unencrypted except as the AES key itself.
type Cipher struct {
	keys DataKeyGenerator
	keyID string
}

func NewCipher(keys DataKeyGenerator, keyID string) *Cipher {
	return &Cipher{keys: keys, keyID: keyID}
}

// Seal encrypts payload and returns (ciphertext-with-nonce, encrypted data key).
func (c *Cipher) Seal(ctx context.Context, payload map[string]interface{}) ([]byte, []byte, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("keychain: marshal payload: %w", err)
	}

	plainKey, encryptedKey, err := c.keys.GenerateDataKey(ctx, c.keyID)
	if err != nil {
		return nil, nil, err
	}
	defer zero(plainKey)

	ciphertext, err := encryptAESGCM(plaintext, plainKey)
	if err != nil {
		return nil, nil, err
	}
	return ciphertext, encryptedKey, nil
}

// Open decrypts a sealed payload back into its map form.
func (c *Cipher) Open(ctx context.Context, ciphertext, encryptedKey []byte) (map[string]interface{}, error) {
	if len(ciphertext) == 0 || len(encryptedKey) == 0 {
		return nil, ErrInvalidCiphertext
	}

	plainKey, err := c.keys.DecryptDataKey(ctx, encryptedKey)
	if err != nil {
		return nil, err
	}
	defer zero(plainKey)

	plaintext, err := decryptAESGCM(ciphertext, plainKey)
	if err != nil {
		return nil, err
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("keychain: unmarshal payload: %w", err)
	}
	return payload, nil
}

func encryptAESGCM(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keychain: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keychain: new gcm: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("keychain: generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptAESGCM(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keychain: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keychain: new gcm: %w", err)
	}
	if len(ciphertext) < nonceSize {
		return nil, ErrInvalidCiphertext
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return plaintext, nil
}

func zero(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
