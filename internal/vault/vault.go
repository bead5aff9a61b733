// Package vault is the credential vault adapter: it decrypts a tenant's
// stored secret material on demand. Decrypted material lives only in the
// stack frame of the execution invoking a checker; it is never cached,
// logged or persisted, and is zeroed as soon as the checker call returns.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"gorm.io/gorm"

	"cloud-inspection-service/internal/store"
)

var (
	// ErrCredentialNotFound means no credential with the given id belongs to
	// the tenant.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrDecryptionFailed means the stored blob could not be decrypted. Fatal
	// to the execution, never retried.
	ErrDecryptionFailed = errors.New("credential decryption failed")
)

// SecretMaterial is the decrypted credential set handed to a checker.
type SecretMaterial struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
}

// Zero drops the material from the struct. Best effort: callers must not
// retain copies of the fields.
func (m *SecretMaterial) Zero() {
	m.AccessKeyID = ""
	m.SecretAccessKey = ""
	m.SessionToken = ""
	m.Region = ""
}

// Adapter resolves credential references against the shared store and
// encrypts/decrypts secret fields with AES-256-GCM under a master key derived
// from the configured passphrase.
type Adapter struct {
	DB  *gorm.DB
	key [32]byte
}

// NewAdapter derives the AES key from masterKey (SHA-256 of the passphrase).
func NewAdapter(db *gorm.DB, masterKey string) (*Adapter, error) {
	if masterKey == "" {
		return nil, errors.New("vault master key must not be empty")
	}
	return &Adapter{DB: db, key: sha256.Sum256([]byte(masterKey))}, nil
}

// Resolve loads and decrypts the tenant's credential. Any failure maps to
// AuthenticationError at the execution layer and aborts before the checker
// is invoked.
func (a *Adapter) Resolve(ctx context.Context, credentialID, tenantID uint) (SecretMaterial, error) {
	var cred store.Credential
	err := a.DB.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", credentialID, tenantID).
		First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SecretMaterial{}, ErrCredentialNotFound
		}
		return SecretMaterial{}, fmt.Errorf("loading credential %d: %w", credentialID, err)
	}

	material := SecretMaterial{Region: cred.Region}
	if material.AccessKeyID, err = a.Decrypt(cred.AccessKeyID); err != nil {
		return SecretMaterial{}, err
	}
	if material.SecretAccessKey, err = a.Decrypt(cred.SecretAccessKey); err != nil {
		return SecretMaterial{}, err
	}
	if material.SessionToken, err = a.Decrypt(cred.SessionToken); err != nil {
		return SecretMaterial{}, err
	}
	return material, nil
}

// Encrypt seals a plaintext secret field for storage: AES-GCM with a random
// nonce prefix, base64 encoded. Empty input stays empty.
func (a *Adapter) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := a.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a stored blob. Empty input stays empty.
func (a *Adapter) Decrypt(blob string) (string, error) {
	if blob == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	aead, err := a.aead()
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrDecryptionFailed
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

func (a *Adapter) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(a.key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
