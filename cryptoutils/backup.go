package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	backupSaltSize  = 16
	backupNonceSize = 12
)

// deriveBackupKey derives a 32-byte AES key from a passphrase and salt
// using Argon2id.
func deriveBackupKey(passphrase string, salt []byte) []byte {
	// Parameters: time=1, memory=64*1024, threads=4, keyLen=32
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// EncryptWithPassphrase encrypts data under a passphrase using Argon2id
// key derivation and AES-GCM authenticated encryption. A fresh random
// salt and nonce are generated per call.
//
// Output format: [salt (16 bytes)][nonce (12 bytes)][ciphertext]
func EncryptWithPassphrase(passphrase string, data []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase must not be empty")
	}

	salt := make([]byte, backupSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	nonce := make([]byte, backupNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	aesBlock, err := aes.NewCipher(deriveBackupKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(aesBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	ciphertext := aesGCM.Seal(nil, nonce, data, nil)

	result := make([]byte, 0, backupSaltSize+backupNonceSize+len(ciphertext))
	result = append(result, salt...)
	result = append(result, nonce...)
	result = append(result, ciphertext...)
	return result, nil
}

// DecryptWithPassphrase reverses EncryptWithPassphrase. Decryption fails
// if the passphrase is wrong or the blob has been tampered with.
func DecryptWithPassphrase(passphrase string, encrypted []byte) ([]byte, error) {
	if len(encrypted) < backupSaltSize+backupNonceSize {
		return nil, errors.New("encrypted data too short")
	}

	salt := encrypted[:backupSaltSize]
	nonce := encrypted[backupSaltSize : backupSaltSize+backupNonceSize]
	ciphertext := encrypted[backupSaltSize+backupNonceSize:]

	aesBlock, err := aes.NewCipher(deriveBackupKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(aesBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}
