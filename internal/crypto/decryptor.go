// Package crypto decrypts job configuration documents. A document is stored as a
// 16-byte initialization vector followed by AES-256-CBC ciphertext of PKCS#7
// padded JSON; the key file holds the raw 32-byte key.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"rpa-agent/internal/model"
)

const keySize = 32

// Decryptor turns an encrypted blob plus key file into a validated Document.
// Validation happens once here so the execution path never re-checks fields.
type Decryptor struct {
	validate *validator.Validate
}

func NewDecryptor() *Decryptor {
	return &Decryptor{validate: validator.New()}
}

func (d *Decryptor) Decrypt(encPath, keyPath string) (*model.Document, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed reading key file: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be exactly %d bytes for AES-256, got %d", keySize, len(key))
	}

	raw, err := os.ReadFile(encPath)
	if err != nil {
		return nil, fmt.Errorf("failed reading encrypted file: %w", err)
	}
	plaintext, err := decrypt(key, raw)
	if err != nil {
		return nil, err
	}

	doc := model.Document{}
	if err = json.Unmarshal(plaintext, &doc); err != nil {
		return nil, fmt.Errorf("failed parsing decrypted document: %w", err)
	}
	if err = d.validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("invalid document structure: %w", err)
	}
	return &doc, nil
}

func decrypt(key, raw []byte) ([]byte, error) {
	if len(raw) < aes.BlockSize {
		return nil, fmt.Errorf("encrypted file too short: %d bytes", len(raw))
	}
	iv := raw[:aes.BlockSize]
	ciphertext := raw[aes.BlockSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a positive multiple of the block size", len(ciphertext))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed creating cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return unpad(plaintext)
}

// Encrypt is the inverse of Decrypt over raw bytes: it prepends a random IV to
// the AES-256-CBC ciphertext of the PKCS#7 padded plaintext. Used by tests and
// by the companion tooling that prepares job packages.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be exactly %d bytes for AES-256, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed creating cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err = rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed generating IV: %w", err)
	}
	padded := pad(plaintext)
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unpad empty plaintext")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, fmt.Errorf("malformed padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("malformed padding")
		}
	}
	return data[:len(data)-n], nil
}
