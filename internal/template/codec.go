// Package template serializes biometric feature records and encrypts them
// for storage. The encrypted string is the only durable artifact of the
// verification pipeline; persistence itself belongs to the caller.
package template

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// ErrTemplateCorrupted means a stored template could not be decoded. The
// record is unusable; the owner must re-enroll.
var ErrTemplateCorrupted = errors.New("stored face template is corrupted")

// EncryptedTemplate is the stored form of a feature record:
// base64(iv) + ":" + base64(ciphertext).
type EncryptedTemplate string

const (
	delimiter    = ":"
	keyLength    = 32
	pbkdf2Rounds = 4096
)

// Codec encrypts and decrypts feature records with a key derived once from
// the configured secret. The salt is fixed so previously stored templates
// stay decryptable; only the IV varies per encryption.
type Codec struct {
	key []byte
}

// NewCodec derives the AES-256 key from the secret and salt.
func NewCodec(secret, salt string) *Codec {
	return &Codec{
		key: pbkdf2.Key([]byte(secret), []byte(salt), pbkdf2Rounds, keyLength, sha256.New),
	}
}

// Encode serializes and encrypts a feature record. Every call draws a fresh
// random IV, so two encodings of the same record never share ciphertext.
func (c *Codec) Encode(record FeatureRecord) (EncryptedTemplate, error) {
	plaintext, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("serialize feature record: %w", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	encoded := base64.StdEncoding.EncodeToString(iv) + delimiter + base64.StdEncoding.EncodeToString(ciphertext)
	return EncryptedTemplate(encoded), nil
}

// Decode reverses Encode. Any malformation (missing delimiter, bad base64,
// wrong IV size, bad padding, unparseable plaintext) is reported as
// ErrTemplateCorrupted so the caller can trigger re-enrollment.
func (c *Codec) Decode(stored EncryptedTemplate) (FeatureRecord, error) {
	parts := strings.Split(string(stored), delimiter)
	if len(parts) != 2 {
		return FeatureRecord{}, fmt.Errorf("%w: malformed container", ErrTemplateCorrupted)
	}

	iv, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return FeatureRecord{}, fmt.Errorf("%w: invalid iv", ErrTemplateCorrupted)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return FeatureRecord{}, fmt.Errorf("%w: invalid ciphertext", ErrTemplateCorrupted)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return FeatureRecord{}, fmt.Errorf("init cipher: %w", err)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return FeatureRecord{}, fmt.Errorf("%w: %v", ErrTemplateCorrupted, err)
	}

	var record FeatureRecord
	if err := json.Unmarshal(plaintext, &record); err != nil {
		return FeatureRecord{}, fmt.Errorf("%w: unreadable payload", ErrTemplateCorrupted)
	}
	return record, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, errors.New("invalid padding byte")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errors.New("inconsistent padding")
		}
	}
	return data[:len(data)-padding], nil
}
