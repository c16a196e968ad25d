// Package share implements task sharing: reversible share tokens and the
// transactional copy engine that materializes another user's task under the
// copier's account.
package share

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/switchboardhq/switchboard/internal/apperr"
)

// Token codec: AES-256-CBC over "{user_id}#{task_id}", PKCS7 padded, then
// base64 and URL-escaped. No expiry is embedded; revocation happens through
// the referenced task's activation flag.
type TokenCodec struct {
	key []byte
	iv  []byte
}

// NewTokenCodec validates the cipher material. key must be 32 bytes and iv
// must match the AES block size.
func NewTokenCodec(key, iv string) (*TokenCodec, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("share: aes key must be 32 bytes, got %d", len(key))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("share: aes iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	return &TokenCodec{key: []byte(key), iv: []byte(iv)}, nil
}

// Encode builds the share token for (userID, taskID).
func (c *TokenCodec) Encode(userID, taskID int64) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("share: cipher: %w", err)
	}
	plain := pkcs7Pad([]byte(fmt.Sprintf("%d#%d", userID, taskID)), aes.BlockSize)
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(out, plain)
	return url.QueryEscape(base64.StdEncoding.EncodeToString(out)), nil
}

// Decode reverses Encode. Any malformed input maps to ErrInvalidToken.
func (c *TokenCodec) Decode(token string) (userID, taskID int64, err error) {
	unescaped, err := url.QueryUnescape(token)
	if err != nil {
		return 0, 0, apperr.ErrInvalidToken
	}
	raw, err := base64.StdEncoding.DecodeString(unescaped)
	if err != nil || len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return 0, 0, apperr.ErrInvalidToken
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return 0, 0, fmt.Errorf("share: cipher: %w", err)
	}
	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(plain, raw)
	plain, ok := pkcs7Unpad(plain, aes.BlockSize)
	if !ok {
		return 0, 0, apperr.ErrInvalidToken
	}
	parts := strings.SplitN(string(plain), "#", 2)
	if len(parts) != 2 {
		return 0, 0, apperr.ErrInvalidToken
	}
	userID, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, apperr.ErrInvalidToken
	}
	taskID, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, apperr.ErrInvalidToken
	}
	return userID, taskID, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
