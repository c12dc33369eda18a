// Package vault obfuscates the stored portal password.
//
// The scheme is AES-128 in ECB mode under a key compiled into the binary,
// NUL padding to the block size, and standard base64. It is deterministic and
// anyone holding the binary can reverse it. Existing configuration files
// depend on exactly this encoding, so it must not be changed.
package vault

import (
	"bytes"
	"crypto/aes"
	"encoding/base64"
	"errors"
	"fmt"
)

var key = []byte("wattwich-v1-key!")

var ErrMalformed = errors.New("malformed encoded secret")

// Encode encrypts clear and returns it base64 encoded.
func Encode(clear string) string {
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err) // key length is fixed at compile time
	}
	blockSize := block.BlockSize()

	padded := nulPadding([]byte(clear), blockSize)
	ciphertext := make([]byte, len(padded))
	for bs, be := 0, blockSize; bs < len(padded); bs, be = bs+blockSize, be+blockSize {
		block.Encrypt(ciphertext[bs:be], padded[bs:be])
	}
	return base64.StdEncoding.EncodeToString(ciphertext)
}

// Decode reverses Encode, dropping the NUL padding.
func Decode(encoded string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	blockSize := block.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%blockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext size %d", ErrMalformed, len(ciphertext))
	}

	plaintext := make([]byte, len(ciphertext))
	for bs, be := 0, blockSize; bs < len(ciphertext); bs, be = bs+blockSize, be+blockSize {
		block.Decrypt(plaintext[bs:be], ciphertext[bs:be])
	}
	return string(bytes.TrimRight(plaintext, "\x00")), nil
}

// Reveal decodes a stored secret. It reports false when nothing is stored or
// the stored value cannot be decoded.
func Reveal(encoded string) (string, bool) {
	if encoded == "" {
		return "", false
	}
	clear, err := Decode(encoded)
	if err != nil {
		return "", false
	}
	return clear, true
}

// nulPadding always appends between 1 and blockSize NUL bytes.
func nulPadding(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, make([]byte, padding)...)
}
