// Package envelope implements the symmetric encryption envelope the card
// provider wraps every request and response payload in.
//
// The scheme is fixed by the provider protocol: AES-128 in CBC mode with
// PKCS#7 padding and a constant 16-byte IV (0x00..0x0F) shared by all
// calls. The fixed IV means identical payloads produce identical
// ciphertexts; callers must not assume semantic security beyond that. It is
// an externally mandated protocol constraint and has to be preserved
// bit-for-bit for the provider to accept our traffic.
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// KeySize is the envelope key length required by the provider protocol
const KeySize = 16

// Error indicates ciphertext that could not be turned back into a valid
// payload: bad base64, bad padding, or undecodable JSON after decryption.
// It is distinct from transport errors so callers can tell "provider
// unreachable" apart from "provider returned garbage".
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("envelope %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrInvalidKeySize indicates a construction-time key of the wrong length
type ErrInvalidKeySize struct {
	Size int
}

func (e ErrInvalidKeySize) Error() string {
	return fmt.Sprintf("envelope key must be exactly %d bytes, got %d", KeySize, e.Size)
}

// Codec encrypts and decrypts provider payloads. It is stateless after
// construction and safe for concurrent use.
type Codec struct {
	block cipher.Block
	iv    []byte
}

// NewCodec creates a codec for the given key. The key must be exactly 16
// bytes; anything else is a construction-time error, never a runtime one.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize{Size: len(key)}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AES cipher: %w", err)
	}

	// Protocol-mandated constant IV: bytes 0x00 through 0x0F
	iv := make([]byte, aes.BlockSize)
	for i := range iv {
		iv[i] = byte(i)
	}

	return &Codec{
		block: block,
		iv:    iv,
	}, nil
}

// Encrypt serializes the payload to JSON and returns the base64-encoded
// AES-CBC ciphertext of its UTF-8 bytes
func (c *Codec) Encrypt(payload interface{}) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to serialize payload: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt, decoding the decrypted JSON into out. Every
// failure mode past "valid arguments" is reported as *Error.
func (c *Codec) Decrypt(ciphertextB64 string, out interface{}) error {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return &Error{Op: "decode", Err: err}
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return &Error{Op: "decrypt", Err: fmt.Errorf("ciphertext length %d is not a positive multiple of the block size", len(ciphertext))}
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return &Error{Op: "unpad", Err: err}
	}

	if err := json.Unmarshal(unpadded, out); err != nil {
		return &Error{Op: "unmarshal", Err: err}
	}

	return nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}

	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("invalid padding byte %d", padding)
	}

	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}

	return data[:len(data)-padding], nil
}
