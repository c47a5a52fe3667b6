package auth

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// The backend decrypts password2 with this fixed key pair.
var (
	loginKey = []byte("cspLogin000000000000000000000000")
	loginIV  = []byte("1234567890000000")
)

// HashPassword returns the lowercase hex MD5 of the trimmed password.
func HashPassword(password string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(password)))
	return hex.EncodeToString(sum[:])
}

// EncryptPassword encrypts the trimmed password with AES-256-CBC and
// PKCS#7 padding and returns it base64 encoded.
func EncryptPassword(password string) (string, error) {
	block, err := aes.NewCipher(loginKey)
	if err != nil {
		return "", err
	}
	plain := pkcs7Pad([]byte(strings.TrimSpace(password)), block.BlockSize())
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, loginIV).CryptBlocks(out, plain)
	return base64.StdEncoding.EncodeToString(out), nil
}

func pkcs7Pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}
