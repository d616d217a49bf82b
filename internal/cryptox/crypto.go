// Package cryptox holds the password hashing used for offline sign-in and by
// the development auth server.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// SaltSize is the length of salts produced by NewSalt.
const SaltSize = 32

// Argon2id parameters. Changing them invalidates every stored hash.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// DeriveKey stretches password with salt using argon2id.
func DeriveKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// HashPassword returns the one-way hash stored for offline sign-in:
// sha256 over the argon2id key, so the stored value never doubles as a key.
func HashPassword(password []byte, salt []byte) []byte {
	key := DeriveKey(password, salt)
	defer Wipe(key)
	sum := sha256.Sum256(key)
	return sum[:]
}

// VerifyPassword reports whether password hashes to want under salt.
// The comparison is constant time and requires exact equality.
func VerifyPassword(password []byte, salt []byte, want []byte) bool {
	if len(want) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(HashPassword(password, salt), want) == 1
}

// NewSalt returns SaltSize random bytes.
func NewSalt() []byte {
	return RandomBytes(SaltSize)
}

// RandomBytes returns n bytes from crypto/rand. It panics if the system
// random source fails, which leaves nothing sensible to do.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// Wipe zeroes b in place. Nil is allowed.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
