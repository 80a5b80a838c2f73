// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// WithPrefix generates a random ID with a prefix (e.g. "tx_", "res_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// receiptAlphabet avoids ambiguous characters (0/O, 1/I/L).
const receiptAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// ReceiptCode generates a short human-readable receipt code of the form
// RCP-XXXX-XXXX. Codes are random, not sequential, so they cannot be
// enumerated; 8 characters over a 31-symbol alphabet keeps collisions
// negligible at this system's volume.
func ReceiptCode() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	out := make([]byte, 8)
	for i, v := range b {
		out[i] = receiptAlphabet[int(v)%len(receiptAlphabet)]
	}
	return fmt.Sprintf("RCP-%s-%s", out[:4], out[4:])
}
