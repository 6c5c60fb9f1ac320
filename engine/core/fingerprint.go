package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// FingerprintLen is the width of a hex encoded sha256 fingerprint.
const FingerprintLen = sha256.Size * 2

// DocumentFingerprint hashes the raw document text.
func DocumentFingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ChunkFingerprint hashes the owning document fingerprint, the chunk position and its text.
// Identical chunk text at another position or in another document yields a different value.
func ChunkFingerprint(documentFingerprint string, index int, text string) string {
	h := sha256.New()
	h.Write([]byte(documentFingerprint))
	h.Write([]byte{':'})
	h.Write([]byte(strconv.Itoa(index)))
	h.Write([]byte{':'})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
