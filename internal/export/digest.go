package export

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const digestPrefix = "sha256:"

// Checksum returns the manifest digest of data, "sha256:<hex>".
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return digestPrefix + hex.EncodeToString(sum[:])
}

// Matches reports whether data hashes to digest. Digests without the
// algorithm prefix are compared as bare hex.
func Matches(data []byte, digest string) bool {
	if !strings.HasPrefix(digest, digestPrefix) {
		digest = digestPrefix + digest
	}
	return Checksum(data) == digest
}
