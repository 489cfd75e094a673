// Package cas computes the content identifiers used as cache keys and ETags.
package cas

import (
	"encoding/hex"
	"strings"

	"lukechampine.com/blake3"
)

// packageHashSize is the number of digest bytes kept in a package hash.
const packageHashSize = 16

// PackageHash identifies the package compiled from one assembly identity
// against one build. The result is 32 upper-case hex characters and only
// depends on its inputs.
func PackageHash(identity, buildHash string) string {
	sum := blake3.Sum256([]byte(identity + "_" + buildHash))
	return strings.ToUpper(hex.EncodeToString(sum[:packageHashSize]))
}

// Blake3HashHex computes a BLAKE3 hash and returns it as a hex string.
func Blake3HashHex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
