package checksum

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Sum returns the content checksum stored on every version: the xxhash64 of
// the UTF-8 bytes, rendered as lowercase hex. Equal strings always produce
// equal checksums; collisions are tolerated.
func Sum(content string) string {
	return strconv.FormatUint(xxhash.Sum64String(content), 16)
}

// Verify reports whether sum matches content.
func Verify(content, sum string) bool {
	return Sum(content) == sum
}
