package cryptoutil

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// HashEqual performs constant-time comparison of two hex-encoded hashes.
func HashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// SHA256Hex computes the SHA-256 hash of the input data and returns it as a hex string
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256Base64 is the standard-base64 digest S3 expects in ChecksumSHA256.
func SHA256Base64(data []byte) string {
	h := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(h[:])
}

// ETag returns a strong entity tag for a rendered body.
func ETag(body []byte) string {
	return `"` + SHA256Hex(body)[:32] + `"`
}

// ETagMatches reports whether an If-None-Match header value names etag.
// A bare "*" matches anything; weak tags compare by their opaque part.
func ETagMatches(header, etag string) bool {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimPrefix(strings.TrimSpace(part), "W/")
		if part == "*" || (part != "" && HashEqual(part, etag)) {
			return true
		}
	}
	return false
}
