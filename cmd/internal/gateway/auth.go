package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"
)

// tokenDigest returns the SHA-256 digest of a stream token.
func tokenDigest(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// tokenMatches compares digests in constant time. An empty want accepts any
// token.
func tokenMatches(want []byte, got string) bool {
	if len(want) == 0 {
		return true
	}
	if got == "" {
		return false
	}
	return hmac.Equal(want, tokenDigest(got))
}

// bearerToken extracts the token of an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
