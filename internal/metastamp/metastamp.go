// Package metastamp reads and writes the container-level provenance stamp:
// an EXIF UserComment for images, a video container's copyright tag for
// video. Both carry the same two-token payload shape, just under
// different literal prefixes and different container mechanisms.
package metastamp

import "strings"

// Prefix literals distinguishing an image stamp from a video stamp. The
// two are deliberately kept distinct rather than reconciled into one.
const (
	PrefixVideo = "deepmark"
	PrefixImage = "s"
)

// BuildPayload concatenates prefix with the two provenance tokens. Each
// token is expected to already end in exactly one '=' (see
// internal/vault's Cipher.Encrypt), which is what lets ParsePayload find
// the boundary between them without a length prefix.
func BuildPayload(prefix, tokUser, tokMaster string) string {
	return prefix + tokUser + tokMaster
}

// ParsePayload reverses BuildPayload. It strips whichever of PrefixVideo
// or PrefixImage the value starts with, then splits the remainder on '='
// boundaries: each '='-terminated piece is one token. Exactly two tokens
// must remain or the stamp is treated as malformed ("no stamp").
func ParsePayload(value string) (prefix, tokUser, tokMaster string, ok bool) {
	for _, p := range []string{PrefixVideo, PrefixImage} {
		if !strings.HasPrefix(value, p) {
			continue
		}
		tokens, ok := splitEqualsTerminated(strings.TrimPrefix(value, p))
		if !ok || len(tokens) != 2 {
			return "", "", "", false
		}
		return p, tokens[0], tokens[1], true
	}
	return "", "", "", false
}

// splitEqualsTerminated splits s into pieces each ending in exactly one
// '=', requiring s itself to end in '='. "a=b=" -> ["a=", "b="].
func splitEqualsTerminated(s string) ([]string, bool) {
	if s == "" || !strings.HasSuffix(s, "=") {
		return nil, false
	}
	parts := strings.Split(s, "=")
	// Split on N delimiters yields N+1 parts; the last is "" because s
	// ends in '='. Drop it, then reattach '=' to every remaining piece.
	parts = parts[:len(parts)-1]
	tokens := make([]string, len(parts))
	for i, p := range parts {
		tokens[i] = p + "="
	}
	return tokens, true
}
