package wbi

import (
	"crypto/md5"
	"encoding/hex"
	"unicode/utf16"
	"unicode/utf8"
)

// Digest returns the lowercase hex MD5 of s, hashing each UTF-16 code unit of s
// truncated to its low 8 bits. For ASCII input this equals the MD5 of the UTF-8
// bytes; for other input it reproduces the upstream web client byte for byte.
func Digest(s string) string {
	return DigestBytes(codeUnitBytes(s))
}

// DigestBytes returns the lowercase hex MD5 of b.
func DigestBytes(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func codeUnitBytes(s string) []byte {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return []byte(s)
	}

	units := utf16.Encode([]rune(s))
	out := make([]byte, len(units))
	for i, u := range units {
		out[i] = byte(u)
	}
	return out
}
