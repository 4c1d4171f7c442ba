package wbi

import (
	"fmt"
	"regexp"
)

// KeyLength is the length of each key fragment and of the mixin key.
const KeyLength = 32

// mixinKeyEncTab is the upstream permutation applied to imgKey+subKey.
var mixinKeyEncTab = [KeyLength]int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35,
	27, 43, 5, 49, 33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13,
}

var keyPattern = regexp.MustCompile(`[0-9a-f]{32}`)

// MixinKeyEncTab returns a copy of the permutation table.
func MixinKeyEncTab() [KeyLength]int {
	return mixinKeyEncTab
}

// MixinKey derives the 32 character mixin key from the two key fragments.
func MixinKey(imgKey, subKey string) (string, error) {
	if len(imgKey) != KeyLength || len(subKey) != KeyLength {
		return "", fmt.Errorf("%w: key fragments must be %d characters (got %d and %d)", ErrKeyMaterialUnavailable, KeyLength, len(imgKey), len(subKey))
	}
	raw := imgKey + subKey
	out := make([]byte, KeyLength)
	for i, idx := range mixinKeyEncTab {
		out[i] = raw[idx]
	}
	return string(out), nil
}

// ExtractKey returns the first run of 32 lowercase hex characters in rawURL,
// e.g. the file name of https://i0.hdslb.com/bfs/wbi/<key>.png.
func ExtractKey(rawURL string) string {
	return keyPattern.FindString(rawURL)
}
