package wbi

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testImgKey = "7cd084941338484aae1ad9425b84077c"
	testSubKey = "4932caff0ff746eab6f01bf08b70ac45"
	testMixin  = "ea1db124af3c7062474693fa704f4ff8"
)

func TestDigestKnownAnswers(t *testing.T) {
	tests := map[string]string{
		"":    "d41d8cd98f00b204e9800998ecf8427e",
		"abc": "900150983cd24fb0d6963f7d28e17f72",
		"The quick brown fox jumps over the lazy dog": "9e107d9d372bb6826bd81d3542a419d6",
	}
	for in, want := range tests {
		if got := Digest(in); got != want {
			t.Fatalf("Digest(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestDigestCodeUnits(t *testing.T) {
	// U+6D4B keeps its low byte 0x4B ('K').
	assert.Equal(t, "488ceb925db89840e04ece37be4e9855", Digest("a测"))
	assert.Equal(t, Digest("aK"), Digest("a测"))

	// U+1F600 is the surrogate pair D83D DE00.
	assert.Equal(t, "c151c5fa0f424dbf71e349896c45ec16", Digest("😀"))

	utf8Sum := md5.Sum([]byte("a测"))
	assert.NotEqual(t, hex.EncodeToString(utf8Sum[:]), Digest("a测"))
}

func TestDigestBytesMatchesReference(t *testing.T) {
	for n := 0; n < 200; n += 7 {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(i*31 + n)
		}
		sum := md5.Sum(b)
		if got := DigestBytes(b); got != hex.EncodeToString(sum[:]) {
			t.Fatalf("DigestBytes mismatch for length %d", n)
		}
	}
}

func TestMixinKey(t *testing.T) {
	got, err := MixinKey(testImgKey, testSubKey)
	require.NoError(t, err)
	assert.Equal(t, testMixin, got)
	assert.Len(t, got, KeyLength)

	again, err := MixinKey(testImgKey, testSubKey)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	got, err = Keys{Img: testImgKey, Sub: testSubKey}.MixinKey()
	require.NoError(t, err)
	assert.Equal(t, testMixin, got)
}

func TestMixinKeyRejectsBadLengths(t *testing.T) {
	for _, tc := range [][2]string{
		{"", testSubKey},
		{testImgKey, ""},
		{testImgKey[:31], testSubKey},
		{testImgKey + "0", testSubKey},
	} {
		_, err := MixinKey(tc[0], tc[1])
		if !errors.Is(err, ErrKeyMaterialUnavailable) {
			t.Fatalf("MixinKey(%q, %q) err = %v", tc[0], tc[1], err)
		}
	}
}

func TestMixinKeyEncTab(t *testing.T) {
	tab := MixinKeyEncTab()
	seen := make(map[int]bool, len(tab))
	for _, idx := range tab {
		if idx < 0 || idx >= 2*KeyLength {
			t.Fatalf("index %d out of range", idx)
		}
		if seen[idx] {
			t.Fatalf("index %d repeated", idx)
		}
		seen[idx] = true
	}
	assert.Equal(t, 46, tab[0])
	assert.Equal(t, 13, tab[KeyLength-1])

	tab[0] = 0
	assert.Equal(t, 46, MixinKeyEncTab()[0], "table must be returned by value")
}

func TestExtractKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://i0.hdslb.com/bfs/wbi/7cd084941338484aae1ad9425b84077c.png", testImgKey},
		{"https://i0.hdslb.com/bfs/wbi/4932caff0ff746eab6f01bf08b70ac45.png", testSubKey},
		{"https://i0.hdslb.com/bfs/wbi/7CD084941338484AAE1AD9425B84077C.png", ""},
		{"https://i0.hdslb.com/bfs/wbi/short.png", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractKey(tt.in); got != tt.want {
			t.Fatalf("ExtractKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalize(t *testing.T) {
	p := Params{"b": "2", "a": "1", ParamTimestamp: int64(1700000000)}
	assert.Equal(t, "a=1&b=2&wts=1700000000", Canonicalize(p))

	assert.Equal(t, "", Canonicalize(Params{}))
	assert.Equal(t, "B=1&a=2&b=3", Canonicalize(Params{"b": 3, "a": 2, "B": 1}))
	assert.Equal(t, "keyword=a b&x=!'()*", Canonicalize(Params{"keyword": "a b", "x": "!'()*"}))
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"s", "s"},
		{42, "42"},
		{int64(-7), "-7"},
		{uint32(9), "9"},
		{1.5, "1.5"},
		{float32(0.25), "0.25"},
		{true, "true"},
		{nil, ""},
		{[]int{1, 2}, "[1 2]"},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Fatalf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSignWithKnownAnswer(t *testing.T) {
	in := Params{"foo": "114", "bar": "514", "zab": 1919810}
	signed := SignWith(in, testMixin, 1702204169)

	assert.Equal(t, "8f6f2b5b3d485fe1886cec6a0be8c5d4", signed[ParamSignature])
	assert.Equal(t, int64(1702204169), signed[ParamTimestamp])
	assert.Equal(t, "114", signed["foo"])
	assert.Len(t, signed, 5)

	assert.Len(t, in, 3, "input must not be modified")
	assert.NotContains(t, in, ParamTimestamp)
	assert.NotContains(t, in, ParamSignature)
}

func TestSignWithCanonicalString(t *testing.T) {
	const wts = 1700000000
	signed := SignWith(Params{"b": "2", "a": "1"}, testMixin, wts)
	want := Digest("a=1&b=2&wts=" + strconv.Itoa(wts) + testMixin)
	assert.Equal(t, want, signed.Get(ParamSignature))
}

func TestSignWithReplacesStaleSignature(t *testing.T) {
	first := SignWith(Params{"a": "1"}, testMixin, 1)
	second := SignWith(first, testMixin, 1)
	assert.Equal(t, first[ParamSignature], second[ParamSignature])
}

func TestParamsEncode(t *testing.T) {
	p := Params{"keyword": "a b", "oid": int64(12), "w_rid": "x"}
	assert.Equal(t, "keyword=a+b&oid=12&w_rid=x", p.Encode())
	assert.Equal(t, "12", p.Get("oid"))
	assert.Equal(t, "", p.Get("missing"))
}
