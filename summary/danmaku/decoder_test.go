package danmaku

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/liuran001/BiliSummary-Go/summary/protoreader"
)

type elemBuilder []byte

func (b elemBuilder) varint(num protowire.Number, v uint64) elemBuilder {
	out := protowire.AppendTag([]byte(b), num, protowire.VarintType)
	return protowire.AppendVarint(out, v)
}

func (b elemBuilder) str(num protowire.Number, s string) elemBuilder {
	out := protowire.AppendTag([]byte(b), num, protowire.BytesType)
	return protowire.AppendString(out, s)
}

func (b elemBuilder) raw(num protowire.Number, p []byte) elemBuilder {
	out := protowire.AppendTag([]byte(b), num, protowire.BytesType)
	return protowire.AppendBytes(out, p)
}

func appendElem(seg []byte, elem elemBuilder) []byte {
	seg = protowire.AppendTag(seg, segmentFieldElems, protowire.BytesType)
	return protowire.AppendBytes(seg, elem)
}

func sampleElem(text string, progressMS uint64) elemBuilder {
	return elemBuilder(nil).
		varint(1, 1234567890123).
		varint(2, progressMS).
		varint(3, 4).
		varint(4, 18).
		varint(5, 16646914).
		str(6, "a1b2c3d4").
		str(7, text).
		varint(8, 1700000000).
		varint(9, 10).
		str(10, "act").
		varint(11, 0).
		str(12, "1234567890123").
		varint(13, 0).
		varint(14, 42).
		varint(15, 3).
		raw(20, []byte("anim")).
		raw(21, []byte{0x01, 0x02}).
		raw(22, nil).
		varint(25, 0).
		varint(26, 1)
}

func sampleSegment() []byte {
	var seg []byte
	seg = appendElem(seg, sampleElem("第一条", 1500))
	seg = appendElem(seg, sampleElem("second", 2500))
	seg = appendElem(seg, sampleElem("   ", 2600))
	seg = appendElem(seg, sampleElem("third", 99000))
	seg = appendElem(seg, elemBuilder(nil).varint(3, 1))
	seg = appendElem(seg, sampleElem("fourth", 120000))
	return seg
}

func TestDecodeConcreteScenario(t *testing.T) {
	buf := []byte{0x0a, 0x0a, 0x18, 0x01, 0x3a, 0x06, 0xe6, 0xb5, 0x8b, 0xe8, 0xaf, 0x95}

	comments, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "测试", comments[0].Text)
	assert.Equal(t, int32(1), comments[0].Mode)
	assert.Equal(t, int32(25), comments[0].FontSize)
	assert.Equal(t, 0.0, comments[0].Time)
	assert.Equal(t, int64(0), comments[0].SendTime)
}

func TestDecodeAllFields(t *testing.T) {
	comments, err := Decode(sampleSegment())
	require.NoError(t, err)

	texts := make([]string, 0, len(comments))
	for _, c := range comments {
		texts = append(texts, c.Text)
	}
	assert.Equal(t, []string{"第一条", "second", "third", "fourth"}, texts)

	first := comments[0]
	assert.Equal(t, 1.5, first.Time)
	assert.Equal(t, ModeBottom, first.Mode)
	assert.Equal(t, int32(18), first.FontSize)
	assert.Equal(t, "fe0302", first.Color)
	assert.Equal(t, int64(1700000000), first.SendTime)
}

func TestDecodeDropsEmptyText(t *testing.T) {
	var seg []byte
	seg = appendElem(seg, elemBuilder(nil).varint(2, 1000).varint(3, 1))
	seg = appendElem(seg, elemBuilder(nil).str(7, " \t\n "))
	seg = appendElem(seg, elemBuilder(nil).str(7, ""))

	comments, err := Decode(seg)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestDecodeColorSentinel(t *testing.T) {
	var seg []byte
	seg = appendElem(seg, elemBuilder(nil).varint(5, 60001).str(7, "vip"))
	seg = appendElem(seg, elemBuilder(nil).varint(5, 60002).str(7, "plain"))
	seg = appendElem(seg, elemBuilder(nil).str(7, "default"))

	comments := DecodeSegment(seg)
	require.Len(t, comments, 3)
	assert.Equal(t, ColorSpecial, comments[0].Color)
	assert.NotEqual(t, "ea61", comments[0].Color)
	assert.Equal(t, "ea62", comments[1].Color)
	assert.Equal(t, "ffffff", comments[2].Color)
}

func TestDecodeTruncatedPrefixes(t *testing.T) {
	full := sampleSegment()
	want, err := Decode(full)
	require.NoError(t, err)

	for cut := 0; cut <= len(full); cut++ {
		got, err := Decode(full[:cut])
		if len(got) > len(want) {
			t.Fatalf("cut %d: got %d records, full stream has %d", cut, len(got), len(want))
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("cut %d: record %d = %+v, want %+v", cut, i, got[i], want[i])
			}
		}
		if cut < len(full) && err == nil && len(got) == len(want) {
			t.Fatalf("cut %d: decoded every record without error from a partial stream", cut)
		}
	}
}

func TestDecodeTruncatedReportsError(t *testing.T) {
	full := sampleSegment()
	_, err := Decode(full[:len(full)-3])
	require.Error(t, err)
	assert.True(t, errors.Is(err, protoreader.ErrTruncatedInput), "got %v", err)
}

func TestDecodeEmptyAndGarbage(t *testing.T) {
	comments, err := Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, comments)

	assert.Empty(t, DecodeSegment([]byte{0xff}))
	assert.Empty(t, DecodeSegment([]byte{0x0a, 0xff, 0xff, 0xff, 0xff, 0x0f}))
	assert.NotPanics(t, func() {
		DecodeSegment([]byte{0x0a, 0x03, 0x3a, 0x05, 0x41})
	})
}

func TestDecodeOuterFields(t *testing.T) {
	var seg []byte
	seg = protowire.AppendTag(seg, 4, protowire.BytesType)
	seg = protowire.AppendBytes(seg, []byte{0x08, 0x01, 0x10, 0x02})
	seg = appendElem(seg, elemBuilder(nil).str(7, "after state"))
	seg = protowire.AppendTag(seg, 5, protowire.BytesType)
	seg = protowire.AppendVarint(seg, 1)
	seg = protowire.AppendVarint(seg, 300)
	seg = protowire.AppendVarint(seg, 70000)
	seg = protowire.AppendBytes(seg, []byte("flag payload"))
	seg = appendElem(seg, elemBuilder(nil).str(7, "after flag"))

	comments, err := Decode(seg)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "after state", comments[0].Text)
	assert.Equal(t, "after flag", comments[1].Text)
}

func TestDecodeUnknownOuterFieldConsumesNoPayload(t *testing.T) {
	var seg []byte
	seg = protowire.AppendTag(seg, 9, protowire.VarintType)
	seg = appendElem(seg, elemBuilder(nil).str(7, "kept"))

	comments, err := Decode(seg)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "kept", comments[0].Text)
}

func TestDecodeUnknownCommentFieldsSkippedByWireType(t *testing.T) {
	elem := elemBuilder(nil).varint(30, 99).raw(31, []byte("opaque"))
	elem = elemBuilder(protowire.AppendFixed32(protowire.AppendTag([]byte(elem), 32, protowire.Fixed32Type), 7))
	elem = elemBuilder(protowire.AppendFixed64(protowire.AppendTag([]byte(elem), 33, protowire.Fixed64Type), 7))
	elem = elem.str(7, "survives").varint(3, 5)

	comments, err := Decode(appendElem(nil, elem))
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "survives", comments[0].Text)
	assert.Equal(t, ModeTop, comments[0].Mode)
}

func TestDecodeUnknownWireTypeEndsComment(t *testing.T) {
	elem := elemBuilder(nil).str(7, "head")
	elem = elemBuilder(protowire.AppendTag([]byte(elem), 40, protowire.StartGroupType))
	elem = elem.str(7, "never read")

	comments, err := Decode(appendElem(nil, elem))
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "head", comments[0].Text)
}

func TestCommentFieldTable(t *testing.T) {
	tests := []struct {
		num    uint64
		kind   FieldKind
		stores bool
	}{
		{1, KindVarint, false},
		{2, KindVarint, true},
		{3, KindVarint, true},
		{4, KindVarint, true},
		{5, KindVarint, true},
		{6, KindString, false},
		{7, KindString, true},
		{8, KindVarint, true},
		{9, KindVarint, false},
		{10, KindString, false},
		{11, KindVarint, false},
		{12, KindString, false},
		{13, KindVarint, false},
		{14, KindVarint, false},
		{15, KindVarint, false},
		{20, KindBytes, false},
		{21, KindBytes, false},
		{22, KindBytes, false},
		{25, KindVarint, false},
		{26, KindVarint, false},
	}

	for _, tt := range tests {
		f, ok := CommentField(tt.num)
		if !ok {
			t.Fatalf("field %d missing from comment table", tt.num)
		}
		if len(f.Reads) != 1 || f.Reads[0] != tt.kind {
			t.Fatalf("field %d (%s) reads %v, want [%s]", tt.num, f.Name, f.Reads, tt.kind)
		}
		if f.Stores() != tt.stores {
			t.Fatalf("field %d (%s) stores = %v, want %v", tt.num, f.Name, f.Stores(), tt.stores)
		}
	}

	for _, num := range []uint64{0, 16, 17, 18, 19, 23, 24, 27} {
		if _, ok := CommentField(num); ok {
			t.Fatalf("field %d unexpectedly present", num)
		}
	}
}

func TestSegmentFieldTable(t *testing.T) {
	f, ok := SegmentField(5)
	require.True(t, ok)
	assert.Equal(t, []FieldKind{KindVarint, KindVarint, KindVarint, KindBytes}, f.Reads)

	f, ok = SegmentField(4)
	require.True(t, ok)
	assert.Equal(t, []FieldKind{KindBytes}, f.Reads)

	_, ok = SegmentField(2)
	assert.False(t, ok)
}

func TestSortByTime(t *testing.T) {
	in := []Comment{{Text: "c", Time: 3}, {Text: "a", Time: 1}, {Text: "b1", Time: 2}, {Text: "b2", Time: 2}}
	out := SortByTime(in)
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, []string{out[0].Text, out[1].Text, out[2].Text, out[3].Text})
	assert.Equal(t, "c", in[0].Text, "input must not be reordered")
}

func TestSegmentCount(t *testing.T) {
	tests := map[int]int{-5: 1, 0: 1, 1: 1, 359: 1, 360: 1, 361: 2, 720: 2, 3600: 10}
	for duration, want := range tests {
		if got := SegmentCount(duration); got != want {
			t.Fatalf("SegmentCount(%d) = %d, want %d", duration, got, want)
		}
	}
}
