package danmaku

import "strconv"

// FieldKind tells the decoder how to read the payload that follows a tag.
type FieldKind int

const (
	// KindSkip consumes no payload bytes.
	KindSkip FieldKind = iota
	// KindVarint reads one varint.
	KindVarint
	// KindBytes reads one length-prefixed byte slice.
	KindBytes
	// KindString reads one length-prefixed UTF-8 string.
	KindString
)

func (k FieldKind) String() string {
	switch k {
	case KindSkip:
		return "skip"
	case KindVarint:
		return "varint"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Field describes one field number of the segment or comment schema.
// Reads lists the payload reads performed after the tag, in order.
type Field struct {
	Name  string
	Reads []FieldKind
	apply func(*Comment, fieldValue)
}

type fieldValue struct {
	num uint64
	str string
}

// Stores reports whether the decoder keeps the value of this field.
func (f Field) Stores() bool {
	return f.apply != nil
}

// segmentFieldElems is the outer field that wraps one encoded comment.
const segmentFieldElems = 1

// colorSpecialValue is the encoded color reserved for privileged colorization.
const colorSpecialValue = 60001

var (
	varint = []FieldKind{KindVarint}
	bytesF = []FieldKind{KindBytes}
	str    = []FieldKind{KindString}
)

// Outer segment schema. Field numbers missing here consume no payload: those
// fields have not been observed upstream, so the assumption has never been tested.
var segmentFields = map[uint64]Field{
	segmentFieldElems: {Name: "elems", Reads: bytesF},
	4:                 {Name: "state", Reads: bytesF},
	5:                 {Name: "ai_flag", Reads: []FieldKind{KindVarint, KindVarint, KindVarint, KindBytes}},
}

var commentFields = map[uint64]Field{
	1: {Name: "id", Reads: varint},
	2: {Name: "progress", Reads: varint, apply: func(c *Comment, v fieldValue) {
		c.Time = float64(v.num) / 1000.0
	}},
	3: {Name: "mode", Reads: varint, apply: func(c *Comment, v fieldValue) {
		c.Mode = int32(v.num)
	}},
	4: {Name: "fontsize", Reads: varint, apply: func(c *Comment, v fieldValue) {
		c.FontSize = int32(v.num)
	}},
	5: {Name: "color", Reads: varint, apply: func(c *Comment, v fieldValue) {
		if v.num == colorSpecialValue {
			c.Color = ColorSpecial
			return
		}
		c.Color = strconv.FormatUint(v.num, 16)
	}},
	6: {Name: "mid_hash", Reads: str},
	7: {Name: "content", Reads: str, apply: func(c *Comment, v fieldValue) {
		c.Text = v.str
	}},
	8: {Name: "ctime", Reads: varint, apply: func(c *Comment, v fieldValue) {
		c.SendTime = int64(v.num)
	}},
	9:  {Name: "weight", Reads: varint},
	10: {Name: "action", Reads: str},
	11: {Name: "pool", Reads: varint},
	12: {Name: "id_str", Reads: str},
	13: {Name: "attr", Reads: varint},
	14: {Name: "uid", Reads: varint},
	15: {Name: "likes", Reads: varint},
	20: {Name: "animation", Reads: bytesF},
	21: {Name: "extra", Reads: bytesF},
	22: {Name: "colorful_src", Reads: bytesF},
	25: {Name: "reply_count", Reads: varint},
	26: {Name: "type", Reads: varint},
}

// CommentField returns the schema entry for a comment field number.
func CommentField(num uint64) (Field, bool) {
	f, ok := commentFields[num]
	return f, ok
}

// SegmentField returns the schema entry for an outer segment field number.
func SegmentField(num uint64) (Field, bool) {
	f, ok := segmentFields[num]
	return f, ok
}
