// Package danmaku decodes Bilibili danmaku segments (the binary payload of
// dm/web/seg.so) into comment records.
package danmaku

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/liuran001/BiliSummary-Go/summary/protoreader"
)

// ColorSpecial marks a comment rendered with privileged colorization.
const ColorSpecial = "special"

// Display modes.
const (
	ModeScroll   int32 = 1
	ModeBottom   int32 = 4
	ModeTop      int32 = 5
	ModeReverse  int32 = 6
	ModeAdvanced int32 = 7
	ModeCode     int32 = 8
	ModeBAS      int32 = 9
)

const (
	defaultMode     = ModeScroll
	defaultFontSize = 25
	defaultColor    = "ffffff"
)

// SegmentSeconds is the playback span covered by one segment.
const SegmentSeconds = 360

// Comment is one decoded danmaku entry.
type Comment struct {
	Text     string  `json:"text"`
	Time     float64 `json:"time"`
	Mode     int32   `json:"mode"`
	FontSize int32   `json:"fontsize"`
	Color    string  `json:"color"`
	SendTime int64   `json:"ctime"`
}

func newComment() Comment {
	return Comment{
		Mode:     defaultMode,
		FontSize: defaultFontSize,
		Color:    defaultColor,
	}
}

// wire types used to skip comment fields missing from the schema.
const (
	wireVarint  = 0
	wireFixed64 = 1
	wireBytes   = 2
	wireFixed32 = 5
)

var errUnknownWireType = errors.New("danmaku: unknown wire type")

// DecodeSegment decodes a segment and drops the terminating error, if any.
func DecodeSegment(b []byte) []Comment {
	comments, _ := Decode(b)
	return comments
}

// Decode returns the comments in stream order. On malformed or truncated input
// it returns the records completed before the failure together with the error.
// Records whose text is empty or whitespace are dropped.
func Decode(b []byte) ([]Comment, error) {
	c := protoreader.New(b)
	var comments []Comment
	for c.HasMore() {
		start := c.Position()
		tag, err := c.ReadVarint()
		if err != nil {
			return comments, fmt.Errorf("danmaku: segment tag at %d: %w", start, err)
		}

		num := tag >> 3
		if num == segmentFieldElems {
			block, err := c.ReadBytes()
			if err != nil {
				return comments, fmt.Errorf("danmaku: comment block at %d: %w", start, err)
			}
			comment, err := decodeComment(block)
			if err != nil {
				return comments, fmt.Errorf("danmaku: comment at %d: %w", start, err)
			}
			if strings.TrimSpace(comment.Text) != "" {
				comments = append(comments, comment)
			}
			continue
		}

		field, ok := segmentFields[num]
		if !ok {
			continue
		}
		if _, err := readAll(c, field.Reads); err != nil {
			return comments, fmt.Errorf("danmaku: segment field %s at %d: %w", field.Name, start, err)
		}
	}
	return comments, nil
}

func decodeComment(b []byte) (Comment, error) {
	c := protoreader.New(b)
	comment := newComment()
	for c.HasMore() {
		tag, err := c.ReadVarint()
		if err != nil {
			return comment, err
		}

		field, ok := commentFields[tag>>3]
		if !ok {
			if err := skipWireType(c, tag&0x7); err != nil {
				if errors.Is(err, errUnknownWireType) {
					return comment, nil
				}
				return comment, err
			}
			continue
		}

		v, err := readAll(c, field.Reads)
		if err != nil {
			return comment, fmt.Errorf("field %s: %w", field.Name, err)
		}
		if field.apply != nil {
			field.apply(&comment, v)
		}
	}
	return comment, nil
}

// readAll performs the reads of one field and returns the last value read.
func readAll(c *protoreader.Cursor, reads []FieldKind) (fieldValue, error) {
	var v fieldValue
	for _, kind := range reads {
		var err error
		switch kind {
		case KindVarint:
			v.num, err = c.ReadVarint()
		case KindBytes:
			_, err = c.ReadBytes()
		case KindString:
			v.str, err = c.ReadString()
		case KindSkip:
		}
		if err != nil {
			return v, err
		}
	}
	return v, nil
}

func skipWireType(c *protoreader.Cursor, wireType uint64) error {
	switch wireType {
	case wireVarint:
		_, err := c.ReadVarint()
		return err
	case wireFixed64:
		return c.Skip(8)
	case wireBytes:
		_, err := c.ReadBytes()
		return err
	case wireFixed32:
		return c.Skip(4)
	default:
		return errUnknownWireType
	}
}

// SortByTime returns a copy of comments ordered by presentation time.
// Comments sharing a timestamp keep their stream order.
func SortByTime(comments []Comment) []Comment {
	sorted := make([]Comment, len(comments))
	copy(sorted, comments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time < sorted[j].Time
	})
	return sorted
}

// SegmentCount returns how many segments cover a video of the given duration.
func SegmentCount(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 1
	}
	return (durationSeconds + SegmentSeconds - 1) / SegmentSeconds
}
