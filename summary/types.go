package summary

import "time"

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Video is the metadata of one video page.
type Video struct {
	BVID        string
	AID         int64
	CID         int64
	Title       string
	Description string
	Owner       string
	CoverURL    string
	Duration    int // seconds
	PublishedAt time.Time
	Views       int64
	Likes       int64
	Danmakus    int64
	Replies     int64
}

// SubtitleLine is one cue of a subtitle track.
type SubtitleLine struct {
	From    float64
	To      float64
	Content string
}

// Reply is one comment from the reply section.
type Reply struct {
	Author  string
	Message string
	Likes   int64
}

// Analysis is a stored summary.
type Analysis struct {
	ID        uint
	CreatedAt time.Time
	VideoID   string
	Model     string
	Content   string
}
