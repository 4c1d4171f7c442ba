package summary

import (
	"context"
	"time"
)

// Logger is the minimal logging abstraction used across modules.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// Config provides typed access to configuration values.
type Config interface {
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
}

// WorkerPool limits concurrency for background tasks.
type WorkerPool interface {
	Submit(task func()) error
	SubmitWait(task func() error) error
	SubmitWaitContext(ctx context.Context, task func() error) error
	Shutdown(ctx context.Context) error
	Size() int
}

// ChatClient sends role-tagged messages to a language model.
type ChatClient interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	// Stream delivers tokens to onToken as they arrive and returns the full
	// reply. A non-nil error from onToken stops the stream.
	Stream(ctx context.Context, messages []Message, onToken func(string) error) (string, error)
}

// VideoSource fetches the material a summary is built from.
type VideoSource interface {
	GetVideo(ctx context.Context, id string) (*Video, error)
	GetSubtitles(ctx context.Context, video *Video) ([]SubtitleLine, error)
	GetReplies(ctx context.Context, video *Video, pages int) ([]Reply, error)
	GetDanmakuSegment(ctx context.Context, cid int64, index int) ([]byte, error)
}

// AnalysisRepository stores raw danmaku segments and finished summaries.
type AnalysisRepository interface {
	GetSegment(ctx context.Context, cid int64, index int, maxAge time.Duration) ([]byte, bool, error)
	PutSegment(ctx context.Context, cid int64, index int, payload []byte) error
	SaveAnalysis(ctx context.Context, analysis *Analysis) error
	LatestAnalysis(ctx context.Context, videoID, model string) (*Analysis, error)
}
