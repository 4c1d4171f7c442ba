package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liuran001/BiliSummary-Go/summary"
	"github.com/liuran001/BiliSummary-Go/summary/danmaku"
	"github.com/liuran001/BiliSummary-Go/summary/metrics"
)

// DefaultMaxComments bounds the danmaku lines placed in one prompt.
const DefaultMaxComments = 400

// ErrNoMaterial is returned when a video yields neither subtitles nor comments.
var ErrNoMaterial = errors.New("analysis: no subtitles, danmaku or replies")

// Options configures a Service.
type Options struct {
	Model       string
	SegmentTTL  time.Duration
	MaxComments int
	ReplyPages  int
	ReuseCached bool
}

// Service fetches the material for a video and asks the model for a summary.
type Service struct {
	source      summary.VideoSource
	chat        summary.ChatClient
	repo        summary.AnalysisRepository
	pool        summary.WorkerPool
	logger      summary.Logger
	model       string
	segmentTTL  time.Duration
	maxComments int
	replyPages  int
	reuse       bool
}

// New creates a service. repo, pool and logger may be nil.
func New(source summary.VideoSource, chat summary.ChatClient, repo summary.AnalysisRepository, pool summary.WorkerPool, logger summary.Logger, opts Options) *Service {
	maxComments := opts.MaxComments
	if maxComments <= 0 {
		maxComments = DefaultMaxComments
	}
	return &Service{
		source:      source,
		chat:        chat,
		repo:        repo,
		pool:        pool,
		logger:      logger,
		model:       opts.Model,
		segmentTTL:  opts.SegmentTTL,
		maxComments: maxComments,
		replyPages:  opts.ReplyPages,
		reuse:       opts.ReuseCached,
	}
}

// CollectDanmaku fetches and decodes every segment of a video. Segments that
// fail are logged and left out; the call fails only when all of them fail.
func (s *Service) CollectDanmaku(ctx context.Context, cid int64, durationSeconds int) ([]danmaku.Comment, error) {
	count := danmaku.SegmentCount(durationSeconds)
	results := make([][]danmaku.Comment, count)
	errs := make([]error, count)

	// a failed segment must not cancel the others, so the group has no context
	var g errgroup.Group
	limit := 1
	if s.pool != nil && s.pool.Size() > 0 {
		limit = s.pool.Size()
	}
	g.SetLimit(limit)
	for i := 0; i < count; i++ {
		index := i + 1
		slot := i
		task := func() error {
			comments, err := s.segment(ctx, cid, index)
			results[slot] = comments
			return err
		}
		g.Go(func() error {
			if s.pool == nil {
				errs[slot] = task()
			} else {
				errs[slot] = s.pool.SubmitWaitContext(ctx, task)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		out    []danmaku.Comment
		failed int
		last   error
	)
	for i := range results {
		if errs[i] != nil {
			failed++
			last = errs[i]
			if s.logger != nil {
				s.logger.Warn("analysis: danmaku segment failed", "cid", cid, "segment", i+1, "err", errs[i])
			}
			continue
		}
		out = append(out, results[i]...)
	}
	if failed == count {
		return nil, fmt.Errorf("analysis: all %d danmaku segments failed: %w", count, last)
	}

	metrics.DanmakuComments.Add(float64(len(out)))
	if s.logger != nil {
		s.logger.Debug("analysis: danmaku collected", "cid", cid, "segments", count, "failed", failed, "comments", len(out))
	}
	return out, nil
}

func (s *Service) segment(ctx context.Context, cid int64, index int) ([]danmaku.Comment, error) {
	payload, cached, err := s.cachedSegment(ctx, cid, index)
	if err != nil {
		return nil, err
	}
	if !cached {
		payload, err = s.source.GetDanmakuSegment(ctx, cid, index)
		if err != nil {
			return nil, err
		}
		if s.repo != nil {
			if err := s.repo.PutSegment(ctx, cid, index, payload); err != nil && s.logger != nil {
				s.logger.Warn("analysis: failed to cache danmaku segment", "cid", cid, "segment", index, "err", err)
			}
		}
	}

	comments, err := danmaku.Decode(payload)
	if err != nil {
		metrics.DanmakuSegments.WithLabelValues("truncated").Inc()
		if s.logger != nil {
			s.logger.Debug("analysis: danmaku segment decoded partially", "cid", cid, "segment", index, "comments", len(comments), "err", err)
		}
	}
	return comments, nil
}

func (s *Service) cachedSegment(ctx context.Context, cid int64, index int) ([]byte, bool, error) {
	if s.repo == nil {
		return nil, false, nil
	}
	payload, ok, err := s.repo.GetSegment(ctx, cid, index, s.segmentTTL)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("analysis: segment cache lookup failed", "cid", cid, "segment", index, "err", err)
		}
		return nil, false, nil
	}
	if ok {
		metrics.DanmakuSegments.WithLabelValues("cached").Inc()
	}
	return payload, ok, nil
}

// Summarize builds and stores a summary for the video named by id. When
// onToken is set the reply is streamed through it.
func (s *Service) Summarize(ctx context.Context, id string, onToken func(string) error) (*summary.Analysis, error) {
	video, err := s.source.GetVideo(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("analysis: fetch video: %w", err)
	}
	log := s.logger
	if log != nil {
		log = log.With("bvid", video.BVID, "cid", video.CID)
		log.Info("analysis: summarizing video", "title", video.Title)
	}

	if s.reuse && s.repo != nil {
		if cached, err := s.repo.LatestAnalysis(ctx, video.BVID, s.model); err == nil && cached != nil {
			if log != nil {
				log.Info("analysis: reusing stored summary", "id", cached.ID, "created_at", cached.CreatedAt)
			}
			if onToken != nil {
				if err := onToken(cached.Content); err != nil {
					return nil, err
				}
			}
			return cached, nil
		}
	}

	subtitles, err := s.source.GetSubtitles(ctx, video)
	if err != nil && log != nil {
		log.Warn("analysis: subtitles unavailable", "err", err)
	}
	comments, err := s.CollectDanmaku(ctx, video.CID, video.Duration)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if log != nil {
			log.Warn("analysis: danmaku unavailable", "err", err)
		}
	}
	replies, err := s.source.GetReplies(ctx, video, s.replyPages)
	if err != nil && log != nil {
		log.Warn("analysis: replies unavailable", "err", err)
	}
	if len(subtitles) == 0 && len(comments) == 0 && len(replies) == 0 {
		return nil, ErrNoMaterial
	}

	messages := BuildMessages(video, subtitles, comments, replies, s.maxComments)
	if log != nil {
		log.Debug("analysis: prompt built", "subtitles", len(subtitles), "danmaku", len(comments), "replies", len(replies))
	}

	var content string
	if onToken != nil {
		content, err = s.chat.Stream(ctx, messages, onToken)
	} else {
		content, err = s.chat.Complete(ctx, messages)
	}
	if err != nil {
		return nil, fmt.Errorf("analysis: model request: %w", err)
	}

	result := &summary.Analysis{VideoID: video.BVID, Model: s.model, Content: content}
	if s.repo != nil {
		if err := s.repo.SaveAnalysis(ctx, result); err != nil && log != nil {
			log.Warn("analysis: failed to store summary", "err", err)
		}
	}
	return result, nil
}
