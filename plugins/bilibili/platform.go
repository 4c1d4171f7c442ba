package bilibili

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/liuran001/BiliSummary-Go/summary"
)

// BilibiliPlatform adapts Client to summary.VideoSource.
type BilibiliPlatform struct {
	client       *Client
	matcher      *URLMatcher
	commentPages int
}

var _ summary.VideoSource = (*BilibiliPlatform)(nil)

// NewPlatform creates a new BilibiliPlatform instance.
func NewPlatform(client *Client, commentPages int) *BilibiliPlatform {
	if commentPages <= 0 {
		commentPages = 1
	}
	return &BilibiliPlatform{client: client, matcher: NewURLMatcher(), commentPages: commentPages}
}

// Name returns the platform identifier.
func (b *BilibiliPlatform) Name() string {
	return "bilibili"
}

// Client returns the underlying API client.
func (b *BilibiliPlatform) Client() *Client {
	return b.client
}

// ResolveID turns a URL, short link or bare id into a video id and page.
func (b *BilibiliPlatform) ResolveID(ctx context.Context, input string) (string, int, error) {
	input = strings.TrimSpace(input)
	id, ok := b.matcher.MatchText(input)
	if !ok {
		id, ok = b.matcher.MatchURL(input)
	}
	if !ok {
		return "", 0, fmt.Errorf("bilibili: no video id in %q", input)
	}
	page := b.matcher.MatchPage(input)

	if strings.HasPrefix(id, b23Prefix) {
		resolved, err := b.client.ResolveB23ID(ctx, strings.TrimPrefix(id, b23Prefix))
		if err != nil {
			return "", 0, err
		}
		id = resolved
	}
	return id, page, nil
}

// GetVideo fetches video metadata. input may be a URL, short link or id;
// a ?p= query selects the page whose cid and duration are returned.
func (b *BilibiliPlatform) GetVideo(ctx context.Context, input string) (*summary.Video, error) {
	id, page, err := b.ResolveID(ctx, input)
	if err != nil {
		return nil, err
	}

	info, err := b.client.GetVideoInfo(ctx, id)
	if err != nil {
		return nil, err
	}

	video := &summary.Video{
		BVID:        info.Bvid,
		AID:         info.Aid,
		CID:         info.Cid,
		Title:       html.UnescapeString(info.Title),
		Description: strings.TrimSpace(info.Desc),
		Owner:       info.Owner.Name,
		CoverURL:    info.Pic,
		Duration:    info.Duration,
		Views:       info.Stat.View,
		Likes:       info.Stat.Like,
		Danmakus:    info.Stat.Danmaku,
		Replies:     info.Stat.Reply,
	}
	if info.Pubdate > 0 {
		video.PublishedAt = time.Unix(info.Pubdate, 0)
	}
	if page >= 1 && page <= len(info.Pages) {
		p := info.Pages[page-1]
		video.CID = p.Cid
		if p.Duration > 0 {
			video.Duration = p.Duration
		}
		if len(info.Pages) > 1 && strings.TrimSpace(p.Part) != "" {
			video.Title = fmt.Sprintf("%s (P%d %s)", video.Title, p.Page, p.Part)
		}
	}
	return video, nil
}

// GetSubtitles returns the preferred subtitle track, or nil when there is none.
func (b *BilibiliPlatform) GetSubtitles(ctx context.Context, video *summary.Video) ([]summary.SubtitleLine, error) {
	subtitleURL, err := b.client.GetVideoSubtitleURL(ctx, video.BVID, video.CID)
	if err != nil || subtitleURL == "" {
		return nil, err
	}
	lines, err := b.client.GetVideoSubtitleLines(ctx, subtitleURL)
	if err != nil {
		return nil, err
	}

	out := make([]summary.SubtitleLine, 0, len(lines))
	for _, line := range lines {
		content := strings.TrimSpace(line.Content)
		if content == "" {
			continue
		}
		out = append(out, summary.SubtitleLine{From: line.From, To: line.To, Content: content})
	}
	return out, nil
}

// GetReplies returns hot comments. pages <= 0 uses the configured page count.
func (b *BilibiliPlatform) GetReplies(ctx context.Context, video *summary.Video, pages int) ([]summary.Reply, error) {
	if pages <= 0 {
		pages = b.commentPages
	}
	items, err := b.client.GetComments(ctx, video.AID, pages)
	if err != nil {
		return nil, err
	}

	out := make([]summary.Reply, 0, len(items))
	for _, item := range items {
		out = append(out, summary.Reply{
			Author:  item.Member.Uname,
			Message: strings.TrimSpace(item.Content.Message),
			Likes:   item.Like,
		})
	}
	return out, nil
}

// GetDanmakuSegment returns the raw bytes of one segment.
func (b *BilibiliPlatform) GetDanmakuSegment(ctx context.Context, cid int64, index int) ([]byte, error) {
	return b.client.GetDanmakuSegment(ctx, cid, index)
}
