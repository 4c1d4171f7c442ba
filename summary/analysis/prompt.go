package analysis

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/liuran001/BiliSummary-Go/summary"
	"github.com/liuran001/BiliSummary-Go/summary/danmaku"
)

const (
	maxSubtitleRunes = 12000
	maxPromptReplies = 30
)

const systemPrompt = `你是一名视频内容分析助手。根据提供的视频信息、字幕、弹幕和热门评论，用中文输出：
1. 一段不超过 200 字的内容摘要；
2. 按时间顺序列出关键片段，格式为 [mm:ss] 描述；
3. 观众反应：弹幕和评论的主要情绪与高频话题。
没有字幕时仅依据弹幕和评论推断内容，并明确说明。`

// FormatTimestamp renders seconds as mm:ss. Minutes keep counting past 59.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// SampleComments returns at most limit comments in time order, picked evenly
// across the whole list. limit <= 0 keeps everything.
func SampleComments(comments []danmaku.Comment, limit int) []danmaku.Comment {
	sorted := danmaku.SortByTime(comments)
	if limit <= 0 || len(sorted) <= limit {
		return sorted
	}
	out := make([]danmaku.Comment, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, sorted[i*len(sorted)/limit])
	}
	return out
}

// BuildMessages assembles the system and user messages for one video.
func BuildMessages(video *summary.Video, subtitles []summary.SubtitleLine, comments []danmaku.Comment, replies []summary.Reply, maxComments int) []summary.Message {
	var b strings.Builder

	b.WriteString("## 视频信息\n")
	if video != nil {
		fmt.Fprintf(&b, "标题：%s\n", video.Title)
		if video.Owner != "" {
			fmt.Fprintf(&b, "UP主：%s\n", video.Owner)
		}
		if video.Duration > 0 {
			fmt.Fprintf(&b, "时长：%s\n", FormatTimestamp(float64(video.Duration)))
		}
		fmt.Fprintf(&b, "播放：%d  点赞：%d  弹幕：%d  评论：%d\n", video.Views, video.Likes, video.Danmakus, video.Replies)
		if video.Description != "" {
			fmt.Fprintf(&b, "简介：%s\n", video.Description)
		}
	}

	b.WriteString("\n## 字幕\n")
	if len(subtitles) == 0 {
		b.WriteString("（无字幕）\n")
	} else {
		writeSubtitles(&b, subtitles)
	}

	sampled := SampleComments(comments, maxComments)
	fmt.Fprintf(&b, "\n## 弹幕（共 %d 条，抽样 %d 条）\n", len(comments), len(sampled))
	if len(sampled) == 0 {
		b.WriteString("（无弹幕）\n")
	}
	for _, c := range sampled {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", FormatTimestamp(c.Time), text)
	}

	if len(replies) > 0 {
		b.WriteString("\n## 热门评论\n")
		for i, r := range replies {
			if i == maxPromptReplies {
				break
			}
			fmt.Fprintf(&b, "- %s（%d 赞）：%s\n", r.Author, r.Likes, strings.ReplaceAll(r.Message, "\n", " "))
		}
	}

	return []summary.Message{
		{Role: summary.RoleSystem, Content: systemPrompt},
		{Role: summary.RoleUser, Content: b.String()},
	}
}

func writeSubtitles(b *strings.Builder, subtitles []summary.SubtitleLine) {
	written := 0
	for _, line := range subtitles {
		entry := fmt.Sprintf("[%s] %s\n", FormatTimestamp(line.From), line.Content)
		n := utf8.RuneCountInString(entry)
		if written+n > maxSubtitleRunes {
			b.WriteString("……（字幕过长，已截断）\n")
			return
		}
		b.WriteString(entry)
		written += n
	}
}
