package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/liuran001/BiliSummary-Go/summary/wbi"
)

const replyPath = "/x/v2/reply/wbi/main"

// Reply sort modes.
const (
	ReplyModeHot  = 3
	ReplyModeTime = 2
)

type ReplyItem struct {
	Rpid   int64 `json:"rpid"`
	Like   int64 `json:"like"`
	Member struct {
		Mid   string `json:"mid"`
		Uname string `json:"uname"`
	} `json:"member"`
	Content struct {
		Message string `json:"message"`
	} `json:"content"`
}

type replyPage struct {
	Cursor struct {
		IsEnd           bool `json:"is_end"`
		PaginationReply struct {
			NextOffset string `json:"next_offset"`
		} `json:"pagination_reply"`
	} `json:"cursor"`
	Replies    []ReplyItem `json:"replies"`
	TopReplies []ReplyItem `json:"top_replies"`
}

// GetComments fetches up to pages pages of hot comments for a video, pinned
// comments first. Duplicates across pages are dropped.
func (c *Client) GetComments(ctx context.Context, aid int64, pages int) ([]ReplyItem, error) {
	if aid <= 0 {
		return nil, fmt.Errorf("bilibili: invalid aid %d", aid)
	}
	if pages <= 0 {
		pages = 1
	}

	var (
		out    []ReplyItem
		seen   = make(map[int64]struct{})
		offset string
	)
	add := func(items []ReplyItem) {
		for _, item := range items {
			if _, dup := seen[item.Rpid]; dup {
				continue
			}
			if strings.TrimSpace(item.Content.Message) == "" {
				continue
			}
			seen[item.Rpid] = struct{}{}
			out = append(out, item)
		}
	}

	for page := 1; page <= pages; page++ {
		pagination, err := json.Marshal(map[string]string{"offset": offset})
		if err != nil {
			return nil, err
		}
		params := wbi.Params{
			"oid":            aid,
			"type":           1,
			"mode":           ReplyModeHot,
			"plain":          1,
			"pagination_str": string(pagination),
		}

		if c.logger != nil {
			c.logger.Debug("bilibili: fetching comments", "aid", aid, "page", page)
		}
		var data replyPage
		if err := c.SignedGET(ctx, "reply", replyPath, params, &data); err != nil {
			if len(out) > 0 {
				if c.logger != nil {
					c.logger.Warn("bilibili: comment page failed, keeping earlier pages", "aid", aid, "page", page, "err", err)
				}
				return out, nil
			}
			return nil, err
		}

		if page == 1 {
			add(data.TopReplies)
		}
		add(data.Replies)

		offset = data.Cursor.PaginationReply.NextOffset
		if data.Cursor.IsEnd || offset == "" || len(data.Replies) == 0 {
			break
		}
	}
	return out, nil
}
