package bilibili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/liuran001/BiliSummary-Go/summary/wbi"
)

// VideoInfoData contains metadata for a video.
type VideoInfoData struct {
	Bvid     string      `json:"bvid"`
	Aid      int64       `json:"aid"`
	Cid      int64       `json:"cid"`
	Pages    []VideoPage `json:"pages"`
	Tname    string      `json:"tname"`
	Title    string      `json:"title"`
	Pic      string      `json:"pic"`
	Desc     string      `json:"desc"`
	Duration int         `json:"duration"`
	Pubdate  int64       `json:"pubdate"`
	Owner    struct {
		Mid  int64  `json:"mid"`
		Name string `json:"name"`
		Face string `json:"face"`
	} `json:"owner"`
	Stat struct {
		View    int64 `json:"view"`
		Danmaku int64 `json:"danmaku"`
		Reply   int64 `json:"reply"`
		Like    int64 `json:"like"`
		Coin    int64 `json:"coin"`
		Share   int64 `json:"share"`
	} `json:"stat"`
}

type VideoPage struct {
	Cid      int64  `json:"cid"`
	Page     int    `json:"page"`
	Part     string `json:"part"`
	Duration int    `json:"duration"`
}

type VideoSubtitleItem struct {
	SubtitleURL   string `json:"subtitle_url"`
	SubtitleURLV2 string `json:"subtitle_url_v2"`
	Lan           string `json:"lan"`
	LanDoc        string `json:"lan_doc"`
	AiType        int    `json:"ai_type"`
}

type VideoSubtitleData struct {
	Subtitle struct {
		Subtitles []VideoSubtitleItem `json:"subtitles"`
	} `json:"subtitle"`
}

type SubtitleBodyLine struct {
	From    float64 `json:"from"`
	To      float64 `json:"to"`
	Content string  `json:"content"`
}

type SubtitleBodyResponse struct {
	Body []SubtitleBodyLine `json:"body"`
}

// GetVideoInfo fetches metadata for a video using its id (bvid or av).
func (c *Client) GetVideoInfo(ctx context.Context, id string) (*VideoInfoData, error) {
	if c.logger != nil {
		c.logger.Debug("bilibili: fetching video info", "id", id)
	}

	id = strings.TrimSpace(id)
	params := wbi.Params{}
	if strings.HasPrefix(strings.ToLower(id), "av") {
		aid, err := strconv.ParseInt(id[2:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bilibili: invalid av id %q", id)
		}
		params["aid"] = aid
	} else if id != "" {
		params["bvid"] = id
	} else {
		return nil, errors.New("bilibili: empty video id")
	}

	var data VideoInfoData
	if err := c.getJSON(ctx, "view", "/x/web-interface/view", params, &data); err != nil {
		return nil, err
	}
	if data.Cid == 0 && len(data.Pages) > 0 {
		data.Cid = data.Pages[0].Cid
	}
	return &data, nil
}

// GetVideoSubtitleURL returns the preferred subtitle URL for a video, or ""
// when it has none. The signed player endpoint is tried first.
func (c *Client) GetVideoSubtitleURL(ctx context.Context, bvid string, cid int64) (string, error) {
	if c.logger != nil {
		c.logger.Debug("bilibili: fetching video subtitle list", "bvid", bvid, "cid", cid, "cookie_has_sessdata", c.HasLogin())
	}

	params := wbi.Params{"bvid": bvid, "cid": cid}
	endpoints := []struct {
		name   string
		path   string
		signed bool
	}{
		{name: "player.wbi.v2", path: "/x/player/wbi/v2", signed: true},
		{name: "player.v2", path: "/x/player/v2"},
	}

	var lastErr error
	hasSuccessResponse := false

	for _, ep := range endpoints {
		var data VideoSubtitleData
		var err error
		if ep.signed {
			err = c.SignedGET(ctx, ep.name, ep.path, params, &data)
		} else {
			err = c.getJSON(ctx, ep.name, ep.path, params, &data)
		}
		if err != nil {
			lastErr = err
			if c.logger != nil {
				c.logger.Debug("bilibili: subtitle list fetch failed", "bvid", bvid, "cid", cid, "endpoint", ep.name, "err", err)
			}
			continue
		}

		hasSuccessResponse = true
		subtitles := data.Subtitle.Subtitles
		if c.logger != nil {
			c.logger.Debug("bilibili: subtitle list fetched", "bvid", bvid, "cid", cid, "endpoint", ep.name, "subtitle_count", len(subtitles))
		}
		if selected := pickBestSubtitleURL(subtitles); selected != "" {
			return selected, nil
		}
	}

	if !hasSuccessResponse && lastErr != nil {
		return "", lastErr
	}
	return "", nil
}

// GetVideoSubtitleLines fetches subtitle body lines from a subtitle URL.
func (c *Client) GetVideoSubtitleLines(ctx context.Context, subtitleURL string) ([]SubtitleBodyLine, error) {
	subtitleURL = strings.TrimSpace(subtitleURL)
	if subtitleURL == "" {
		return nil, errors.New("bilibili: empty subtitle url")
	}
	if strings.HasPrefix(subtitleURL, "//") {
		subtitleURL = "https:" + subtitleURL
	}

	if c.logger != nil {
		c.logger.Debug("bilibili: fetching subtitle body", "url", subtitleURL)
	}

	body, _, err := c.getBody(ctx, "subtitle", subtitleURL)
	if err != nil {
		return nil, err
	}
	var result SubtitleBodyResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("bilibili: decode subtitle body: %w", err)
	}
	return result.Body, nil
}

// ResolveB23ID follows a b23.tv shortlink and returns the video id it points to.
func (c *Client) ResolveB23ID(ctx context.Context, shortID string) (string, error) {
	if c.logger != nil {
		c.logger.Debug("bilibili: resolving b23.tv shortlink", "shortID", shortID)
	}

	urlStr := fmt.Sprintf("https://b23.tv/%s", shortID)

	var finalURL string
	err := c.execute(ctx, func() error {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, urlStr, nil)
		if err != nil {
			return err
		}
		c.setHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		finalURL = resp.Request.URL.String()
		return nil
	})
	if err != nil {
		return "", err
	}

	id, ok := NewURLMatcher().MatchURL(finalURL)
	if !ok || strings.HasPrefix(id, b23Prefix) {
		return "", fmt.Errorf("bilibili: b23 link did not resolve to a video (resolved to %s)", finalURL)
	}
	return id, nil
}

func pickBestSubtitleURL(items []VideoSubtitleItem) string {
	type subtitleCandidate struct {
		url   string
		score int
		lan   string
	}

	candidates := make([]subtitleCandidate, 0, len(items)*2)
	for _, item := range items {
		score := subtitleLanguagePriority(item.Lan, item.LanDoc)
		if item.AiType != 0 {
			score += 5
		}

		for _, raw := range []string{item.SubtitleURL, item.SubtitleURLV2} {
			u := strings.TrimSpace(raw)
			if u == "" {
				continue
			}
			if strings.HasPrefix(u, "//") {
				u = "https:" + u
			}
			candidates = append(candidates, subtitleCandidate{
				url:   u,
				score: score,
				lan:   strings.ToLower(strings.TrimSpace(item.Lan)),
			})
		}
	}

	if len(candidates) == 0 {
		return ""
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		if candidates[i].lan != candidates[j].lan {
			return candidates[i].lan < candidates[j].lan
		}
		return candidates[i].url < candidates[j].url
	})

	return candidates[0].url
}

func subtitleLanguagePriority(lan, lanDoc string) int {
	lanNorm := strings.ToLower(strings.TrimSpace(lan))
	lanDocNorm := strings.ToLower(strings.TrimSpace(lanDoc))

	switch {
	case lanNorm == "zh-cn" || lanNorm == "zh-hans" || lanNorm == "zh":
		return 0
	case strings.HasPrefix(lanNorm, "zh"), strings.HasPrefix(lanNorm, "ai-zh"):
		return 1
	case strings.Contains(lanDocNorm, "中文") || strings.Contains(lanDocNorm, "汉") || strings.Contains(lanDocNorm, "漢"):
		return 2
	default:
		return 10
	}
}
