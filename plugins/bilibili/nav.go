package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/liuran001/BiliSummary-Go/summary/wbi"
)

const navPath = "/x/web-interface/nav"

type navData struct {
	IsLogin bool   `json:"isLogin"`
	Mid     int64  `json:"mid"`
	Uname   string `json:"uname"`
	WbiImg  struct {
		ImgURL string `json:"img_url"`
		SubURL string `json:"sub_url"`
	} `json:"wbi_img"`
}

// FetchWbiKeys reads the current key fragments from the nav endpoint.
// The endpoint answers -101 for anonymous sessions but still carries the keys,
// so the business code is ignored.
func (c *Client) FetchWbiKeys(ctx context.Context) (wbi.Keys, error) {
	if c.logger != nil {
		c.logger.Debug("bilibili: fetching wbi keys")
	}

	body, _, err := c.getBody(ctx, "nav", c.url(navPath))
	if err != nil {
		return wbi.Keys{}, fmt.Errorf("%w: %w", wbi.ErrKeyMaterialUnavailable, err)
	}

	var env struct {
		Code int     `json:"code"`
		Data navData `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return wbi.Keys{}, fmt.Errorf("%w: decode nav: %w", wbi.ErrKeyMaterialUnavailable, err)
	}

	keys := wbi.Keys{
		Img:       wbi.ExtractKey(env.Data.WbiImg.ImgURL),
		Sub:       wbi.ExtractKey(env.Data.WbiImg.SubURL),
		FetchedAt: time.Now(),
	}
	if keys.Img == "" || keys.Sub == "" {
		return wbi.Keys{}, fmt.Errorf("%w: nav response carries no key urls (code %d)", wbi.ErrKeyMaterialUnavailable, env.Code)
	}
	if c.logger != nil {
		c.logger.Debug("bilibili: wbi keys fetched", "logged_in", env.Data.IsLogin)
	}
	return keys, nil
}
