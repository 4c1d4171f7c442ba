package bilibili

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/liuran001/BiliSummary-Go/summary/metrics"
	"github.com/liuran001/BiliSummary-Go/summary/wbi"
)

const segmentPath = "/x/v2/dm/wbi/web/seg.so"

// GetDanmakuSegment fetches the raw bytes of one danmaku segment. Segment
// indexes start at 1. Segments past the end of the video come back empty.
func (c *Client) GetDanmakuSegment(ctx context.Context, cid int64, index int) ([]byte, error) {
	if cid <= 0 {
		return nil, fmt.Errorf("bilibili: invalid cid %d", cid)
	}
	if index < 1 {
		return nil, fmt.Errorf("bilibili: invalid segment index %d", index)
	}
	if c.logger != nil {
		c.logger.Debug("bilibili: fetching danmaku segment", "cid", cid, "segment", index)
	}

	params := wbi.Params{"type": 1, "oid": cid, "segment_index": index}
	body, err := c.fetchSegment(ctx, params)
	if errors.Is(err, ErrSignatureRejected) {
		if c.logger != nil {
			c.logger.Warn("bilibili: segment signature rejected, refreshing wbi keys", "cid", cid, "segment", index)
		}
		c.signer.Invalidate()
		body, err = c.fetchSegment(ctx, params)
	}
	if err != nil {
		metrics.DanmakuSegments.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(body) == 0 {
		metrics.DanmakuSegments.WithLabelValues("empty").Inc()
	} else {
		metrics.DanmakuSegments.WithLabelValues("fetched").Inc()
	}
	return body, nil
}

func (c *Client) fetchSegment(ctx context.Context, params wbi.Params) ([]byte, error) {
	rawURL := c.url(segmentPath) + "?" + c.signer.Sign(ctx, params).Encode()
	body, header, err := c.getBody(ctx, "dm.seg", rawURL, http.StatusNotModified, http.StatusNotFound)
	if err != nil {
		return nil, err
	}
	// Failures are reported as a JSON envelope instead of a segment.
	if header != nil && strings.Contains(strings.ToLower(header.Get("Content-Type")), "json") && len(body) > 0 {
		if err := decodeEnvelope("dm.seg", body, nil); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return body, nil
}
