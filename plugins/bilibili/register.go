package bilibili

import (
	"fmt"
	"time"

	"github.com/liuran001/BiliSummary-Go/summary"
	"github.com/liuran001/BiliSummary-Go/summary/config"
)

// NewFromConfig builds the platform from the [plugins.bilibili] section.
func NewFromConfig(cfg *config.Config, logger summary.Logger) (*BilibiliPlatform, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}

	opts := cfg.Bilibili()
	client := New(logger, Options{
		Cookie:             opts.Cookie,
		APIBase:            cfg.GetPluginString("bilibili", "api_base"),
		RateLimitPerSecond: opts.RateLimitPerSecond,
		RateLimitBurst:     opts.RateLimitBurst,
		WbiKeyTTL:          opts.WbiKeyTTL,
		Timeout:            time.Duration(cfg.GetInt("RequestTimeoutSec")) * time.Second,
	})
	if logger != nil && !client.HasLogin() {
		logger.Info("bilibili: no SESSDATA cookie configured, subtitles and some comments may be unavailable")
	}
	return NewPlatform(client, opts.CommentPages), nil
}
