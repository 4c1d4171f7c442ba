package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"

	"github.com/liuran001/BiliSummary-Go/summary"
)

// EnvPrefix prefixes environment overrides, e.g. BILISUMMARY_LOGLEVEL.
const EnvPrefix = "BILISUMMARY"

// PluginConfig stores plugin-specific configuration as key-value pairs.
type PluginConfig map[string]interface{}

// Config wraps viper and provides typed accessors.
type Config struct {
	v       *viper.Viper
	plugins map[string]PluginConfig
}

var _ summary.Config = (*Config)(nil)

// LLMOptions configures the chat completion client.
type LLMOptions struct {
	APIBase     string
	APIKey      string
	Model       string
	VLModel     string
	Temperature float64
	Timeout     time.Duration
}

// BilibiliOptions configures the upstream API client.
type BilibiliOptions struct {
	Cookie             string
	RateLimitPerSecond float64
	RateLimitBurst     int
	WbiKeyTTL          time.Duration
	CommentPages       int
}

// Load reads an INI (or any viper-supported) config file and prepares defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	setDefaults(v)

	c := &Config{
		v:       v,
		plugins: make(map[string]PluginConfig),
	}

	if strings.EqualFold(filepath.Ext(path), ".ini") {
		cfg, err := loadINI(v, path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		loadPlugins(cfg, c)
		return c, nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	for name, raw := range v.GetStringMap("plugins") {
		section, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		c.plugins[name] = PluginConfig(section)
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Database", "cache.db")
	v.SetDefault("DBMaxOpenConns", 1)
	v.SetDefault("DBMaxIdleConns", 1)
	v.SetDefault("DBConnMaxLifetimeSec", 3600)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "text")
	v.SetDefault("LogSource", false)
	v.SetDefault("LogDir", "./log")
	v.SetDefault("GormLogLevel", "warn")
	v.SetDefault("WorkerPoolSize", 4)
	v.SetDefault("SegmentCacheTTLHours", 24)
	v.SetDefault("MetricsAddr", "")
	v.SetDefault("MaxPromptComments", 400)
	v.SetDefault("RequestTimeoutSec", 30)
}

// GetString returns a string value.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns an int value.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 returns a float64 value.
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool returns a bool value.
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// LLM returns the [plugins.llm] section with defaults applied.
func (c *Config) LLM() LLMOptions {
	opts := LLMOptions{
		APIBase:     strings.TrimRight(strings.TrimSpace(c.GetPluginString("llm", "api_base")), "/"),
		APIKey:      strings.TrimSpace(c.GetPluginString("llm", "api_key")),
		Model:       strings.TrimSpace(c.GetPluginString("llm", "model")),
		VLModel:     strings.TrimSpace(c.GetPluginString("llm", "vl_model")),
		Temperature: 0.7,
		Timeout:     120 * time.Second,
	}
	if opts.APIBase == "" {
		opts.APIBase = "https://api.openai.com/v1"
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.VLModel == "" {
		opts.VLModel = opts.Model
	}
	if _, ok := c.pluginValue("llm", "temperature"); ok {
		opts.Temperature = c.GetPluginFloat("llm", "temperature")
	}
	if sec := c.GetPluginInt("llm", "timeout_sec"); sec > 0 {
		opts.Timeout = time.Duration(sec) * time.Second
	}
	return opts
}

// Bilibili returns the [plugins.bilibili] section with defaults applied.
func (c *Config) Bilibili() BilibiliOptions {
	opts := BilibiliOptions{
		Cookie:             strings.TrimSpace(c.GetPluginString("bilibili", "cookie")),
		RateLimitPerSecond: c.GetPluginFloat("bilibili", "rate_limit_per_second"),
		RateLimitBurst:     c.GetPluginInt("bilibili", "rate_limit_burst"),
		WbiKeyTTL:          time.Duration(c.GetPluginInt("bilibili", "wbi_ttl_hours")) * time.Hour,
		CommentPages:       c.GetPluginInt("bilibili", "comment_pages"),
	}
	if opts.RateLimitPerSecond <= 0 {
		opts.RateLimitPerSecond = 4
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 4
	}
	if opts.WbiKeyTTL <= 0 {
		opts.WbiKeyTTL = 12 * time.Hour
	}
	if opts.CommentPages <= 0 {
		opts.CommentPages = 2
	}
	return opts
}

// GetPluginConfig retrieves plugin-specific configuration by plugin name.
func (c *Config) GetPluginConfig(name string) (PluginConfig, bool) {
	cfg, ok := c.plugins[name]
	return cfg, ok
}

// PluginNames returns the configured plugin names.
func (c *Config) PluginNames() []string {
	if len(c.plugins) == 0 {
		return nil
	}
	nameList := make([]string, 0, len(c.plugins))
	for name := range c.plugins {
		nameList = append(nameList, name)
	}
	sort.Strings(nameList)
	return nameList
}

func (c *Config) pluginValue(plugin, key string) (interface{}, bool) {
	cfg, ok := c.plugins[plugin]
	if !ok {
		return nil, false
	}
	val, ok := cfg[key]
	return val, ok
}

// GetPluginString returns a string value from plugin configuration.
// Returns empty string if plugin or key not found.
func (c *Config) GetPluginString(plugin, key string) string {
	val, ok := c.pluginValue(plugin, key)
	if !ok {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", val)
}

// GetPluginInt returns an int value from plugin configuration.
// Returns 0 if plugin or key not found, or value cannot be converted to int.
func (c *Config) GetPluginInt(plugin, key string) int {
	val, ok := c.pluginValue(plugin, key)
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		num, _ := strconv.Atoi(strings.TrimSpace(v))
		return num
	default:
		return 0
	}
}

// GetPluginFloat returns a float64 value from plugin configuration.
func (c *Config) GetPluginFloat(plugin, key string) float64 {
	val, ok := c.pluginValue(plugin, key)
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		num, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return num
	default:
		return 0
	}
}

// GetPluginBool returns a bool value from plugin configuration.
// Returns false if plugin or key not found, or value cannot be converted to bool.
func (c *Config) GetPluginBool(plugin, key string) bool {
	val, ok := c.pluginValue(plugin, key)
	if !ok {
		return false
	}
	switch v := val.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true") || v == "1"
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return false
	}
}

func loadINI(v *viper.Viper, path string) (*ini.File, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}

	for _, key := range cfg.Section("").Keys() {
		v.Set(key.Name(), key.Value())
	}

	return cfg, nil
}

func loadPlugins(cfg *ini.File, c *Config) {
	const pluginPrefix = "plugins."

	for _, section := range cfg.Sections() {
		name := section.Name()
		if !strings.HasPrefix(name, pluginPrefix) {
			continue
		}
		pluginCfg := make(PluginConfig)
		for _, key := range section.Keys() {
			pluginCfg[key.Name()] = key.Value()
		}
		c.plugins[strings.TrimPrefix(name, pluginPrefix)] = pluginCfg
	}
}
