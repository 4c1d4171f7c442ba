// Package wbi implements the WBI request signature required by authenticated
// Bilibili web endpoints: a permuted mixin key, a canonical sorted query and
// its MD5 digest.
package wbi

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/liuran001/BiliSummary-Go/summary"
	"github.com/liuran001/BiliSummary-Go/summary/metrics"
)

// Parameter names added by signing.
const (
	ParamTimestamp = "wts"
	ParamSignature = "w_rid"
)

// Params maps request parameter names to string or numeric values.
type Params map[string]any

// Clone returns a shallow copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p)+2)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Get returns the native string form of a parameter.
func (p Params) Get(key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	return FormatValue(v)
}

// Values converts p to url.Values.
func (p Params) Values() url.Values {
	values := make(url.Values, len(p))
	for k, v := range p {
		values.Set(k, FormatValue(v))
	}
	return values
}

// Encode returns the URL-encoded query sorted by key.
func (p Params) Encode() string {
	return p.Values().Encode()
}

// FormatValue renders a parameter value in its native string form.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int8:
		return strconv.FormatInt(int64(val), 10)
	case int16:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint8:
		return strconv.FormatUint(uint64(val), 10)
	case uint16:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

// Canonicalize joins key=value pairs sorted by key in byte order. Values are
// not URL-encoded.
func Canonicalize(p Params) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(FormatValue(p[k]))
	}
	return sb.String()
}

// SignWith returns a copy of p with wts and w_rid added. p is not modified.
func SignWith(p Params, mixinKey string, wts int64) Params {
	signed := p.Clone()
	delete(signed, ParamSignature)
	signed[ParamTimestamp] = wts
	signed[ParamSignature] = Digest(Canonicalize(signed) + mixinKey)
	return signed
}

// Signer signs parameters with keys from a KeyCache.
type Signer struct {
	cache  *KeyCache
	logger summary.Logger
	now    func() time.Time
}

// NewSigner creates a signer backed by cache.
func NewSigner(cache *KeyCache, logger summary.Logger) *Signer {
	return &Signer{cache: cache, logger: logger, now: time.Now}
}

// Sign returns p with wts and w_rid added. When key material cannot be
// obtained it returns an unsigned copy of p; the upstream then rejects the
// request through its normal error path.
func (s *Signer) Sign(ctx context.Context, p Params) Params {
	if s == nil || s.cache == nil {
		metrics.WbiSign.WithLabelValues("unsigned").Inc()
		return p.Clone()
	}

	mixin, err := s.cache.MixinKey(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("wbi: key material unavailable, sending unsigned request", "err", err)
		}
		metrics.WbiSign.WithLabelValues("unsigned").Inc()
		return p.Clone()
	}

	metrics.WbiSign.WithLabelValues("signed").Inc()
	return SignWith(p, mixin, s.now().Unix())
}

// Invalidate drops cached keys so the next Sign refreshes them.
func (s *Signer) Invalidate() {
	if s == nil || s.cache == nil {
		return
	}
	s.cache.Invalidate()
}
