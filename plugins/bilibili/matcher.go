package bilibili

import (
	"regexp"
	"strconv"
)

// b23Prefix marks a short link id that still needs resolving.
const b23Prefix = "b23:"

// URLMatcher extracts video IDs from Bilibili URLs.
type URLMatcher struct {
	videoPattern *regexp.Regexp
	b23Pattern   *regexp.Regexp
	pagePattern  *regexp.Regexp

	textVideoPattern *regexp.Regexp
	textB23Pattern   *regexp.Regexp
}

// NewURLMatcher creates a new Bilibili URLMatcher.
func NewURLMatcher() *URLMatcher {
	return &URLMatcher{
		// BV ids like BV1GJ411x7h7 or av numbers like av170001
		videoPattern: regexp.MustCompile(`(?i)(BV[a-zA-Z0-9]{10}|av\d+)`),
		// pure short links like b23.tv/F78kbY
		b23Pattern:  regexp.MustCompile(`(?i)b23\.tv/([a-zA-Z0-9]+)`),
		pagePattern: regexp.MustCompile(`[?&]p=(\d+)`),

		textVideoPattern: regexp.MustCompile(`^(?i)(BV[a-zA-Z0-9]{10}|av\d+)$`),
		textB23Pattern:   regexp.MustCompile(`^(?i)(?:https?://)?b23\.tv/([a-zA-Z0-9]+)$`),
	}
}

// MatchURL returns the video id in url. Short links that carry no id are
// returned as "b23:<code>" for ResolveB23ID.
func (m *URLMatcher) MatchURL(url string) (string, bool) {
	// explicit ids first, they may sit inside short domains
	if matches := m.videoPattern.FindStringSubmatch(url); len(matches) > 1 {
		return matches[1], true
	}

	if matches := m.b23Pattern.FindStringSubmatch(url); len(matches) > 1 {
		return b23Prefix + matches[1], true
	}

	return "", false
}

// MatchText matches a bare id or short link, e.g. "BV1GJ411x7h7" or "b23.tv/ysjTEMn".
func (m *URLMatcher) MatchText(text string) (string, bool) {
	if matches := m.textVideoPattern.FindStringSubmatch(text); len(matches) > 1 {
		return matches[1], true
	}

	if matches := m.textB23Pattern.FindStringSubmatch(text); len(matches) > 1 {
		return b23Prefix + matches[1], true
	}

	return "", false
}

// MatchPage returns the 1-based page selected by a ?p= query, defaulting to 1.
func (m *URLMatcher) MatchPage(url string) int {
	matches := m.pagePattern.FindStringSubmatch(url)
	if len(matches) < 2 {
		return 1
	}
	page, err := strconv.Atoi(matches[1])
	if err != nil || page < 1 {
		return 1
	}
	return page
}
