package beacon

import "strings"

// defaultBotPatterns are user-agent fragments of mail security scanners,
// link checkers, and generic crawlers. Matching is case-insensitive
// substring. The list is extended, not replaced, by configuration.
var defaultBotPatterns = []string{
	// mail security products that prefetch every image on delivery
	"mimecast", "proofpoint", "barracuda", "urldefense", "safelinks",
	"forcepoint", "trendmicro", "symantec", "sophos",
	"link check", "link-check", "url check", "security scan",
	// generic automation
	"bot", "crawler", "spider", "slurp", "googlebot", "bingbot",
	"yahoo", "baidu", "yandex", "preview", "proxy", "scanner",
	"python-requests", "curl/", "wget/", "go-http-client",
}

// Classifier decides whether an open event was produced by automated
// scanner traffic rather than the recipient. It is a heuristic: false
// positives and negatives are expected, and the verdict is stored per event
// rather than recomputed, so later pattern changes never rewrite history.
type Classifier struct {
	thresholdSeconds int64
	patterns         []string
}

// NewClassifier builds a classifier with the given timing threshold in
// seconds and optional extra user-agent patterns appended to the built-in
// scanner list.
func NewClassifier(thresholdSeconds int, extraPatterns ...string) *Classifier {
	patterns := make([]string, 0, len(defaultBotPatterns)+len(extraPatterns))
	patterns = append(patterns, defaultBotPatterns...)
	for _, p := range extraPatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns = append(patterns, p)
		}
	}
	return &Classifier{thresholdSeconds: int64(thresholdSeconds), patterns: patterns}
}

// Classify labels one open event. Two independent heuristics, either one
// sufficient:
//
//  1. Timing: opens within thresholdSeconds of activation are scanner
//     prefetches. Security gateways fetch all images immediately on
//     delivery; a human open this fast is implausible.
//  2. User agent: known scanner/crawler fragments flag the open as bot
//     regardless of elapsed time.
func (c *Classifier) Classify(secondsSinceActivation int64, userAgent string) bool {
	if secondsSinceActivation < c.thresholdSeconds {
		return true
	}
	if userAgent == "" {
		return false
	}
	ua := strings.ToLower(userAgent)
	for _, pattern := range c.patterns {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
