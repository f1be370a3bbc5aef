// Package webhook classifies chat commands and invokes the external
// workflow webhook with bounded retries, routing cacheable requests
// through the response cache.
package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// Kind is the cache-key discriminator for a classified command.
type Kind string

const (
	KindTrends  Kind = "trends"
	KindTopics  Kind = "topics"
	KindSummary Kind = "summary"
)

const listTrendsKeyword = "list-trends"

var (
	trendRef   = regexp.MustCompile(`(?i)\btrend\s*#?(\d+)`)
	topicRef   = regexp.MustCompile(`(?i)\btopic\s*#?(\d+)`)
	bareRefMsg = regexp.MustCompile(`(?i)\b(trend|topic)\s*#\s*($|\D)`)
)

// Classification is the parse result for a free-text command.
type Classification struct {
	Kind    Kind
	TrendID string
	TopicID string
	// Direct marks commands that reference a trend or topic but carry no
	// usable id. They still reach the webhook, just without cache routing.
	Direct bool
}

// Classify parses a free-text command against the known patterns.
// Unrecognized text defaults to the trends class so everyday questions
// still share the daily digest cache entry.
func Classify(message string) Classification {
	msg := strings.TrimSpace(message)

	if strings.EqualFold(msg, listTrendsKeyword) {
		return Classification{Kind: KindTrends}
	}

	trend := trendRef.FindStringSubmatch(msg)
	topic := topicRef.FindStringSubmatch(msg)

	switch {
	case topic != nil:
		// A topic reference asks for that topic's summary; an
		// accompanying trend reference narrows the same request.
		c := Classification{Kind: KindSummary, TopicID: topic[1]}
		if trend != nil {
			c.TrendID = trend[1]
		}
		return c
	case trend != nil:
		return Classification{Kind: KindTopics, TrendID: trend[1]}
	case bareRefMsg.MatchString(msg):
		return Classification{Direct: true}
	default:
		return Classification{Kind: KindTrends}
	}
}

// CacheParams derives the cache parameter map for the classification.
// Trends share one entry per UTC day; topics key on the trend id; a
// summary is personal, so the caller's email joins the key after a
// one-way hash. Raw addresses never appear in keys or logs.
func (c Classification) CacheParams(userEmail string, now time.Time) map[string]string {
	date := now.UTC().Format("2006-01-02")
	switch c.Kind {
	case KindTopics:
		return map[string]string{"d": date, "trend": c.TrendID}
	case KindSummary:
		return map[string]string{"d": date, "topic": c.TopicID, "u": HashEmail(userEmail)}
	default:
		return map[string]string{"d": date}
	}
}

// HashEmail returns a short one-way hash of an email address, suitable
// for cache keys and synthetic upstream identities.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])[:16]
}
