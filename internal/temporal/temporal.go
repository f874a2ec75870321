// Package temporal decides whether a question asks about current events
// rather than static knowledge. Classification drives routing: current-info
// questions go to a live provider and bypass the response cache.
package temporal

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// yearRe extracts four-digit years in the 2000s.
var yearRe = regexp.MustCompile(`\b(20\d{2})\b`)

// Config holds the keyword lists and the year window the classifier matches
// against. Lists may be empty; an empty configuration classifies on years
// only.
type Config struct {
	// Temporal matches words asking for up-to-date answers, e.g. "latest".
	Temporal []string
	// Status matches words about ongoing developments, e.g. "announcements".
	Status []string
	// Relative matches relative time phrases, e.g. "last month".
	Relative []string
	// YearWindow is the maximum distance of a mentioned year from the
	// current year to still count as current. Values below one fall back
	// to one.
	YearWindow int
}

// Option configures a [Classifier].
type Option func(*Classifier)

// WithNow replaces the clock, pinning the reference year.
func WithNow(now func() time.Time) Option {
	return func(c *Classifier) {
		c.now = now
	}
}

// Classifier reports whether questions need current information. It is
// read-only after construction and safe for concurrent use.
type Classifier struct {
	keywords *regexp.Regexp
	window   int
	now      func() time.Time
}

// NewClassifier compiles the keyword lists of cfg into a single
// case-insensitive word-boundary alternation.
func NewClassifier(cfg Config, opts ...Option) *Classifier {
	c := &Classifier{
		keywords: compileKeywords(cfg),
		window:   cfg.YearWindow,
		now:      time.Now,
	}
	if c.window < 1 {
		c.window = 1
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NeedsCurrent reports whether question asks about current information:
// either a configured keyword appears as a whole word, or a mentioned year
// lies within the configured window of the current year.
func (c *Classifier) NeedsCurrent(question string) bool {
	if c.keywords != nil && c.keywords.MatchString(question) {
		return true
	}
	current := c.now().Year()
	for _, m := range yearRe.FindAllString(question, -1) {
		year, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		if diff := year - current; -c.window <= diff && diff <= c.window {
			return true
		}
	}
	return false
}

func compileKeywords(cfg Config) *regexp.Regexp {
	var quoted []string
	for _, list := range [][]string{cfg.Temporal, cfg.Status, cfg.Relative} {
		for _, kw := range list {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				continue
			}
			quoted = append(quoted, regexp.QuoteMeta(kw))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}
