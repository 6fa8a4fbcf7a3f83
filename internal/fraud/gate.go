package fraud

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"safetrade-chat/internal/domain"
)

// DefaultBlockScore is the score at or above which content is rejected.
const DefaultBlockScore = 70

// Analysis is the fraud gate's verdict on one piece of content.
type Analysis struct {
	Score     int              `json:"score"`
	RiskLevel domain.RiskLevel `json:"riskLevel"`
	Flags     []string         `json:"flags"`
	Blocked   bool             `json:"blocked"`
	Reason    string           `json:"reason,omitempty"`
}

// Gate screens outgoing content before it is persisted.
type Gate interface {
	Screen(ctx context.Context, content string) (Analysis, error)
}

type rule struct {
	flag    string
	weight  int
	pattern *regexp.Regexp
}

var defaultRules = []rule{
	{"wire_transfer", 35, regexp.MustCompile(`(?i)\b(wire|western union|moneygram|bank transfer)\b`)},
	{"crypto_payment", 35, regexp.MustCompile(`(?i)\b(bitcoin|btc|crypto|usdt|ethereum)\b`)},
	{"gift_card", 40, regexp.MustCompile(`(?i)\bgift ?cards?\b`)},
	{"advance_payment", 25, regexp.MustCompile(`(?i)\b(deposit|pay (up ?front|first)|shipping fee)\b`)},
	{"off_platform_contact", 25, regexp.MustCompile(`(?i)(\b(whatsapp|telegram|signal me|text me)\b|[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}|\+?\d[\d\s().-]{8,}\d)`)},
	{"external_link", 20, regexp.MustCompile(`(?i)(https?://\S+|\bwww\.\S+)`)},
	{"urgency", 15, regexp.MustCompile(`(?i)\b(urgent|immediately|right now|asap|today only)\b`)},
}

var flagReasons = map[string]string{
	"wire_transfer":        "requests an untraceable wire transfer",
	"crypto_payment":       "requests payment in cryptocurrency",
	"gift_card":            "requests payment in gift cards",
	"advance_payment":      "asks for money before the meeting",
	"off_platform_contact": "moves the conversation off the platform",
	"external_link":        "contains an external link",
	"urgency":              "applies pressure to act quickly",
}

// PatternGate scores content against a fixed set of scam patterns.
type PatternGate struct {
	rules      []rule
	blockScore int
}

func NewPatternGate(blockScore int) *PatternGate {
	if blockScore <= 0 {
		blockScore = DefaultBlockScore
	}
	return &PatternGate{rules: defaultRules, blockScore: blockScore}
}

func (g *PatternGate) Screen(ctx context.Context, content string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}

	a := Analysis{Flags: []string{}}
	for _, r := range g.rules {
		if r.pattern.MatchString(content) {
			a.Score += r.weight
			a.Flags = append(a.Flags, r.flag)
		}
	}
	if a.Score > 100 {
		a.Score = 100
	}
	sort.Strings(a.Flags)

	a.RiskLevel = g.riskFor(a.Score)
	if a.Score >= g.blockScore {
		a.Blocked = true
		a.Reason = reasonFor(a.Flags)
	}
	return a, nil
}

func (g *PatternGate) riskFor(score int) domain.RiskLevel {
	switch {
	case score >= g.blockScore:
		return domain.RiskLevelCritical
	case score >= 45:
		return domain.RiskLevelHigh
	case score >= 20:
		return domain.RiskLevelMedium
	}
	return domain.RiskLevelLow
}

func reasonFor(flags []string) string {
	parts := make([]string, 0, len(flags))
	for _, f := range flags {
		if r, ok := flagReasons[f]; ok {
			parts = append(parts, r)
		}
	}
	if len(parts) == 0 {
		return "Message blocked by fraud screening"
	}
	return "Message blocked by fraud screening: " + strings.Join(parts, "; ")
}
