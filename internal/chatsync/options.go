package chatsync

import (
	"time"

	"safetrade-chat/config"
)

// Options tunes one session. The zero value is not usable; start from
// DefaultOptions.
type Options struct {
	// TypingQuietPeriod is how long after the last keystroke the local
	// typing indicator is deleted.
	TypingQuietPeriod time.Duration
	// TypingStaleAfter is the age past which a peer indicator is never shown.
	TypingStaleAfter time.Duration
	// TypingSweepInterval is how often stale peer indicators are evicted.
	TypingSweepInterval time.Duration
	// TypingRefreshInterval throttles upserts while the user keeps typing.
	TypingRefreshInterval time.Duration

	// RequestTimeout bounds calls the engine starts on its own: feed-driven
	// reloads, profile lookups, async mark-read.
	RequestTimeout time.Duration
	// EnrichConcurrency caps parallel per-conversation enrichment.
	EnrichConcurrency int

	Now func() time.Time
}

func DefaultOptions() Options {
	return Options{
		TypingQuietPeriod:     3 * time.Second,
		TypingStaleAfter:      5 * time.Second,
		TypingSweepInterval:   time.Second,
		TypingRefreshInterval: time.Second,
		RequestTimeout:        10 * time.Second,
		EnrichConcurrency:     8,
		Now:                   time.Now,
	}
}

// OptionsFromConfig applies the TYPING_* settings on top of the defaults.
func OptionsFromConfig(cfg *config.Config) Options {
	o := DefaultOptions()
	if cfg == nil {
		return o
	}
	if cfg.TypingQuietPeriod > 0 {
		o.TypingQuietPeriod = cfg.TypingQuietPeriod
	}
	if cfg.TypingStaleAfter > 0 {
		o.TypingStaleAfter = cfg.TypingStaleAfter
	}
	if cfg.TypingSweepInterval > 0 {
		o.TypingSweepInterval = cfg.TypingSweepInterval
	}
	return o
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TypingQuietPeriod <= 0 {
		o.TypingQuietPeriod = d.TypingQuietPeriod
	}
	if o.TypingStaleAfter <= 0 {
		o.TypingStaleAfter = d.TypingStaleAfter
	}
	if o.TypingSweepInterval <= 0 {
		o.TypingSweepInterval = d.TypingSweepInterval
	}
	if o.TypingRefreshInterval <= 0 {
		o.TypingRefreshInterval = d.TypingRefreshInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = d.RequestTimeout
	}
	if o.EnrichConcurrency <= 0 {
		o.EnrichConcurrency = d.EnrichConcurrency
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}
