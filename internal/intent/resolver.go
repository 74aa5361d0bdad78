// Package intent turns a raw chat message into one structured ParseResult,
// trying the deterministic extractor first and delegating to the LLM
// fallback only when determinism cannot fully resolve the message.
package intent

import (
	"context"
	"regexp"
	"strings"

	"github.com/quenchlab/aqualog/internal/clock"
	"github.com/quenchlab/aqualog/internal/extract"
	"github.com/quenchlab/aqualog/internal/llm"
)

type Kind string

const (
	KindLog      Kind = "log"
	KindEdit     Kind = "edit"
	KindUndo     Kind = "undo"
	KindQuery    Kind = "query"
	KindNoAction Kind = "no_action"
	KindChitchat Kind = "chitchat"
	KindClarify  Kind = "clarify"
)

// ParseResult is the single output shape of intent resolution. Exactly one
// variant applies per call; the Kind selects which fields are meaningful.
type ParseResult struct {
	Kind         Kind
	AmountMl     int    // Log
	LogTimestamp string // Log
	AdjustMl     int    // Edit
	Count        int    // Undo
	ReplyText    string // Chitchat, may be empty
	Prompt       string // Clarify
}

// Clarify prompt copy, specific where the failure is actionable.
const (
	PromptGeneric     = `I didn't quite get that. How much water should I log? Something like "500ml" or "2 glasses" works.`
	PromptAmount      = `How much water was that? Tell me like "500ml" or "2 glasses".`
	PromptValidAmount = `That amount doesn't look right. I can log between 1 and 10000 ml at a time.`
	PromptPastDay     = `I can only log today's water, up to 12 hours back. Want me to log it for now instead?`
	PromptWindow      = `I can only log water within today, up to 12 hours back.`
	PromptWhen        = `When was that? I can handle "2 hours ago" or "30 minutes ago".`
	PromptAdjust      = `By how much should I adjust? Tell me like "reduce by 200ml".`
)

const maxUndoCount = 10

var pastDayRe = regexp.MustCompile(`(?i)\byesterday\b|\blast\s+night\b`)

type Resolver struct {
	clock    *clock.Clock
	fallback llm.Classifier
}

func NewResolver(clk *clock.Clock, fallback llm.Classifier) *Resolver {
	return &Resolver{clock: clk, fallback: fallback}
}

// Resolve classifies one message. It never returns an error: every branch,
// including every fallback failure mode, terminates in a ParseResult.
func (r *Resolver) Resolve(ctx context.Context, text string, bottleMl int) ParseResult {
	// Determinism short-circuits the network call, but only when the
	// message has no time reference: a time-shifted amount still needs
	// the fallback to compute its timestamp.
	if !extract.HasTimeCue(text) {
		if out := extract.Match(text, bottleMl); out.Matched {
			return ParseResult{
				Kind:         KindLog,
				AmountMl:     out.AmountMl,
				LogTimestamp: r.clock.Format(r.clock.Now()),
			}
		}
	}

	fb := r.fallback.Classify(ctx, text)
	return r.fromFallback(text, fb)
}

func (r *Resolver) fromFallback(text string, fb llm.Outcome) ParseResult {
	// Explicit past-day language can never become a same-day log, no
	// matter what the fallback returned.
	if fb.Intent == llm.IntentLog && pastDayRe.MatchString(text) {
		return clarify(PromptPastDay)
	}

	switch fb.Intent {
	case llm.IntentNoAction:
		return ParseResult{Kind: KindNoAction}

	case llm.IntentChitchat:
		return ParseResult{Kind: KindChitchat, ReplyText: strings.TrimSpace(fb.ClarificationNeeded)}

	case llm.IntentQuery:
		return ParseResult{Kind: KindQuery}

	case llm.IntentUndo:
		count := 1
		if fb.UndoCount != nil && *fb.UndoCount > 0 {
			count = *fb.UndoCount
		}
		if count > maxUndoCount {
			count = maxUndoCount
		}
		return ParseResult{Kind: KindUndo, Count: count}

	case llm.IntentEdit:
		if fb.AdjustByMl == nil || *fb.AdjustByMl <= 0 || *fb.AdjustByMl > extract.MaxAmountMl {
			return clarify(PromptAdjust)
		}
		return ParseResult{Kind: KindEdit, AdjustMl: *fb.AdjustByMl}

	case llm.IntentClarify:
		return clarify(promptOr(fb.ClarificationNeeded, PromptGeneric))
	}

	// log
	if fb.Ambiguous {
		return clarify(promptOr(fb.ClarificationNeeded, PromptGeneric))
	}
	if fb.AmountMl == nil {
		return clarify(promptOr(fb.ClarificationNeeded, PromptAmount))
	}
	amount := *fb.AmountMl
	if amount <= 0 || amount > extract.MaxAmountMl {
		return clarify(PromptValidAmount)
	}

	if fb.RelativeTime != nil && strings.TrimSpace(*fb.RelativeTime) != "" {
		hours, ok := clock.ParseRelativePhrase(*fb.RelativeTime)
		if !ok {
			return clarify(PromptWhen)
		}
		ts, ok := r.clock.ValidateRetroactiveOffset(hours)
		if !ok {
			return clarify(PromptWindow)
		}
		return ParseResult{Kind: KindLog, AmountMl: amount, LogTimestamp: ts}
	}

	return ParseResult{Kind: KindLog, AmountMl: amount, LogTimestamp: r.clock.Format(r.clock.Now())}
}

func clarify(prompt string) ParseResult {
	return ParseResult{Kind: KindClarify, Prompt: prompt}
}

func promptOr(supplied, fallback string) string {
	if s := strings.TrimSpace(supplied); s != "" {
		return s
	}
	return fallback
}
