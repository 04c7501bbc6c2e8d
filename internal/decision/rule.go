package decision

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

const (
	// DefaultRuleThreshold is the spread percentage above which the rule
	// executes.
	DefaultRuleThreshold = 0.8
	// DefaultRuleConfidence is the fixed confidence the rule reports.
	DefaultRuleConfidence = 0.7
	// fallbackConfidence is used when a model response could not be parsed.
	fallbackConfidence = 0.5
)

// Rule executes every opportunity whose spread is above Threshold.
type Rule struct {
	Threshold  float64
	Confidence float64
}

// NewRule returns the default rule.
func NewRule() Rule {
	return Rule{Threshold: DefaultRuleThreshold, Confidence: DefaultRuleConfidence}
}

// Kind reports KindRule.
func (r Rule) Kind() Kind { return KindRule }

// Decide is pure: the same opportunity always yields the same decision.
func (r Rule) Decide(_ context.Context, opp domain.Opportunity) domain.Decision {
	execute := r.execute(opp)
	reason := fmt.Sprintf("Rule-based decision: spread %.2f%% is below the %.2f%% threshold", opp.SpreadPct, r.Threshold)
	if execute {
		reason = fmt.Sprintf("Rule-based decision: spread %.2f%% is above the %.2f%% threshold", opp.SpreadPct, r.Threshold)
	}
	return domain.Decision{
		ShouldExecute: execute,
		Confidence:    clamp01(r.Confidence),
		Reasoning:     reason,
		Opportunity:   opp,
	}
}

func (r Rule) execute(opp domain.Opportunity) bool {
	return opp.SpreadPct > r.Threshold
}
