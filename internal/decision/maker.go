// Package decision turns detected opportunities into execute/skip decisions.
// Two makers share the Maker contract: a deterministic rule and a
// model-backed maker that asks a text-generation service.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

// Kind selects the Maker variant.
type Kind string

const (
	KindRule  Kind = "rule"
	KindModel Kind = "model"
)

// ParseKind normalises a configured kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindRule, KindModel:
		return k, nil
	default:
		return "", fmt.Errorf("decision: unknown kind %q (valid: rule, model)", s)
	}
}

// Maker decides whether an opportunity should be settled. Decide never
// fails: external problems degrade to a skip decision.
type Maker interface {
	Decide(ctx context.Context, opp domain.Opportunity) domain.Decision
	Kind() Kind
}

// New builds the Maker for kind. The model variant requires gen.
func New(kind Kind, gen TextGenerator, assumptions Assumptions, logger *slog.Logger) (Maker, error) {
	switch kind {
	case KindRule:
		return NewRule(), nil
	case KindModel:
		if gen == nil {
			return nil, fmt.Errorf("decision: model maker needs a text generator")
		}
		return NewModel(gen, assumptions, logger), nil
	default:
		return nil, fmt.Errorf("decision: unknown kind %q", kind)
	}
}

// clamp01 bounds a confidence to [0,1]; NaN becomes 0.
func clamp01(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
