package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

// TextGenerator sends a prompt to a text-generation service and returns the
// raw response text.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Assumptions are the fixed trading costs quoted to the model.
type Assumptions struct {
	GasCost     float64
	SlippagePct float64
	ProfitToken string
}

// DefaultAssumptions matches the simulated venue.
func DefaultAssumptions() Assumptions {
	return Assumptions{GasCost: 0.001, SlippagePct: 0.5, ProfitToken: "SUI"}
}

// ParseFailureReason is reported when the model reply holds no usable JSON.
const ParseFailureReason = "Could not parse AI response, using fallback logic"

// Model asks a text-generation service for the decision.
type Model struct {
	gen         TextGenerator
	assumptions Assumptions
	fallback    Rule
	logger      *slog.Logger
}

// NewModel creates a model-backed Maker.
func NewModel(gen TextGenerator, assumptions Assumptions, logger *slog.Logger) *Model {
	if assumptions.ProfitToken == "" {
		assumptions.ProfitToken = DefaultAssumptions().ProfitToken
	}
	return &Model{
		gen:         gen,
		assumptions: assumptions,
		fallback:    NewRule(),
		logger:      logger.With(slog.String("component", "decision_model")),
	}
}

// Kind reports KindModel.
func (m *Model) Kind() Kind { return KindModel }

// Decide sends the opportunity to the model. A failed request yields a skip
// with zero confidence; an unparseable reply falls back to the spread rule
// at reduced confidence.
func (m *Model) Decide(ctx context.Context, opp domain.Opportunity) domain.Decision {
	text, err := m.gen.Generate(ctx, m.Prompt(opp))
	if err != nil {
		m.logger.WarnContext(ctx, "model request failed",
			slog.String("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
		return domain.Decision{
			ShouldExecute: false,
			Confidence:    0,
			Reasoning:     "Analysis failed: " + err.Error(),
			Opportunity:   opp,
		}
	}

	reply, ok := parseReply(text)
	if !ok {
		m.logger.WarnContext(ctx, "model reply not parseable, using rule",
			slog.String("opportunity_id", opp.ID),
		)
		return domain.Decision{
			ShouldExecute: m.fallback.execute(opp),
			Confidence:    fallbackConfidence,
			Reasoning:     ParseFailureReason,
			Opportunity:   opp,
		}
	}

	var confidence float64
	if reply.Confidence != nil {
		confidence = clamp01(*reply.Confidence)
	}
	return domain.Decision{
		ShouldExecute: *reply.ShouldExecute,
		Confidence:    confidence,
		Reasoning:     strings.TrimSpace(reply.Reasoning),
		Opportunity:   opp,
	}
}

// Prompt renders the evaluation request for opp.
func (m *Model) Prompt(opp domain.Opportunity) string {
	a := m.assumptions
	var b strings.Builder
	b.WriteString("You are an expert DeFi arbitrage trader. Analyze this opportunity:\n\n")
	fmt.Fprintf(&b, "- Pool A: %s at $%g\n", opp.LegA.Name, opp.LegA.Price)
	fmt.Fprintf(&b, "- Pool B: %s at $%g\n", opp.LegB.Name, opp.LegB.Price)
	fmt.Fprintf(&b, "- Spread: %.2f%%\n", opp.SpreadPct)
	fmt.Fprintf(&b, "- Estimated profit: %.2f %s\n", opp.EstimatedProfit, a.ProfitToken)
	fmt.Fprintf(&b, "- Gas cost: ~%g %s\n", a.GasCost, a.ProfitToken)
	fmt.Fprintf(&b, "- Slippage tolerance: %g%%\n\n", a.SlippagePct)
	b.WriteString("Should we execute this arbitrage trade? Consider profitability after all fees.\n\n")
	b.WriteString("Respond ONLY with valid JSON in this exact format:\n")
	b.WriteString("{\n  \"shouldExecute\": true or false,\n  \"confidence\": number between 0 and 1,\n  \"reasoning\": \"brief explanation\"\n}")
	return b.String()
}

type modelReply struct {
	ShouldExecute *bool    `json:"shouldExecute"`
	Confidence    *float64 `json:"confidence"`
	Reasoning     string   `json:"reasoning"`
}

// parseReply decodes the first balanced JSON object in text. A reply
// without shouldExecute is treated as malformed.
func parseReply(text string) (modelReply, bool) {
	obj, ok := firstObject(text)
	if !ok {
		return modelReply{}, false
	}
	var r modelReply
	if err := json.Unmarshal([]byte(obj), &r); err != nil {
		return modelReply{}, false
	}
	if r.ShouldExecute == nil {
		return modelReply{}, false
	}
	return r, true
}

// firstObject returns the first balanced {...} substring of text. Braces
// inside JSON strings do not count towards the balance.
func firstObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
