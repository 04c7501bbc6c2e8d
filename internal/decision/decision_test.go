package decision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

type stubGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (s *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.reply, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func opportunity(spread float64) domain.Opportunity {
	return domain.Opportunity{
		ID:              "opp-1",
		LegA:            domain.Quote{Name: "X/USDC", Price: 2.00},
		LegB:            domain.Quote{Name: "X/USDT", Price: 2.05},
		SpreadPct:       spread,
		EstimatedProfit: spread * 10,
	}
}

func TestRuleExecutesAboveThreshold(t *testing.T) {
	d := NewRule().Decide(context.Background(), opportunity(2.5))
	assert.True(t, d.ShouldExecute)
	assert.Equal(t, 0.7, d.Confidence)
	assert.Equal(t, "opp-1", d.Opportunity.ID)

	d = NewRule().Decide(context.Background(), opportunity(0.8))
	assert.False(t, d.ShouldExecute, "threshold is exclusive")
	assert.Equal(t, 0.7, d.Confidence)
}

func TestRuleIsPure(t *testing.T) {
	r := NewRule()
	opp := opportunity(1.3)
	assert.Equal(t, r.Decide(context.Background(), opp), r.Decide(context.Background(), opp))
}

func TestModelParsesEmbeddedJSON(t *testing.T) {
	gen := &stubGenerator{reply: "Sure, here it is:\n```json\n{\"shouldExecute\": false, \"confidence\": 0.92, \"reasoning\": \"fees eat the {edge}\"}\n``` trailing {junk"}
	m := NewModel(gen, DefaultAssumptions(), discardLogger())

	d := m.Decide(context.Background(), opportunity(2.5))
	assert.False(t, d.ShouldExecute)
	assert.Equal(t, 0.92, d.Confidence)
	assert.Equal(t, "fees eat the {edge}", d.Reasoning)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "Spread: 2.50%")
	assert.Contains(t, gen.prompts[0], "Estimated profit: 25.00 SUI")
	assert.Contains(t, gen.prompts[0], "Slippage tolerance: 0.5%")
	assert.Contains(t, gen.prompts[0], "X/USDC at $2")
}

func TestModelClampsConfidence(t *testing.T) {
	for reply, want := range map[string]float64{
		`{"shouldExecute": true, "confidence": 7}`:    1,
		`{"shouldExecute": true, "confidence": -0.3}`: 0,
		`{"shouldExecute": true}`:                     0,
	} {
		m := NewModel(&stubGenerator{reply: reply}, DefaultAssumptions(), discardLogger())
		d := m.Decide(context.Background(), opportunity(2.5))
		assert.True(t, d.ShouldExecute, reply)
		assert.Equal(t, want, d.Confidence, reply)
	}
}

func TestModelFallsBackOnUnparseableReply(t *testing.T) {
	for _, reply := range []string{
		"I would not trade this.",
		`{"shouldExecute": maybe}`,
		`{"confidence": 0.9, "reasoning": "no verdict"}`,
		`{"shouldExecute": true`,
	} {
		m := NewModel(&stubGenerator{reply: reply}, DefaultAssumptions(), discardLogger())

		d := m.Decide(context.Background(), opportunity(2.5))
		assert.True(t, d.ShouldExecute, reply)
		assert.Equal(t, 0.5, d.Confidence, reply)
		assert.Equal(t, ParseFailureReason, d.Reasoning, reply)

		d = m.Decide(context.Background(), opportunity(0.6))
		assert.False(t, d.ShouldExecute, reply)
	}
}

func TestModelSkipsOnRequestFailure(t *testing.T) {
	m := NewModel(&stubGenerator{err: errors.New("503 unavailable")}, DefaultAssumptions(), discardLogger())

	d := m.Decide(context.Background(), opportunity(9))
	assert.False(t, d.ShouldExecute)
	assert.Zero(t, d.Confidence)
	assert.Equal(t, "Analysis failed: 503 unavailable", d.Reasoning)
}

func TestNewSelectsVariantExplicitly(t *testing.T) {
	m, err := New(KindRule, &stubGenerator{}, DefaultAssumptions(), discardLogger())
	require.NoError(t, err)
	assert.Equal(t, KindRule, m.Kind())

	m, err = New(KindModel, &stubGenerator{}, DefaultAssumptions(), discardLogger())
	require.NoError(t, err)
	assert.Equal(t, KindModel, m.Kind())

	_, err = New(KindModel, nil, DefaultAssumptions(), discardLogger())
	assert.Error(t, err)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Model ")
	require.NoError(t, err)
	assert.Equal(t, KindModel, k)

	_, err = ParseKind("llm")
	assert.Error(t, err)
}

func TestFirstObject(t *testing.T) {
	obj, ok := firstObject(`noise {"a": "}", "b": {"c": 1}} tail {"d": 2}`)
	require.True(t, ok)
	assert.Equal(t, `{"a": "}", "b": {"c": 1}}`, obj)

	obj, ok = firstObject(`{"q": "say \"hi\" {"}`)
	require.True(t, ok)
	assert.Equal(t, `{"q": "say \"hi\" {"}`, obj)

	_, ok = firstObject("no braces")
	assert.False(t, ok)
}
