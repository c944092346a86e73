package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/opensource-finance/fraudsentry/internal/llm"
)

const (
	explanationPrompt = "You explain fraud scoring decisions to payment analysts in at most three sentences. " +
		"Do not invent facts beyond the data given."
	insightPrompt = "You give one concrete, actionable recommendation for a payment analyst in a single sentence."
)

// LLMGenerator generates text with a chat model.
type LLMGenerator struct {
	client llm.Completer
	model  string
	system string
}

// NewExplainer returns a generator for explanations.
func NewExplainer(client llm.Completer, model string) *LLMGenerator {
	return &LLMGenerator{client: client, model: model, system: explanationPrompt}
}

// NewInsighter returns a generator for insights.
func NewInsighter(client llm.Completer, model string) *LLMGenerator {
	return &LLMGenerator{client: client, model: model, system: insightPrompt}
}

// Generate implements Generator.
func (g *LLMGenerator) Generate(ctx context.Context, input Input) (string, error) {
	return llm.Complete(ctx, g.client, g.model, g.system, describe(input))
}

func describe(input Input) string {
	r := input.Result
	var b strings.Builder
	if tx := input.Tx; tx != nil {
		fmt.Fprintf(&b, "Transaction: amount %.2f via %s from %q at %q, merchant %s.\n",
			tx.Amount, tx.PaymentMethod, tx.Source, tx.Location, tx.MerchantID)
	}
	fmt.Fprintf(&b, "Final score %d, level %s, method %s, confidence %d.\n",
		r.Breakdown.FusedScore, r.RiskLevel, r.FusionMethod, r.Confidence)
	fmt.Fprintf(&b, "Behavior pattern: %s.\n", r.BehaviorPattern)
	fmt.Fprintf(&b, "Tags: %s.", strings.Join(r.RiskTags, ", "))
	return b.String()
}
