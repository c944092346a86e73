// Package enrich attaches human-readable explanation and insight text to a result.
// Every generator call races a deadline and falls back to templated text.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/fraudsentry/internal/async"
	"github.com/opensource-finance/fraudsentry/internal/domain"
)

// Input is what generators see.
type Input struct {
	Tx     *domain.Transaction
	Result domain.FusedResult
}

// Generator produces free text for an input.
type Generator interface {
	Generate(ctx context.Context, input Input) (string, error)
}

// Output is the enrichment attached to an analysis.
type Output struct {
	Explanation string
	Insight     string

	// Fallbacks lists which parts used the template ("explanation", "insight").
	Fallbacks []string
}

// Service runs the explanation and insight generators concurrently.
type Service struct {
	explainer Generator
	insighter Generator
	clock     clockwork.Clock
	timeout   time.Duration
	logger    *slog.Logger
}

// NewService creates an enrichment service. Nil generators always use templates.
func NewService(explainer, insighter Generator, clock clockwork.Clock, timeout time.Duration, logger *slog.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if timeout <= 0 {
		timeout = domain.DefaultEnrichmentTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		explainer: explainer,
		insighter: insighter,
		clock:     clock,
		timeout:   timeout,
		logger:    logger,
	}
}

// Enrich produces both texts. It never fails.
func (s *Service) Enrich(ctx context.Context, input Input) Output {
	var explanation, insight string
	var explainOK, insightOK bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		explanation, explainOK = s.run(gctx, "explanation", s.explainer, input, TemplateExplanation)
		return nil
	})
	g.Go(func() error {
		insight, insightOK = s.run(gctx, "insight", s.insighter, input, TemplateInsight)
		return nil
	})
	_ = g.Wait()

	out := Output{Explanation: explanation, Insight: insight}
	if !explainOK {
		out.Fallbacks = append(out.Fallbacks, "explanation")
	}
	if !insightOK {
		out.Fallbacks = append(out.Fallbacks, "insight")
	}
	return out
}

func (s *Service) run(ctx context.Context, name string, gen Generator, input Input, template func(Input) string) (string, bool) {
	if gen == nil {
		return template(input), false
	}

	text, ok := async.Race(ctx, s.clock, s.timeout,
		func(ctx context.Context) (string, error) {
			out, err := gen.Generate(ctx, input)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(out) == "" {
				return "", fmt.Errorf("empty %s", name)
			}
			return strings.TrimSpace(out), nil
		},
		func() string { return template(input) },
	)
	if !ok {
		s.logger.Debug("enrichment fell back to template",
			"part", name,
			"tx_id", txID(input),
		)
	}
	return text, ok
}

func txID(input Input) string {
	if input.Tx == nil {
		return ""
	}
	return input.Tx.ID
}

// TemplateExplanation describes the verdict from the result alone.
func TemplateExplanation(input Input) string {
	r := input.Result
	var b strings.Builder
	fmt.Fprintf(&b, "Risk score %d (%s) via %s.", r.Breakdown.FusedScore, r.RiskLevel, r.FusionMethod)
	fmt.Fprintf(&b, " Behavior pattern: %s.", r.BehaviorPattern)
	if len(r.RiskTags) > 0 {
		fmt.Fprintf(&b, " Signals: %s.", strings.Join(r.RiskTags, ", "))
	} else {
		b.WriteString(" No risk signals were raised.")
	}
	if r.Breakdown.AgentScore != nil {
		fmt.Fprintf(&b, " Rules scored %d and the investigator scored %d.", r.Breakdown.ScriptedScore, *r.Breakdown.AgentScore)
	}
	return b.String()
}

// TemplateInsight recommends an action for the risk level.
func TemplateInsight(input Input) string {
	switch input.Result.RiskLevel {
	case domain.RiskFraudulent:
		return "Block the transaction and review the account's recent activity."
	case domain.RiskSuspicious:
		return "Hold for manual review or step-up authentication before settlement."
	default:
		return "No action needed; continue routine monitoring."
	}
}
