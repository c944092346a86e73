package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/fraudsentry/internal/domain"
)

type genFunc func(ctx context.Context, input Input) (string, error)

func (f genFunc) Generate(ctx context.Context, input Input) (string, error) { return f(ctx, input) }

func testInput() Input {
	agent := 60
	return Input{
		Tx: &domain.Transaction{ID: "tx-001", Amount: 1500, PaymentMethod: "credit_card", Location: "New York"},
		Result: domain.FusedResult{
			ScoringResult: domain.ScoringResult{
				RiskScore:       58,
				RiskTags:        []string{domain.TagUnusualBehavior, domain.TagHighAmount},
				BehaviorPattern: domain.PatternLargeUnusual,
			},
			RiskLevel:    domain.RiskSuspicious,
			FusionMethod: "Consensus Fusion",
			Breakdown:    domain.ScoreBreakdown{ScriptedScore: 55, AgentScore: &agent, FusedScore: 58},
		},
	}
}

func TestEnrichUsesGenerators(t *testing.T) {
	explain := genFunc(func(ctx context.Context, in Input) (string, error) { return "  because  ", nil })
	insight := genFunc(func(ctx context.Context, in Input) (string, error) { return "review it", nil })

	svc := NewService(explain, insight, clockwork.NewFakeClock(), 800*time.Millisecond, nil)
	out := svc.Enrich(context.Background(), testInput())

	assert.Equal(t, "because", out.Explanation)
	assert.Equal(t, "review it", out.Insight)
	assert.Empty(t, out.Fallbacks)
}

func TestEnrichFallsBackOnError(t *testing.T) {
	failing := genFunc(func(ctx context.Context, in Input) (string, error) { return "", errors.New("down") })
	empty := genFunc(func(ctx context.Context, in Input) (string, error) { return "   ", nil })

	svc := NewService(failing, empty, clockwork.NewFakeClock(), 800*time.Millisecond, nil)
	out := svc.Enrich(context.Background(), testInput())

	assert.Equal(t, TemplateExplanation(testInput()), out.Explanation)
	assert.Equal(t, TemplateInsight(testInput()), out.Insight)
	assert.ElementsMatch(t, []string{"explanation", "insight"}, out.Fallbacks)
}

func TestEnrichFallsBackOnTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	started := make(chan struct{}, 2)
	slow := genFunc(func(ctx context.Context, in Input) (string, error) {
		started <- struct{}{}
		<-ctx.Done()
		return "too late", nil
	})

	svc := NewService(slow, slow, clock, 800*time.Millisecond, nil)

	done := make(chan Output)
	go func() { done <- svc.Enrich(context.Background(), testInput()) }()

	<-started
	<-started
	clock.Advance(800 * time.Millisecond)

	select {
	case out := <-done:
		assert.Equal(t, TemplateExplanation(testInput()), out.Explanation)
		assert.Equal(t, TemplateInsight(testInput()), out.Insight)
		assert.Len(t, out.Fallbacks, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("enrichment did not return after the deadline")
	}
}

func TestEnrichWithoutGenerators(t *testing.T) {
	out := NewService(nil, nil, nil, 0, nil).Enrich(context.Background(), testInput())
	assert.Contains(t, out.Explanation, "Risk score 58 (SUSPICIOUS) via Consensus Fusion.")
	assert.Contains(t, out.Explanation, "investigator scored 60")
	assert.Equal(t, "Hold for manual review or step-up authentication before settlement.", out.Insight)
}

func TestTemplateInsightLevels(t *testing.T) {
	for _, level := range []domain.RiskLevel{domain.RiskSafe, domain.RiskSuspicious, domain.RiskFraudulent} {
		in := testInput()
		in.Result.RiskLevel = level
		assert.NotEmpty(t, TemplateInsight(in))
	}
	in := testInput()
	in.Result.RiskTags = nil
	assert.Contains(t, TemplateExplanation(in), "No risk signals")
}

type recordingCompleter struct {
	req openai.ChatCompletionRequest
}

func (r *recordingCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	r.req = req
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "generated"}}},
	}, nil
}

func TestLLMGenerator(t *testing.T) {
	rec := &recordingCompleter{}
	out, err := NewExplainer(rec, "m").Generate(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, "generated", out)
	require.Len(t, rec.req.Messages, 2)
	assert.Equal(t, explanationPrompt, rec.req.Messages[0].Content)
	assert.Contains(t, rec.req.Messages[1].Content, "Final score 58")
}
