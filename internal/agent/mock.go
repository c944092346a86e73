package agent

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/opensource-finance/fraudsentry/internal/behavior"
	"github.com/opensource-finance/fraudsentry/internal/domain"
	"github.com/opensource-finance/fraudsentry/internal/fusion"
)

const (
	mockMinScore = 10
	mockMaxScore = 90
)

var mockTagPool = []string{
	domain.TagUnusualBehavior,
	domain.TagLocationAnomaly,
	domain.TagHighUserVelocity,
	domain.TagUnknownMerchant,
	domain.TagRiskyPaymentMethod,
}

// RandSource is satisfied by *rand.Rand.
type RandSource interface {
	Float64() float64
}

// MockBackend returns bounded random assessments flagged as simulated.
type MockBackend struct {
	src RandSource
}

// NewMockBackend creates a mock. A nil source uses the global generator.
func NewMockBackend(src RandSource) *MockBackend {
	return &MockBackend{src: src}
}

// Name implements Backend.
func (m *MockBackend) Name() string { return "mock" }

// Configured implements Backend.
func (m *MockBackend) Configured() bool { return true }

// Assess implements Backend. The score lies in [10, 90].
func (m *MockBackend) Assess(ctx context.Context, tx *domain.Transaction) (*domain.AgentAssessment, error) {
	score := mockMinScore + int(m.draw()*float64(mockMaxScore-mockMinScore+1))
	score = min(score, mockMaxScore)

	tags := []string{}
	for _, tag := range mockTagPool {
		if m.draw() < 0.2 {
			tags = append(tags, tag)
		}
	}

	pattern := behavior.ClassifyTransaction(tx)
	return &domain.AgentAssessment{
		FraudRiskScore:  score,
		RiskTags:        tags,
		BehaviorPattern: string(pattern),
		Justification: fmt.Sprintf("Simulated assessment: %s rated %s from transaction attributes only.",
			pattern, fusion.LevelFor(score)),
		Backend:   m.Name(),
		Simulated: true,
	}, nil
}

func (m *MockBackend) draw() float64 {
	if m.src != nil {
		return m.src.Float64()
	}
	return rand.Float64()
}
