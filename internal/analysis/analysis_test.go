package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/fraudsentry/internal/domain"
	"github.com/opensource-finance/fraudsentry/internal/fusion"
	"github.com/opensource-finance/fraudsentry/internal/rules"
)

type fixedNoise float64

func (f fixedNoise) Float64() float64 { return float64(f) }

var txTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type stubVelocity struct {
	user, merchant domain.VelocityResult
}

func (s *stubVelocity) Check(ctx context.Context, tenantID, entityID string, entityType domain.EntityType, at time.Time) domain.VelocityResult {
	if entityType == domain.EntityUser {
		return s.user
	}
	return s.merchant
}

type stubStore struct {
	history []domain.RecentActivityRecord
	err     error
}

func (s *stubStore) QueryRecentByUser(ctx context.Context, tenantID, userID string, before time.Time, limit int) ([]domain.RecentActivityRecord, error) {
	return s.history, s.err
}

func (s *stubStore) QueryRecentByMerchant(ctx context.Context, tenantID, merchantID string, before time.Time, limit int) ([]domain.RecentActivityRecord, error) {
	return nil, s.err
}

func (s *stubStore) CountInWindow(ctx context.Context, tenantID, entityID string, entityType domain.EntityType, since, until time.Time) (int64, error) {
	return 0, s.err
}

type fixedAgent struct {
	assessment domain.AgentAssessment
}

func (f *fixedAgent) Investigate(ctx context.Context, tx *domain.Transaction) *domain.AgentAssessment {
	a := f.assessment
	return &a
}

// slowAgent blocks until its context is cancelled.
type slowAgent struct {
	started   chan struct{}
	cancelled chan struct{}
}

func (s *slowAgent) Investigate(ctx context.Context, tx *domain.Transaction) *domain.AgentAssessment {
	close(s.started)
	<-ctx.Done()
	close(s.cancelled)
	return &domain.AgentAssessment{FraudRiskScore: 99}
}

type stubRules struct {
	signals []domain.RuleSignal
}

func (s *stubRules) Evaluate(ctx context.Context, input *rules.EvaluateInput) []domain.RuleSignal {
	return s.signals
}

func largeTx() *domain.Transaction {
	return &domain.Transaction{
		ID:            "tx-001",
		TenantID:      "tenant-001",
		UserID:        "user-001",
		MerchantID:    "merchant-001",
		Amount:        1500,
		Source:        "bank transfer",
		PaymentMethod: "credit_card",
		Location:      "New York",
		Timestamp:     txTime,
	}
}

func newService(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Velocity == nil {
		opts.Velocity = &stubVelocity{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewFakeClockAt(txTime)
	}
	opts.Scorer = rules.NewScorer(fixedNoise(0))
	svc, err := NewService(opts)
	require.NoError(t, err)
	return svc
}

func TestAnalyzeScriptedOnly(t *testing.T) {
	svc := newService(t, Options{})

	a, err := svc.Analyze(context.Background(), largeTx())
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "tx-001", a.TxID)
	assert.Equal(t, "tenant-001", a.TenantID)
	assert.Equal(t, domain.PatternLargeUnusual, a.Result.BehaviorPattern)
	assert.Equal(t, 55, a.Result.RiskScore)
	assert.Equal(t, domain.RiskSuspicious, a.Result.RiskLevel)
	assert.Equal(t, fusion.MethodScripted, a.Result.FusionMethod)
	assert.Nil(t, a.Result.Breakdown.AgentScore)
	assert.Equal(t, 85, a.Result.Confidence)
	assert.ElementsMatch(t, []string{domain.TagUnusualBehavior, domain.TagHighAmount}, a.Result.RiskTags)
	assert.Equal(t, domain.AgentOutcomeDisabled, a.Metadata.AgentOutcome)
	assert.Equal(t, EngineVersion, a.Metadata.EngineVersion)
	assert.NotEmpty(t, a.Explanation)
	assert.NotEmpty(t, a.Insight)
	assert.NotEmpty(t, a.Metadata.TraceID)
}

func TestAnalyzeFusesAnsweredAgent(t *testing.T) {
	agent := &fixedAgent{assessment: domain.AgentAssessment{
		FraudRiskScore:  60,
		RiskTags:        []string{domain.TagHighAmount, domain.TagRiskyPaymentMethod},
		BehaviorPattern: string(domain.PatternLargeUnusual),
		Backend:         "openai",
	}}
	svc := newService(t, Options{Agent: agent})

	a, err := svc.Analyze(context.Background(), largeTx())
	require.NoError(t, err)

	// |55-60| <= 15: round(60*0.6 + 57.5*0.4) = 59
	assert.Equal(t, fusion.MethodConsensus, a.Result.FusionMethod)
	assert.Equal(t, 59, a.Result.RiskScore)
	assert.Equal(t, 59, a.Result.Breakdown.FusedScore)
	assert.Equal(t, 55, a.Result.Breakdown.ScriptedScore)
	require.NotNil(t, a.Result.Breakdown.AgentScore)
	assert.Equal(t, 60, *a.Result.Breakdown.AgentScore)
	assert.Equal(t, domain.AgentOutcomeAnswered, a.Metadata.AgentOutcome)
	assert.Equal(t, []string{domain.TagUnusualBehavior, domain.TagHighAmount, domain.TagRiskyPaymentMethod}, a.Result.RiskTags)
	require.NotNil(t, a.Agent)
	assert.Equal(t, "openai", a.Agent.Backend)
}

func TestAnalyzeAgentTimeout(t *testing.T) {
	clock := clockwork.NewFakeClockAt(txTime)
	agent := &slowAgent{started: make(chan struct{}), cancelled: make(chan struct{})}
	svc := newService(t, Options{Agent: agent, Clock: clock, AgentTimeout: 2 * time.Second})

	type result struct {
		a   *domain.Analysis
		err error
	}
	done := make(chan result, 1)
	go func() {
		a, err := svc.Analyze(context.Background(), largeTx())
		done <- result{a, err}
	}()

	<-agent.started
	clock.Advance(2 * time.Second)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, fusion.MethodScripted, r.a.Result.FusionMethod)
		assert.Equal(t, 55, r.a.Result.RiskScore)
		assert.Nil(t, r.a.Result.Breakdown.AgentScore)
		assert.Nil(t, r.a.Agent)
		assert.Equal(t, domain.AgentOutcomeTimeout, r.a.Metadata.AgentOutcome)
	case <-time.After(2 * time.Second):
		t.Fatal("analysis did not return after the agent deadline")
	}

	select {
	case <-agent.cancelled:
	case <-time.After(time.Second):
		t.Fatal("agent context was not cancelled")
	}
}

func TestAnalyzeSimulatedAgent(t *testing.T) {
	agent := &fixedAgent{assessment: domain.AgentAssessment{FraudRiskScore: 90, Simulated: true, Backend: "mock"}}

	t.Run("not fused by default", func(t *testing.T) {
		svc := newService(t, Options{Agent: agent})
		a, err := svc.Analyze(context.Background(), largeTx())
		require.NoError(t, err)
		assert.Equal(t, domain.AgentOutcomeSimulated, a.Metadata.AgentOutcome)
		assert.Equal(t, fusion.MethodScripted, a.Result.FusionMethod)
		require.NotNil(t, a.Agent)
		assert.True(t, a.Agent.Simulated)
	})

	t.Run("fused when enabled", func(t *testing.T) {
		svc := newService(t, Options{Agent: agent, Fusion: fusion.NewProcessor(true)})
		a, err := svc.Analyze(context.Background(), largeTx())
		require.NoError(t, err)
		// a > s beyond the consensus band: round(90*0.6 + 55*0.4) = 76
		assert.Equal(t, fusion.MethodIntelligence, a.Result.FusionMethod)
		assert.Equal(t, 76, a.Result.RiskScore)
		assert.Equal(t, domain.RiskFraudulent, a.Result.RiskLevel)
	})
}

func TestAnalyzeUsesHistory(t *testing.T) {
	store := &stubStore{history: []domain.RecentActivityRecord{
		{TransactionID: "tx-prev", Timestamp: txTime.Add(-10 * time.Minute), Location: "Paris", Amount: 40},
	}}
	svc := newService(t, Options{Store: store})

	tx := largeTx()
	tx.Amount = 100
	tx.Location = "Tokyo"

	a, err := svc.Analyze(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, 85, a.Result.RiskScore)
	assert.Contains(t, a.Result.RiskTags, domain.TagImpossibleTravel)
	assert.Contains(t, a.Result.RiskTags, domain.TagGeoAnomaly)
}

func TestAnalyzeHistoryFailureDegrades(t *testing.T) {
	svc := newService(t, Options{Store: &stubStore{err: errors.New("db down")}})

	tx := largeTx()
	tx.Amount = 100
	a, err := svc.Analyze(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Result.RiskScore)
	assert.Equal(t, domain.RiskSafe, a.Result.RiskLevel)
	assert.Empty(t, a.Result.RiskTags)
}

func TestAnalyzeCustomRulesAndVelocity(t *testing.T) {
	vel := &stubVelocity{
		user:     domain.VelocityResult{EntityType: domain.EntityUser, Count: 6, Threshold: 4, IsHigh: true, Simulated: true},
		merchant: domain.VelocityResult{EntityType: domain.EntityMerchant, Threshold: 100},
	}
	custom := &stubRules{signals: []domain.RuleSignal{
		{RuleID: "night-crypto", Name: "Night crypto", Points: 10, Tags: []string{domain.TagRiskyPaymentMethod}},
	}}
	svc := newService(t, Options{Velocity: vel, Rules: custom})

	tx := largeTx()
	tx.Amount = 100
	a, err := svc.Analyze(context.Background(), tx)
	require.NoError(t, err)

	assert.Equal(t, 50, a.Result.RiskScore)
	assert.Equal(t, 1, a.Metadata.CustomRulesHit)
	assert.True(t, a.Metadata.VelocitySimulated)
	assert.Equal(t, []string{domain.TagHighUserVelocity, domain.TagRiskyPaymentMethod}, a.Result.RiskTags)
}

func TestAnalyzeRejectsMissingInput(t *testing.T) {
	svc := newService(t, Options{})

	_, err := svc.Analyze(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	tx := largeTx()
	tx.TenantID = ""
	_, err = svc.Analyze(context.Background(), tx)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNewServiceRequiresVelocity(t *testing.T) {
	_, err := NewService(Options{})
	assert.Error(t, err)
}
