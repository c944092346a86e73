// Package analysis runs the full fraud pipeline for one transaction: classification,
// velocity and history lookups, scripted scoring, the time-boxed agent investigation,
// fusion and enrichment.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/fraudsentry/internal/async"
	"github.com/opensource-finance/fraudsentry/internal/behavior"
	"github.com/opensource-finance/fraudsentry/internal/domain"
	"github.com/opensource-finance/fraudsentry/internal/enrich"
	"github.com/opensource-finance/fraudsentry/internal/fusion"
	"github.com/opensource-finance/fraudsentry/internal/metrics"
	"github.com/opensource-finance/fraudsentry/internal/rules"
)

// EngineVersion is stamped on every analysis.
const EngineVersion = "fraudsentry-1.0"

// HistoryLimit bounds the user history fetched for geographic checks.
const HistoryLimit = 10

var tracer = otel.Tracer("fraudsentry-analysis")

// Investigator produces the agent's assessment. It must always return a value.
type Investigator interface {
	Investigate(ctx context.Context, tx *domain.Transaction) *domain.AgentAssessment
}

// VelocityChecker counts recent activity for an entity.
type VelocityChecker interface {
	Check(ctx context.Context, tenantID, entityID string, entityType domain.EntityType, at time.Time) domain.VelocityResult
}

// RuleEvaluator evaluates custom rules.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, input *rules.EvaluateInput) []domain.RuleSignal
}

// Enricher attaches explanation and insight text.
type Enricher interface {
	Enrich(ctx context.Context, input enrich.Input) enrich.Output
}

// Options wires the pipeline. Store, Rules, Agent and Enricher are optional.
type Options struct {
	Store        domain.TransactionStore
	Velocity     VelocityChecker
	Rules        RuleEvaluator
	Scorer       *rules.Scorer
	Agent        Investigator
	Fusion       *fusion.Processor
	Enricher     Enricher
	Clock        clockwork.Clock
	AgentTimeout time.Duration
	Logger       *slog.Logger
}

// Service analyses transactions. It is safe for concurrent use.
type Service struct {
	store        domain.TransactionStore
	velocity     VelocityChecker
	rules        RuleEvaluator
	scorer       *rules.Scorer
	agent        Investigator
	fusion       *fusion.Processor
	enricher     Enricher
	clock        clockwork.Clock
	agentTimeout time.Duration
	logger       *slog.Logger
}

// NewService creates an analysis service, filling defaults for missing parts.
func NewService(opts Options) (*Service, error) {
	if opts.Velocity == nil {
		return nil, errors.New("analysis: velocity checker is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.AgentTimeout <= 0 {
		opts.AgentTimeout = domain.DefaultAgentTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Scorer == nil {
		opts.Scorer = rules.NewScorer(nil)
	}
	if opts.Fusion == nil {
		opts.Fusion = fusion.NewProcessor(false)
	}
	if opts.Enricher == nil {
		opts.Enricher = enrich.NewService(nil, nil, opts.Clock, 0, opts.Logger)
	}

	return &Service{
		store:        opts.Store,
		velocity:     opts.Velocity,
		rules:        opts.Rules,
		scorer:       opts.Scorer,
		agent:        opts.Agent,
		fusion:       opts.Fusion,
		enricher:     opts.Enricher,
		clock:        opts.Clock,
		agentTimeout: opts.AgentTimeout,
		logger:       opts.Logger,
	}, nil
}

// Analyze scores tx and returns the complete analysis. Collaborator failures degrade
// the result instead of failing it; only a missing transaction or tenant is an error.
func (s *Service) Analyze(ctx context.Context, tx *domain.Transaction) (*domain.Analysis, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction is required", domain.ErrInvalidInput)
	}
	if tx.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant is required", domain.ErrInvalidInput)
	}

	start := s.clock.Now()
	ctx, span := tracer.Start(ctx, "analysis.Analyze",
		trace.WithAttributes(
			attribute.String("tenant.id", tx.TenantID),
			attribute.String("tx.id", tx.ID),
		),
	)
	defer span.End()

	// The agent deadline starts here, before any scripted work.
	var agentFuture *async.Future[*domain.AgentAssessment]
	if s.agent != nil {
		agentFuture = async.Go(ctx, s.clock, s.agentTimeout, func(ctx context.Context) (*domain.AgentAssessment, error) {
			return s.agent.Investigate(ctx, tx), nil
		})
	}

	scripted, signals, velocitySimulated := s.score(ctx, tx)
	scoringMs := s.clock.Since(start).Milliseconds()

	agentResult, outcome := s.awaitAgent(ctx, tx, agentFuture)
	var agentMs int64
	if agentFuture != nil {
		agentMs = agentFuture.Elapsed().Milliseconds()
	}

	fused := s.fusion.Process(scripted, agentResult)

	enriched := s.enricher.Enrich(ctx, enrich.Input{Tx: tx, Result: fused})
	for _, part := range enriched.Fallbacks {
		metrics.FallbackTotal.WithLabelValues(part).Inc()
	}

	a := &domain.Analysis{
		ID:          uuid.New().String(),
		TenantID:    tx.TenantID,
		TxID:        tx.ID,
		Result:      fused,
		Agent:       agentResult,
		Explanation: enriched.Explanation,
		Insight:     enriched.Insight,
		Timestamp:   s.clock.Now().UTC(),
	}
	a.Metadata = domain.AnalysisMetadata{
		TraceID:           traceID(span, a.ID),
		ScoringMs:         scoringMs,
		AgentMs:           agentMs,
		TotalMs:           s.clock.Since(start).Milliseconds(),
		AgentOutcome:      outcome,
		VelocitySimulated: velocitySimulated,
		CustomRulesHit:    len(signals),
		EngineVersion:     EngineVersion,
	}

	metrics.AnalysesTotal.WithLabelValues(string(fused.RiskLevel)).Inc()
	metrics.FusionMethodTotal.WithLabelValues(fused.FusionMethod).Inc()
	metrics.AgentOutcomeTotal.WithLabelValues(outcome).Inc()
	metrics.AnalysisDuration.Observe(s.clock.Since(start).Seconds())

	span.SetAttributes(
		attribute.Int("risk.score", fused.RiskScore),
		attribute.String("risk.level", string(fused.RiskLevel)),
		attribute.String("fusion.method", fused.FusionMethod),
		attribute.String("agent.outcome", outcome),
	)

	s.logger.Info("transaction analysed",
		"tenant_id", tx.TenantID,
		"tx_id", tx.ID,
		"analysis_id", a.ID,
		"score", fused.RiskScore,
		"level", fused.RiskLevel,
		"method", fused.FusionMethod,
		"agent_outcome", outcome,
		"duration_ms", a.Metadata.TotalMs,
	)

	return a, nil
}

// score runs the scripted path: classification, concurrent lookups, custom rules, scorer.
func (s *Service) score(ctx context.Context, tx *domain.Transaction) (domain.ScoringResult, []domain.RuleSignal, bool) {
	ctx, span := tracer.Start(ctx, "analysis.score")
	defer span.End()

	pattern := behavior.ClassifyTransaction(tx)

	var (
		userVel, merchantVel domain.VelocityResult
		history              []domain.RecentActivityRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		userVel = s.velocity.Check(gctx, tx.TenantID, tx.UserID, domain.EntityUser, tx.Timestamp)
		return nil
	})
	g.Go(func() error {
		merchantVel = s.velocity.Check(gctx, tx.TenantID, tx.MerchantID, domain.EntityMerchant, tx.Timestamp)
		return nil
	})
	if s.store != nil && tx.UserID != "" {
		g.Go(func() error {
			records, err := s.store.QueryRecentByUser(gctx, tx.TenantID, tx.UserID, tx.Timestamp, HistoryLimit)
			if err != nil {
				s.logger.Warn("history lookup failed, continuing without history",
					"tenant_id", tx.TenantID,
					"tx_id", tx.ID,
					"error", err,
				)
				metrics.FallbackTotal.WithLabelValues("history").Inc()
				return nil
			}
			history = records
			return nil
		})
	}
	_ = g.Wait()

	var signals []domain.RuleSignal
	if s.rules != nil {
		signals = s.rules.Evaluate(ctx, &rules.EvaluateInput{
			TenantID:         tx.TenantID,
			Tx:               tx,
			Pattern:          pattern,
			UserVelocity:     userVel,
			MerchantVelocity: merchantVel,
		})
	}

	result := s.scorer.Score(rules.ScoreInput{
		Tx:               tx,
		Pattern:          pattern,
		UserVelocity:     userVel,
		MerchantVelocity: merchantVel,
		History:          history,
		Signals:          signals,
	})

	span.SetAttributes(
		attribute.Int("scripted.score", result.RiskScore),
		attribute.String("behavior.pattern", string(result.BehaviorPattern)),
	)

	return result, signals, userVel.Simulated || merchantVel.Simulated
}

// awaitAgent waits for the agent within its deadline. A timeout is not an error.
func (s *Service) awaitAgent(ctx context.Context, tx *domain.Transaction, f *async.Future[*domain.AgentAssessment]) (*domain.AgentAssessment, string) {
	if f == nil {
		return nil, domain.AgentOutcomeDisabled
	}

	a, err := f.Await(ctx)
	if err != nil || a == nil {
		s.logger.Info("agent did not answer in time, using scripted score",
			"tenant_id", tx.TenantID,
			"tx_id", tx.ID,
			"timeout_ms", s.agentTimeout.Milliseconds(),
		)
		metrics.FallbackTotal.WithLabelValues("agent").Inc()
		return nil, domain.AgentOutcomeTimeout
	}
	if a.Simulated {
		return a, domain.AgentOutcomeSimulated
	}
	return a, domain.AgentOutcomeAnswered
}

func traceID(span trace.Span, fallback string) string {
	if sc := span.SpanContext(); sc.TraceID().IsValid() {
		return sc.TraceID().String()
	}
	return fallback
}
