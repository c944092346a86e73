package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/opensource-finance/fraudsentry/internal/domain"
	"github.com/opensource-finance/fraudsentry/internal/fusion"
)

// Recorder persists a finished analysis and announces it. Every collaborator is optional.
type Recorder struct {
	repo   domain.Repository
	cache  domain.Cache
	bus    domain.EventBus
	logger *slog.Logger
}

// NewRecorder creates a recorder.
func NewRecorder(repo domain.Repository, cache domain.Cache, bus domain.EventBus, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, cache: cache, bus: bus, logger: logger}
}

// Record saves the transaction after its analysis so the store only ever holds prior
// activity, then saves and caches the analysis and publishes the completion and any alert.
// Only repository failures are returned; cache and bus failures are logged.
func (r *Recorder) Record(ctx context.Context, tx *domain.Transaction, a *domain.Analysis) error {
	var errs []error

	if r.repo != nil {
		if err := r.repo.SaveTransaction(ctx, tx.TenantID, tx); err != nil {
			r.logger.Error("failed to save transaction",
				"tenant_id", tx.TenantID,
				"tx_id", tx.ID,
				"error", err,
			)
			errs = append(errs, err)
		}
		if err := r.repo.SaveAnalysis(ctx, tx.TenantID, a); err != nil {
			r.logger.Error("failed to save analysis",
				"tenant_id", tx.TenantID,
				"analysis_id", a.ID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}

	if r.cache != nil {
		if err := r.cache.SetAnalysis(ctx, tx.TenantID, a, domain.AnalysisCacheTTL); err != nil {
			r.logger.Warn("failed to cache analysis",
				"tenant_id", tx.TenantID,
				"analysis_id", a.ID,
				"error", err,
			)
		}
	}

	if r.bus != nil {
		r.publish(ctx, tx.TenantID, domain.TopicAnalysisCompleted, a.ToResponse())
		if fusion.ShouldAlert(a.Result) {
			r.publish(ctx, tx.TenantID, domain.TopicAlert, domain.AlertEvent{
				AnalysisID: a.ID,
				TxID:       a.TxID,
				TenantID:   a.TenantID,
				RiskScore:  a.Result.RiskScore,
				RiskLevel:  a.Result.RiskLevel,
				RiskTags:   a.Result.RiskTags,
				Timestamp:  a.Timestamp.UnixMilli(),
			})
		}
	}

	return errors.Join(errs...)
}

func (r *Recorder) publish(ctx context.Context, tenantID, topic string, v any) {
	payload, err := json.Marshal(v)
	if err == nil {
		err = r.bus.Publish(ctx, tenantID, topic, payload)
	}
	if err != nil {
		r.logger.Error("failed to publish event",
			"tenant_id", tenantID,
			"topic", topic,
			"error", err,
		)
	}
}
