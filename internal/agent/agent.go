// Package agent implements the agent investigator: an independent fraud assessment
// produced by a reasoning backend with investigation tools, or by a mock when no
// backend is configured.
package agent

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/fraudsentry/internal/domain"
)

// Backend produces an assessment for a transaction.
type Backend interface {
	// Assess investigates the transaction.
	Assess(ctx context.Context, tx *domain.Transaction) (*domain.AgentAssessment, error)

	// Configured reports whether the backend can be used. It must not do I/O.
	Configured() bool

	// Name identifies the backend in results and logs.
	Name() string
}

// Investigator picks the real backend when it is configured and falls back to the mock.
type Investigator struct {
	backend Backend
	mock    *MockBackend
	logger  *slog.Logger

	// OnFallback, if set, is called whenever the mock answers because the backend failed.
	OnFallback func(err error)
}

// NewInvestigator creates an investigator. backend may be nil.
func NewInvestigator(backend Backend, mock *MockBackend, logger *slog.Logger) *Investigator {
	if mock == nil {
		mock = NewMockBackend(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Investigator{
		backend: backend,
		mock:    mock,
		logger:  logger,
	}
}

// Configured reports whether a real backend will be used.
func (i *Investigator) Configured() bool {
	return i.backend != nil && i.backend.Configured()
}

// Investigate always returns an assessment. Backend errors degrade to the mock.
func (i *Investigator) Investigate(ctx context.Context, tx *domain.Transaction) *domain.AgentAssessment {
	if !i.Configured() {
		a, _ := i.mock.Assess(ctx, tx)
		return a
	}

	a, err := i.backend.Assess(ctx, tx)
	if err == nil && a != nil {
		return a
	}

	if ctx.Err() == nil {
		i.logger.Warn("agent backend failed, using mock assessment",
			"tenant_id", tx.TenantID,
			"tx_id", tx.ID,
			"backend", i.backend.Name(),
			"error", err,
		)
		if i.OnFallback != nil {
			i.OnFallback(err)
		}
	}

	mock, _ := i.mock.Assess(ctx, tx)
	return mock
}
