// Package velocity provides transaction velocity calculation.
package velocity

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/opensource-finance/fraudsentry/internal/domain"
)

// Window describes the lookback and threshold for one entity type.
type Window struct {
	Lookback  time.Duration
	Threshold int
}

// Windows used for each entity type.
var (
	UserWindow     = Window{Lookback: 15 * time.Minute, Threshold: 4}
	MerchantWindow = Window{Lookback: 60 * time.Minute, Threshold: 100}
)

// WindowFor returns the window for an entity type. Unknown types use the user window.
func WindowFor(entityType domain.EntityType) Window {
	if entityType == domain.EntityMerchant {
		return MerchantWindow
	}
	return UserWindow
}

// Simulator produces a stand-in count when the store cannot answer.
type Simulator interface {
	// Count returns a value in [0, threshold*1.5).
	Count(threshold int) int64
}

// Float64Source is satisfied by *rand.Rand.
type Float64Source interface {
	Float64() float64
}

// RandomSimulator draws counts uniformly from a Float64Source.
type RandomSimulator struct {
	src Float64Source
}

// NewRandomSimulator creates a simulator. A nil source uses the global generator.
func NewRandomSimulator(src Float64Source) *RandomSimulator {
	return &RandomSimulator{src: src}
}

// Count implements Simulator.
func (s *RandomSimulator) Count(threshold int) int64 {
	var f float64
	if s.src != nil {
		f = s.src.Float64()
	} else {
		f = rand.Float64()
	}
	return int64(math.Floor(f * float64(threshold) * 1.5))
}

// Checker calculates transaction velocity for users and merchants.
type Checker struct {
	store  domain.TransactionStore
	sim    Simulator
	logger *slog.Logger

	// OnSimulated, if set, is called every time a simulated count is used.
	OnSimulated func(entityType domain.EntityType)
}

// NewChecker creates a new velocity checker. The store may be nil, in which case
// every check is simulated.
func NewChecker(store domain.TransactionStore, sim Simulator, logger *slog.Logger) *Checker {
	if sim == nil {
		sim = NewRandomSimulator(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		store:  store,
		sim:    sim,
		logger: logger,
	}
}

// Check counts the entity's activity in the lookback window ending at `at`.
// Activity dated after `at` is never counted.
// It never fails: store problems degrade to a simulated count.
func (c *Checker) Check(ctx context.Context, tenantID, entityID string, entityType domain.EntityType, at time.Time) domain.VelocityResult {
	w := WindowFor(entityType)
	result := domain.VelocityResult{
		EntityID:   entityID,
		EntityType: entityType,
		Threshold:  w.Threshold,
	}
	if entityID == "" {
		return result
	}

	count, err := c.count(ctx, tenantID, entityID, entityType, at.Add(-w.Lookback), at)
	if err != nil {
		c.logger.Warn("velocity store unavailable, using simulated count",
			"tenant_id", tenantID,
			"entity_type", entityType,
			"entity_id", entityID,
			"error", err,
		)
		count = c.sim.Count(w.Threshold)
		result.Simulated = true
		if c.OnSimulated != nil {
			c.OnSimulated(entityType)
		}
	}

	result.Count = count
	result.IsHigh = count > int64(w.Threshold)
	result.IsSpike = count > int64(w.Threshold*2)
	return result
}

func (c *Checker) count(ctx context.Context, tenantID, entityID string, entityType domain.EntityType, since, until time.Time) (int64, error) {
	if c.store == nil {
		return 0, errNoStore
	}
	return c.store.CountInWindow(ctx, tenantID, entityID, entityType, since, until)
}

var errNoStore = errors.New("no transaction store configured")
