package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/opensource-finance/fraudsentry/internal/domain"
)

func testAnalysis(id string) *domain.Analysis {
	agent := 60
	return &domain.Analysis{
		ID:       id,
		TenantID: "tenant-001",
		TxID:     "tx-001",
		Result: domain.FusedResult{
			ScoringResult: domain.ScoringResult{
				RiskScore:       59,
				RiskTags:        []string{domain.TagUnusualBehavior, domain.TagHighAmount},
				BehaviorPattern: domain.PatternLargeUnusual,
			},
			RiskLevel:    domain.RiskSuspicious,
			Confidence:   95,
			FusionMethod: "Consensus Fusion",
			Breakdown:    domain.ScoreBreakdown{ScriptedScore: 55, AgentScore: &agent, FusedScore: 59},
		},
		Explanation: "explained",
		Timestamp:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLRUCache(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := NewLRUCache(100, clock)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, tenantID, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, tenantID, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "expiring", []byte("temp"), 10*time.Second)

		val, _ := cache.Get(ctx, tenantID, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		clock.Advance(10 * time.Second)

		val, _ = cache.Get(ctx, tenantID, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3, clock)

		_ = smallCache.Set(ctx, tenantID, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, tenantID, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, tenantID, "d", []byte("4"), time.Minute)

		val, _ := smallCache.Get(ctx, tenantID, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		val, _ = smallCache.Get(ctx, tenantID, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "tenant-001", "shared-key", []byte("tenant1-value"), time.Minute)
		_ = cache.Set(ctx, "tenant-002", "shared-key", []byte("tenant2-value"), time.Minute)

		val1, _ := cache.Get(ctx, "tenant-001", "shared-key")
		val2, _ := cache.Get(ctx, "tenant-002", "shared-key")

		if string(val1) != "tenant1-value" {
			t.Errorf("expected 'tenant1-value', got '%s'", string(val1))
		}
		if string(val2) != "tenant2-value" {
			t.Errorf("expected 'tenant2-value', got '%s'", string(val2))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		err := cache.Set(ctx, "", "key", []byte("value"), time.Minute)
		if !errors.Is(err, ErrTenantRequired) {
			t.Errorf("expected ErrTenantRequired, got %v", err)
		}

		_, err = cache.Get(ctx, "", "key")
		if !errors.Is(err, ErrTenantRequired) {
			t.Errorf("expected ErrTenantRequired, got %v", err)
		}
	})

	t.Run("AnalysisRoundTrip", func(t *testing.T) {
		a := testAnalysis("analysis-001")

		if err := cache.SetAnalysis(ctx, tenantID, a, 0); err != nil {
			t.Fatalf("SetAnalysis failed: %v", err)
		}

		got, err := cache.GetAnalysis(ctx, tenantID, "analysis-001")
		if err != nil {
			t.Fatalf("GetAnalysis failed: %v", err)
		}
		if got == nil {
			t.Fatal("expected cached analysis")
		}
		if got.Result.Breakdown.FusedScore != 59 {
			t.Errorf("expected fused score 59, got %d", got.Result.Breakdown.FusedScore)
		}
		if got.Result.Breakdown.AgentScore == nil || *got.Result.Breakdown.AgentScore != 60 {
			t.Errorf("expected agent score 60, got %v", got.Result.Breakdown.AgentScore)
		}

		other, err := cache.GetAnalysis(ctx, "tenant-002", "analysis-001")
		if err != nil || other != nil {
			t.Errorf("expected miss for other tenant, got %v, %v", other, err)
		}
	})

	t.Run("AnalysisDefaultTTL", func(t *testing.T) {
		_ = cache.SetAnalysis(ctx, tenantID, testAnalysis("analysis-ttl"), 0)

		clock.Advance(domain.AnalysisCacheTTL - time.Second)
		if got, _ := cache.GetAnalysis(ctx, tenantID, "analysis-ttl"); got == nil {
			t.Error("expected analysis before the default TTL")
		}

		clock.Advance(time.Second)
		if got, _ := cache.GetAnalysis(ctx, tenantID, "analysis-ttl"); got != nil {
			t.Error("expected analysis to expire after the default TTL")
		}
	})

	t.Run("AnalysisNil", func(t *testing.T) {
		if err := cache.SetAnalysis(ctx, tenantID, nil, 0); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50, nil)
		_ = statsCache.Set(ctx, tenantID, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, tenantID, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10, nil)
		_ = testCache.Set(ctx, tenantID, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}

		val, _ := testCache.Get(ctx, tenantID, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

// TestTwoPhaseCache runs against a real Redis when FRAUDSENTRY_TEST_REDIS_ADDR is set.
func TestTwoPhaseCache(t *testing.T) {
	addr := os.Getenv("FRAUDSENTRY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FRAUDSENTRY_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	remote, err := NewRedisCache(addr, "", 0)
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	clock := clockwork.NewFakeClock()
	cache := newTwoPhase(NewLRUCache(10, clock), remote, time.Minute)
	defer cache.Close()

	a := testAnalysis("analysis-two-phase")
	if err := cache.SetAnalysis(ctx, "tenant-001", a, time.Minute); err != nil {
		t.Fatalf("SetAnalysis failed: %v", err)
	}

	// Expire L1 only; the read must come back from Redis and refill L1.
	clock.Advance(2 * time.Minute)
	got, err := cache.GetAnalysis(ctx, "tenant-001", a.ID)
	if err != nil {
		t.Fatalf("GetAnalysis failed: %v", err)
	}
	if got == nil || got.ID != a.ID {
		t.Fatalf("expected analysis from L2, got %v", got)
	}
	if size, _ := cache.Stats(); size != 1 {
		t.Errorf("expected L1 refilled, got size %d", size)
	}

	_ = cache.Delete(ctx, "tenant-001", analysisKeyPrefix+a.ID)
}
