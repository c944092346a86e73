package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/fraudsentry/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "fraudsentry-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)
		tx := &domain.Transaction{
			ID:            "tx-001",
			UserID:        "user-001",
			MerchantID:    "merchant-001",
			Amount:        1000.00,
			Source:        "salary",
			PaymentMethod: "credit_card",
			Location:      "New York",
			Timestamp:     now,
			CreatedAt:     now,
			Metadata:      map[string]any{"channel": "api"},
		}

		if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		got, err := repo.GetTransaction(ctx, tenantID, "tx-001")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if got.MerchantID != tx.MerchantID {
			t.Errorf("expected merchant %s, got %s", tx.MerchantID, got.MerchantID)
		}
		if got.Amount != tx.Amount {
			t.Errorf("expected amount %f, got %f", tx.Amount, got.Amount)
		}
		if !got.Timestamp.Equal(now) {
			t.Errorf("expected timestamp %v, got %v", now, got.Timestamp)
		}
		if got.Metadata["channel"] != "api" {
			t.Errorf("expected metadata channel=api, got %v", got.Metadata)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, "other-tenant", "tx-001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for other tenant, got %v", err)
		}
	})

	t.Run("EmptyTenantRejected", func(t *testing.T) {
		err := repo.SaveTransaction(ctx, "", &domain.Transaction{ID: "tx-x"})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.ListRuleConfigs(ctx, ""); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestTransactionStoreQueries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	locations := []string{"Paris", "Lyon", "Nice", "Paris", "Tokyo"}
	for i, loc := range locations {
		tx := &domain.Transaction{
			ID:            fmt.Sprintf("tx-%d", i),
			UserID:        "user-001",
			MerchantID:    "merchant-001",
			Amount:        float64(10 * (i + 1)),
			Source:        "salary",
			PaymentMethod: "credit_card",
			Location:      loc,
			Timestamp:     base.Add(time.Duration(i) * 5 * time.Minute),
			CreatedAt:     base,
		}
		if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}
	}
	other := &domain.Transaction{
		ID: "tx-other", UserID: "user-002", MerchantID: "merchant-002", Amount: 5,
		Source: "salary", PaymentMethod: "credit_card", Location: "Rome",
		Timestamp: base, CreatedAt: base,
	}
	if err := repo.SaveTransaction(ctx, tenantID, other); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}

	t.Run("QueryRecentByUserNewestFirst", func(t *testing.T) {
		records, err := repo.QueryRecentByUser(ctx, tenantID, "user-001", base.Add(time.Hour), 10)
		if err != nil {
			t.Fatalf("QueryRecentByUser failed: %v", err)
		}
		if len(records) != 5 {
			t.Fatalf("expected 5 records, got %d", len(records))
		}
		if records[0].TransactionID != "tx-4" || records[0].Location != "Tokyo" {
			t.Errorf("expected newest tx-4 Tokyo first, got %s %s", records[0].TransactionID, records[0].Location)
		}
	})

	t.Run("QueryRecentByUserBeforeIsExclusive", func(t *testing.T) {
		records, err := repo.QueryRecentByUser(ctx, tenantID, "user-001", base.Add(10*time.Minute), 10)
		if err != nil {
			t.Fatalf("QueryRecentByUser failed: %v", err)
		}
		if len(records) != 2 {
			t.Errorf("expected 2 records strictly before, got %d", len(records))
		}
	})

	t.Run("QueryRecentByMerchantLimit", func(t *testing.T) {
		records, err := repo.QueryRecentByMerchant(ctx, tenantID, "merchant-001", base.Add(time.Hour), 2)
		if err != nil {
			t.Fatalf("QueryRecentByMerchant failed: %v", err)
		}
		if len(records) != 2 {
			t.Errorf("expected 2 records, got %d", len(records))
		}
	})

	t.Run("CountInWindow", func(t *testing.T) {
		end := base.Add(time.Hour)
		tests := []struct {
			name       string
			entityID   string
			entityType domain.EntityType
			since      time.Time
			until      time.Time
			expected   int64
		}{
			{"user all", "user-001", domain.EntityUser, base, end, 5},
			{"user window", "user-001", domain.EntityUser, base.Add(15 * time.Minute), end, 2},
			{"user window ends inclusive", "user-001", domain.EntityUser, base, base.Add(10 * time.Minute), 3},
			{"later records excluded", "user-001", domain.EntityUser, base.Add(-time.Hour), base.Add(-time.Minute), 0},
			{"merchant", "merchant-001", domain.EntityMerchant, base, end, 5},
			{"other merchant", "merchant-002", domain.EntityMerchant, base, end, 1},
			{"unknown user", "ghost", domain.EntityUser, base, end, 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				count, err := repo.CountInWindow(ctx, tenantID, tt.entityID, tt.entityType, tt.since, tt.until)
				if err != nil {
					t.Fatalf("CountInWindow failed: %v", err)
				}
				if count != tt.expected {
					t.Errorf("expected %d, got %d", tt.expected, count)
				}
			})
		}
	})

	t.Run("CountInWindowUnknownEntityType", func(t *testing.T) {
		_, err := repo.CountInWindow(ctx, tenantID, "user-001", domain.EntityType("device"), base, base.Add(time.Hour))
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("CountInWindowInverted", func(t *testing.T) {
		_, err := repo.CountInWindow(ctx, tenantID, "user-001", domain.EntityUser, base, base.Add(-time.Minute))
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestAnalysisPersistence(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	agentScore := 60
	analysis := &domain.Analysis{
		ID:       "an-001",
		TenantID: tenantID,
		TxID:     "tx-001",
		Result: domain.FusedResult{
			ScoringResult: domain.ScoringResult{
				RiskScore:       50,
				RiskTags:        []string{domain.TagHighAmount},
				BehaviorPattern: domain.PatternLargeUnusual,
			},
			RiskLevel:    domain.RiskSuspicious,
			Confidence:   95,
			FusionMethod: "Consensus Fusion",
			Breakdown:    domain.ScoreBreakdown{ScriptedScore: 50, AgentScore: &agentScore, FusedScore: 58},
		},
		Agent:       &domain.AgentAssessment{FraudRiskScore: 60, Backend: "openai"},
		Explanation: "explanation",
		Insight:     "insight",
		Timestamp:   time.Now().UTC(),
		Metadata:    domain.AnalysisMetadata{AgentOutcome: domain.AgentOutcomeAnswered},
	}

	if err := repo.SaveAnalysis(ctx, tenantID, analysis); err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}

	got, err := repo.GetAnalysis(ctx, tenantID, "an-001")
	if err != nil {
		t.Fatalf("GetAnalysis failed: %v", err)
	}
	if got.Result.Breakdown.FusedScore != 58 {
		t.Errorf("expected fused score 58, got %d", got.Result.Breakdown.FusedScore)
	}
	if got.Result.Breakdown.AgentScore == nil || *got.Result.Breakdown.AgentScore != 60 {
		t.Errorf("expected agent score 60, got %v", got.Result.Breakdown.AgentScore)
	}
	if got.Agent == nil || got.Agent.Backend != "openai" {
		t.Errorf("expected agent assessment to round-trip, got %+v", got.Agent)
	}
	if got.Metadata.AgentOutcome != domain.AgentOutcomeAnswered {
		t.Errorf("expected agent outcome answered, got %s", got.Metadata.AgentOutcome)
	}

	if _, err := repo.GetAnalysis(ctx, tenantID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRuleConfigPersistence(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	rule := &domain.RuleConfig{
		ID:         "rule-crypto-night",
		Name:       "Crypto at night",
		Version:    "1.0.0",
		Expression: `payment_method == "crypto" && hour < 5`,
		Score:      25,
		Tags:       []string{domain.TagRiskyPaymentMethod},
		Enabled:    true,
	}
	if err := repo.SaveRuleConfig(ctx, tenantID, rule); err != nil {
		t.Fatalf("SaveRuleConfig failed: %v", err)
	}

	got, err := repo.GetRuleConfig(ctx, tenantID, rule.ID)
	if err != nil {
		t.Fatalf("GetRuleConfig failed: %v", err)
	}
	if got.Score != 25 || len(got.Tags) != 1 || got.Tags[0] != domain.TagRiskyPaymentMethod {
		t.Errorf("unexpected rule round-trip: %+v", got)
	}

	// Upsert the same version
	rule.Score = 30
	if err := repo.SaveRuleConfig(ctx, tenantID, rule); err != nil {
		t.Fatalf("SaveRuleConfig upsert failed: %v", err)
	}

	rules, err := repo.ListRuleConfigs(ctx, tenantID)
	if err != nil {
		t.Fatalf("ListRuleConfigs failed: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	if rules[0].Score != 30 {
		t.Errorf("expected upserted score 30, got %d", rules[0].Score)
	}

	if _, err := repo.GetRuleConfig(ctx, tenantID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRebind(t *testing.T) {
	r := &SQLRepository{driver: "postgres"}
	got := r.rebind("SELECT * FROM t WHERE a = ? AND b = ?")
	if got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Errorf("unexpected rebind: %s", got)
	}

	r = &SQLRepository{driver: "sqlite"}
	if got := r.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite should not rebind, got %s", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		got := postgresDSN(domain.RepositoryConfig{PostgresUser: "sentry"})
		want := "host=localhost port=5432 user=sentry dbname=fraudsentry sslmode=disable"
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})

	t.Run("quotes passwords", func(t *testing.T) {
		got := postgresDSN(domain.RepositoryConfig{
			PostgresHost:     "db",
			PostgresPort:     6432,
			PostgresUser:     "sentry",
			PostgresPassword: `it's a secret`,
			PostgresDB:       "fraud",
			PostgresSSLMode:  "require",
		})
		want := `host=db port=6432 user=sentry password='it\'s a secret' dbname=fraud sslmode=require`
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})
}

func TestSQLiteDSN(t *testing.T) {
	got := sqliteDSN("data/fraud.db")
	if !strings.HasPrefix(got, "file:data/fraud.db?_pragma=journal_mode(WAL)&") {
		t.Errorf("unexpected file DSN: %s", got)
	}

	got = sqliteDSN(":memory:")
	if !strings.HasPrefix(got, "file::memory:?cache=shared&_pragma=") {
		t.Errorf("unexpected memory DSN: %s", got)
	}
}

func TestNewUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "oracle"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
