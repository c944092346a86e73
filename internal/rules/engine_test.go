package rules

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/fraudsentry/internal/domain"
)

func evalInput(tx *domain.Transaction) *EvaluateInput {
	return &EvaluateInput{
		TenantID: "tenant-001",
		Tx:       tx,
		Pattern:  domain.PatternStandardActivity,
	}
}

func baseTx() *domain.Transaction {
	return &domain.Transaction{
		ID:            "tx-001",
		UserID:        "user-001",
		MerchantID:    "merchant-001",
		Amount:        100.0,
		Source:        "salary",
		PaymentMethod: "credit_card",
		Location:      "London",
		Timestamp:     time.Date(2025, 6, 1, 3, 30, 0, 0, time.UTC),
	}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
	if signals := engine.Evaluate(context.Background(), evalInput(baseTx())); signals != nil {
		t.Errorf("expected no signals from empty engine, got %v", signals)
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(5, nil)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "test-rule-001",
		Name:       "Test Rule",
		Expression: "amount > 100.0",
		Score:      10,
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestValidateRule(t *testing.T) {
	engine, _ := NewEngine(5, nil)
	defer engine.Close()

	tests := []struct {
		name    string
		rule    *domain.RuleConfig
		wantErr bool
	}{
		{"nil", nil, true},
		{"invalid CEL", &domain.RuleConfig{ID: "r", Expression: "this is not valid CEL !!!", Score: 1}, true},
		{"unknown variable", &domain.RuleConfig{ID: "r", Expression: "debtor_id == 'x'", Score: 1}, true},
		{"string output", &domain.RuleConfig{ID: "r", Expression: "source", Score: 1}, true},
		{"bool without score", &domain.RuleConfig{ID: "r", Expression: "amount > 1.0"}, true},
		{"missing id", &domain.RuleConfig{Expression: "amount > 1.0", Score: 1}, true},
		{"bool with score", &domain.RuleConfig{ID: "r", Expression: "amount > 1.0", Score: 5}, false},
		{"numeric output", &domain.RuleConfig{ID: "r", Expression: "amount > 1000.0 ? 30 : 0"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.ValidateRule(tt.rule)
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}

	if engine.RulesCount() != 0 {
		t.Errorf("validation must not load rules, got %d", engine.RulesCount())
	}
}

func TestEvaluateBooleanRule(t *testing.T) {
	engine, _ := NewEngine(5, nil)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "crypto-at-night",
		Name:       "Crypto at night",
		Expression: `payment_method == "crypto" && hour < 5`,
		Score:      25,
		Tags:       []string{domain.TagRiskyPaymentMethod},
		Enabled:    true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	ctx := context.Background()

	tx := baseTx()
	if signals := engine.Evaluate(ctx, evalInput(tx)); len(signals) != 0 {
		t.Errorf("expected no match for credit card, got %v", signals)
	}

	tx.PaymentMethod = "crypto"
	signals := engine.Evaluate(ctx, evalInput(tx))
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	if signals[0].Points != 25 {
		t.Errorf("expected 25 points, got %d", signals[0].Points)
	}
	if signals[0].Tags[0] != domain.TagRiskyPaymentMethod {
		t.Errorf("expected risky payment tag, got %v", signals[0].Tags)
	}
	if signals[0].Name != "Crypto at night" {
		t.Errorf("expected rule name, got %s", signals[0].Name)
	}
}

func TestEvaluateNumericRule(t *testing.T) {
	engine, _ := NewEngine(5, nil)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{
		ID:         "velocity-scaled",
		Expression: "user_velocity_count > 2 ? 12.4 : 0.0",
		Enabled:    true,
	})

	input := evalInput(baseTx())
	if signals := engine.Evaluate(context.Background(), input); len(signals) != 0 {
		t.Errorf("expected no match for zero output, got %v", signals)
	}

	input.UserVelocity = domain.VelocityResult{Count: 3}
	signals := engine.Evaluate(context.Background(), input)
	if len(signals) != 1 || signals[0].Points != 12 {
		t.Errorf("expected 12 points, got %v", signals)
	}
}

func TestEvaluateVariables(t *testing.T) {
	engine, _ := NewEngine(5, nil)
	defer engine.Close()

	exprs := map[string]string{
		"amount":   "amount == 100.0",
		"source":   `source == "salary"`,
		"merchant": `merchant_id.startsWith("merchant")`,
		"location": `location == "London"`,
		"user":     `user_id == "user-001"`,
		"pattern":  `behavior_pattern == "Standard Transaction Activity"`,
		"merchvel": "merchant_velocity_count == 7",
		"hour":     "hour == 3",
	}
	for id, expr := range exprs {
		if err := engine.LoadRule(&domain.RuleConfig{ID: id, Expression: expr, Score: 1, Enabled: true}); err != nil {
			t.Fatalf("failed to load %s: %v", id, err)
		}
	}

	input := evalInput(baseTx())
	input.MerchantVelocity = domain.VelocityResult{Count: 7}

	signals := engine.Evaluate(context.Background(), input)
	if len(signals) != len(exprs) {
		t.Fatalf("expected all %d rules to match, got %d", len(exprs), len(signals))
	}
	for i := 1; i < len(signals); i++ {
		if signals[i-1].RuleID > signals[i].RuleID {
			t.Errorf("signals not ordered by rule ID: %s before %s", signals[i-1].RuleID, signals[i].RuleID)
		}
	}
}

func TestEvaluationErrorSkipsRule(t *testing.T) {
	engine, _ := NewEngine(5, nil)
	defer engine.Close()

	// Division by zero fails at evaluation time
	engine.LoadRule(&domain.RuleConfig{ID: "broken", Expression: "user_velocity_count / merchant_velocity_count > 1", Score: 10, Enabled: true})
	engine.LoadRule(&domain.RuleConfig{ID: "ok", Expression: "amount > 0.0", Score: 10, Enabled: true})

	signals := engine.Evaluate(context.Background(), evalInput(baseTx()))
	if len(signals) != 1 || signals[0].RuleID != "ok" {
		t.Errorf("expected only the working rule to match, got %v", signals)
	}
}

func TestParallelExecution(t *testing.T) {
	engine, _ := NewEngine(3, nil)
	defer engine.Close()

	for i := 0; i < 10; i++ {
		rule := &domain.RuleConfig{
			ID:         fmt.Sprintf("rule-%02d", i),
			Name:       fmt.Sprintf("Rule %d", i),
			Expression: "amount > 0.0",
			Score:      1,
			Enabled:    true,
		}
		engine.LoadRule(rule)
	}

	if engine.RulesCount() != 10 {
		t.Fatalf("expected 10 rules, got %d", engine.RulesCount())
	}

	signals := engine.Evaluate(context.Background(), evalInput(baseTx()))
	if len(signals) != 10 {
		t.Errorf("expected 10 signals, got %d", len(signals))
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(5, nil)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{ID: "old", Expression: "amount > 0.0", Score: 1, Enabled: true})

	err := engine.ReloadRules([]*domain.RuleConfig{
		{ID: "b-new", Expression: "amount > 0.0", Score: 1, Enabled: true},
		{ID: "a-new", Expression: "amount > 0.0", Score: 1, Enabled: true},
		{ID: "disabled", Expression: "amount > 0.0", Score: 1, Enabled: false},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	loaded := engine.GetLoadedRules()
	if len(loaded) != 2 {
		t.Fatalf("expected 2 rules after reload, got %d", len(loaded))
	}
	if loaded[0].ID != "a-new" || loaded[1].ID != "b-new" {
		t.Errorf("expected rules ordered by ID, got %s, %s", loaded[0].ID, loaded[1].ID)
	}

	// A bad rule leaves the previous set in place
	err = engine.ReloadRules([]*domain.RuleConfig{{ID: "bad", Expression: "!!!", Score: 1, Enabled: true}})
	if err == nil {
		t.Fatal("expected reload error")
	}
	if engine.RulesCount() != 2 {
		t.Errorf("expected previous rules kept, got %d", engine.RulesCount())
	}
}
