// Package rules provides the rule-based risk scorer and the CEL-Go custom rule overlay.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/fraudsentry/internal/domain"
)

// Engine evaluates operator-defined CEL rules against a transaction.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
	logger        *slog.Logger
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new custom rule engine.
func NewEngine(maxWorkers int, logger *slog.Logger) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("source", cel.StringType),
		cel.Variable("merchant_id", cel.StringType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("behavior_pattern", cel.StringType),
		cel.Variable("user_velocity_count", cel.IntType),
		cel.Variable("merchant_velocity_count", cel.IntType),
		cel.Variable("hour", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
		logger:        logger,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateInput holds the facts exposed to custom rules.
type EvaluateInput struct {
	TenantID         string
	Tx               *domain.Transaction
	Pattern          domain.BehaviorPattern
	UserVelocity     domain.VelocityResult
	MerchantVelocity domain.VelocityResult
}

// Evaluate runs all loaded rules in parallel and returns the matches ordered by rule ID.
// Rules that fail to evaluate are logged and skipped.
func (e *Engine) Evaluate(ctx context.Context, input *EvaluateInput) []domain.RuleSignal {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 || input == nil || input.Tx == nil {
		return nil
	}

	tx := input.Tx
	activation := map[string]any{
		"amount":                  tx.Amount,
		"source":                  tx.Source,
		"merchant_id":             tx.MerchantID,
		"payment_method":          tx.PaymentMethod,
		"location":                tx.Location,
		"user_id":                 tx.UserID,
		"behavior_pattern":        string(input.Pattern),
		"user_velocity_count":     input.UserVelocity.Count,
		"merchant_velocity_count": input.MerchantVelocity.Count,
		"hour":                    int64(tx.Timestamp.UTC().Hour()),
	}

	// Parallel evaluation using worker pool pattern
	matches := make([]*domain.RuleSignal, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if ctx.Err() != nil {
				return
			}
			matches[idx] = e.evaluateRule(r, activation, input.TenantID)
		}(i, rule)
	}

	wg.Wait()

	var signals []domain.RuleSignal
	for _, m := range matches {
		if m != nil {
			signals = append(signals, *m)
		}
	}
	sort.Slice(signals, func(i, j int) bool { return signals[i].RuleID < signals[j].RuleID })
	return signals
}

// evaluateRule returns a signal when the rule matches, nil otherwise.
func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any, tenantID string) *domain.RuleSignal {
	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		e.logger.Warn("custom rule evaluation failed",
			"tenant_id", tenantID,
			"rule_id", rule.Config.ID,
			"error", err,
		)
		return nil
	}

	points, matched := toPoints(out, rule.Config.Score)
	if !matched {
		return nil
	}

	return &domain.RuleSignal{
		RuleID: rule.Config.ID,
		Name:   rule.Config.Name,
		Points: points,
		Tags:   rule.Config.Tags,
	}
}

// toPoints converts a CEL value to score points.
// A bool result awards the configured score; a numeric result is the score itself.
func toPoints(val ref.Val, configured int) (int, bool) {
	switch v := val.(type) {
	case types.Bool:
		return configured, bool(v)
	case types.Double:
		p := int(math.Round(float64(v)))
		return p, p > 0
	case types.Int:
		return int(v), v > 0
	default:
		return 0, false
	}
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rule configurations ordered by ID.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, fmt.Errorf("rule id is required")
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}
	if outputType == cel.BoolType && cfg.Score <= 0 {
		return nil, fmt.Errorf("rule %s: boolean rules need a positive score", cfg.ID)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
