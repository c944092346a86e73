// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opensource-finance/fraudsentry/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// defaultRecentLimit caps history queries when the caller passes no limit.
const defaultRecentLimit = 50

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// pingWithRetry pings the database with exponential backoff until it answers
// or maxElapsed passes. A zero maxElapsed pings once.
func pingWithRetry(db *sql.DB, maxElapsed time.Duration) error {
	if maxElapsed <= 0 {
		return db.Ping()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = maxElapsed

	return backoff.Retry(db.Ping, b)
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions (
			id, tenant_id, user_id, merchant_id, amount, source,
			payment_method, location, timestamp, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.UserID, tx.MerchantID,
		tx.Amount, tx.Source, tx.PaymentMethod, tx.Location,
		toMillis(tx.Timestamp), toMillis(tx.CreatedAt),
		string(metadata),
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, user_id, merchant_id, amount, source,
			   payment_method, location, timestamp, created_at, metadata
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	var tx domain.Transaction
	var ts, createdAt int64
	var metadata sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID).Scan(
		&tx.ID, &tx.TenantID, &tx.UserID, &tx.MerchantID,
		&tx.Amount, &tx.Source, &tx.PaymentMethod, &tx.Location,
		&ts, &createdAt, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.Timestamp = fromMillis(ts)
	tx.CreatedAt = fromMillis(createdAt)
	if metadata.Valid && metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &tx.Metadata)
	}

	return &tx, nil
}

// QueryRecentByUser returns the user's activity strictly before `before`, newest first.
func (r *SQLRepository) QueryRecentByUser(ctx context.Context, tenantID, userID string, before time.Time, limit int) ([]domain.RecentActivityRecord, error) {
	return r.queryRecent(ctx, "user_id", tenantID, userID, before, limit)
}

// QueryRecentByMerchant returns the merchant's activity strictly before `before`, newest first.
func (r *SQLRepository) QueryRecentByMerchant(ctx context.Context, tenantID, merchantID string, before time.Time, limit int) ([]domain.RecentActivityRecord, error) {
	return r.queryRecent(ctx, "merchant_id", tenantID, merchantID, before, limit)
}

// queryRecent is shared by the history queries. column is never user supplied.
func (r *SQLRepository) queryRecent(ctx context.Context, column, tenantID, entityID string, before time.Time, limit int) ([]domain.RecentActivityRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if entityID == "" {
		return nil, fmt.Errorf("%w: entityID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	query := `
		SELECT id, timestamp, location, amount, merchant_id
		FROM transactions
		WHERE tenant_id = ? AND ` + column + ` = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, entityID, toMillis(before), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent activity: %w", err)
	}
	defer rows.Close()

	var records []domain.RecentActivityRecord
	for rows.Next() {
		var rec domain.RecentActivityRecord
		var ts int64
		if err := rows.Scan(&rec.TransactionID, &ts, &rec.Location, &rec.Amount, &rec.MerchantID); err != nil {
			return nil, err
		}
		rec.Timestamp = fromMillis(ts)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// CountInWindow counts the entity's transactions in [since, until].
func (r *SQLRepository) CountInWindow(ctx context.Context, tenantID, entityID string, entityType domain.EntityType, since, until time.Time) (int64, error) {
	if tenantID == "" || entityID == "" {
		return 0, fmt.Errorf("%w: tenantID and entityID are required", ErrInvalidInput)
	}
	if until.Before(since) {
		return 0, fmt.Errorf("%w: window ends before it starts", ErrInvalidInput)
	}

	var column string
	switch entityType {
	case domain.EntityUser:
		column = "user_id"
	case domain.EntityMerchant:
		column = "merchant_id"
	default:
		return 0, fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, entityType)
	}

	query := `
		SELECT COUNT(*) FROM transactions
		WHERE tenant_id = ? AND ` + column + ` = ? AND timestamp >= ? AND timestamp <= ?
	`

	var count int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, entityID, toMillis(since), toMillis(until)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	return count, nil
}

// SaveAnalysis stores an analysis result with tenant isolation.
func (r *SQLRepository) SaveAnalysis(ctx context.Context, tenantID string, analysis *domain.Analysis) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	result, err := json.Marshal(analysis.Result)
	if err != nil {
		return fmt.Errorf("failed to encode analysis result: %w", err)
	}
	metadata, _ := json.Marshal(analysis.Metadata)

	var agent sql.NullString
	if analysis.Agent != nil {
		b, _ := json.Marshal(analysis.Agent)
		agent = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO analyses (
			id, tenant_id, tx_id, risk_score, risk_level, fusion_method,
			timestamp, result, agent, explanation, insight, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		analysis.ID, tenantID, analysis.TxID,
		analysis.Result.Breakdown.FusedScore, string(analysis.Result.RiskLevel), analysis.Result.FusionMethod,
		toMillis(analysis.Timestamp), string(result), agent,
		analysis.Explanation, analysis.Insight, string(metadata),
	)
	return err
}

// GetAnalysis retrieves an analysis by ID with tenant isolation.
func (r *SQLRepository) GetAnalysis(ctx context.Context, tenantID string, analysisID string) (*domain.Analysis, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, tx_id, timestamp, result, agent, explanation, insight, metadata
		FROM analyses
		WHERE tenant_id = ? AND id = ?
	`

	var a domain.Analysis
	var ts int64
	var result, metadata string
	var agent sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, analysisID).Scan(
		&a.ID, &a.TenantID, &a.TxID, &ts, &result, &agent,
		&a.Explanation, &a.Insight, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.Timestamp = fromMillis(ts)
	if err := json.Unmarshal([]byte(result), &a.Result); err != nil {
		return nil, fmt.Errorf("failed to parse analysis result for %s: %w", a.ID, err)
	}
	if agent.Valid && agent.String != "" {
		a.Agent = &domain.AgentAssessment{}
		json.Unmarshal([]byte(agent.String), a.Agent)
	}
	json.Unmarshal([]byte(metadata), &a.Metadata)

	return &a, nil
}

// SaveRuleConfig stores a rule configuration with tenant isolation.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	tags, _ := json.Marshal(rule.Tags)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := toMillis(time.Now())

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, expression, score, tags, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			score = excluded.score,
			tags = excluded.tags,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.Score, string(tags), enabled,
		now, now,
	)
	return err
}

// GetRuleConfig retrieves the latest enabled version of a rule with tenant isolation.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, score, tags, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	cfg, err := scanRuleConfig(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ListRuleConfigs retrieves all active rule configurations for a tenant.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, score, tags, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		cfg, err := scanRuleConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleConfig(row rowScanner) (*domain.RuleConfig, error) {
	var cfg domain.RuleConfig
	var description sql.NullString
	var tags string
	var enabled int

	if err := row.Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &description,
		&cfg.Version, &cfg.Expression, &cfg.Score, &tags, &enabled,
	); err != nil {
		return nil, err
	}

	cfg.Description = description.String
	cfg.Enabled = enabled == 1
	json.Unmarshal([]byte(tags), &cfg.Tags)
	return &cfg, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
