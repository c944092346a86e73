// Package domain defines the core interfaces and types for FraudSentry.
package domain

import (
	"context"
	"time"
)

// EntityType identifies which party a velocity check or history query targets.
type EntityType string

const (
	EntityUser     EntityType = "user"
	EntityMerchant EntityType = "merchant"
)

// TransactionStore is the read-only view of past activity used by the scoring core.
// All methods are tenant scoped.
type TransactionStore interface {
	// QueryRecentByUser returns the user's transactions strictly before the given time,
	// newest first.
	QueryRecentByUser(ctx context.Context, tenantID, userID string, before time.Time, limit int) ([]RecentActivityRecord, error)

	// QueryRecentByMerchant returns the merchant's transactions strictly before the given
	// time, newest first.
	QueryRecentByMerchant(ctx context.Context, tenantID, merchantID string, before time.Time, limit int) ([]RecentActivityRecord, error)

	// CountInWindow counts the entity's transactions with since <= timestamp <= until.
	CountInWindow(ctx context.Context, tenantID, entityID string, entityType EntityType, since, until time.Time) (int64, error)
}

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	TransactionStore

	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)

	// Analysis results
	SaveAnalysis(ctx context.Context, tenantID string, analysis *Analysis) error
	GetAnalysis(ctx context.Context, tenantID string, analysisID string) (*Analysis, error)

	// Custom rule configuration operations
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// ConnectTimeout bounds the exponential backoff used while waiting for the database.
	ConnectTimeout time.Duration
}
