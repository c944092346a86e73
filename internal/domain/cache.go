package domain

import (
	"context"
	"time"
)

// AnalysisCacheTTL is how long a finished analysis stays readable from cache.
const AnalysisCacheTTL = 10 * time.Minute

// Cache stores tenant-scoped bytes and finished analyses. Keys never cross
// tenants. A miss is reported as a nil value with a nil error.
type Cache interface {
	Get(ctx context.Context, tenantID, key string) ([]byte, error)
	Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, tenantID, key string) error

	// GetAnalysis and SetAnalysis back the read-through path of GET /analyses/{id}.
	GetAnalysis(ctx context.Context, tenantID, analysisID string) (*Analysis, error)
	SetAnalysis(ctx context.Context, tenantID string, analysis *Analysis, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and sizes the cache backend.
type CacheConfig struct {
	// Type is "memory" for the in-process LRU or "redis".
	Type string

	LocalMaxSize int
	LocalTTL     time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase puts the LRU in front of Redis.
	EnableTwoPhase bool
}
