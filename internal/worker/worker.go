// Package worker analyses transactions submitted through the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/opensource-finance/fraudsentry/internal/domain"
)

// Analyzer runs the fraud pipeline for one transaction.
type Analyzer interface {
	Analyze(ctx context.Context, tx *domain.Transaction) (*domain.Analysis, error)
}

// Recorder persists and announces a finished analysis.
type Recorder interface {
	Record(ctx context.Context, tx *domain.Transaction, a *domain.Analysis) error
}

// Worker processes submitted transactions asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	analyzer Analyzer
	recorder Recorder
	logger   *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           *semaphore.Weighted
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all tenants)
	TenantIDs []string

	// WorkerCount bounds concurrent analyses
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, analyzer Analyzer, recorder Recorder, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		analyzer: analyzer,
		recorder: recorder,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to submitted transactions for the given tenants.
func (w *Worker) Start(cfg Config) error {
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 4
	}
	w.sem = semaphore.NewWeighted(int64(workers))

	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.AllTenants}
	}

	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTransactionSubmitted, w.handleMessage)
		if err != nil {
			w.logger.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
	}

	w.logger.Info("workers started",
		"tenant_count", len(tenants),
		"worker_count", workers,
		"topic", domain.TopicTransactionSubmitted,
	)
	return nil
}

// handleMessage hands the message to a bounded pool so the subscription keeps draining.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	if err := w.sem.Acquire(w.ctx, 1); err != nil {
		return err
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.sem.Release(1)
		if err := w.processTransaction(w.ctx, msg); err != nil {
			w.logger.Error("failed to process transaction",
				"tenant_id", msg.TenantID,
				"message_id", msg.ID,
				"error", err,
			)
		}
	}()
	return nil
}

// processTransaction analyses, persists and announces one submitted transaction.
func (w *Worker) processTransaction(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	tx, err := decodeTransaction(msg)
	if err != nil {
		return err
	}

	w.logger.Debug("processing transaction",
		"tx_id", tx.ID,
		"tenant_id", tx.TenantID,
		"message_id", msg.ID,
	)

	a, err := w.analyzer.Analyze(ctx, tx)
	if err != nil {
		return fmt.Errorf("analyze %s: %w", tx.ID, err)
	}

	if w.recorder != nil {
		if err := w.recorder.Record(ctx, tx, a); err != nil {
			return fmt.Errorf("record %s: %w", a.ID, err)
		}
	}

	w.logger.Info("transaction processed",
		"tx_id", tx.ID,
		"tenant_id", tx.TenantID,
		"analysis_id", a.ID,
		"level", a.Result.RiskLevel,
		"score", a.Result.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// decodeTransaction reads a submitted transaction. The envelope's tenant wins.
func decodeTransaction(msg *domain.Message) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		return nil, fmt.Errorf("%w: malformed transaction message: %v", domain.ErrInvalidInput, err)
	}

	tx.TenantID = msg.TenantID
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if tx.Timestamp.IsZero() {
		tx.Timestamp = now
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}

	req := domain.TransactionRequest{
		Amount:        tx.Amount,
		Source:        tx.Source,
		MerchantID:    tx.MerchantID,
		PaymentMethod: tx.PaymentMethod,
		Location:      tx.Location,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Stop unsubscribes and waits for in-flight analyses.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()
	w.cancel()

	w.logger.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
